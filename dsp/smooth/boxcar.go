package smooth

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"
)

// directThreshold is the widest window handled by running sums.
const directThreshold = 64

// Boxcar writes the moving average of src over width samples into dst,
// with mirror-reflected edges. Windows wider than 64 samples are
// evaluated by FFT convolution.
func Boxcar(dst, src []float64, width int) error {
	if err := check(dst, src, width); err != nil {
		return err
	}

	if len(src) == 0 {
		return nil
	}

	if width <= directThreshold {
		boxcarDirect(dst, src, width)
		return nil
	}

	return boxcarFFT(dst, src, width)
}

func boxcarDirect(dst, src []float64, width int) {
	n := len(src)
	lo := -width / 2
	hi := (width - 1) / 2

	var sum float64
	for k := lo; k <= hi; k++ {
		sum += src[reflect(k, n)]
	}

	inv := 1 / float64(width)
	dst[0] = sum * inv

	for i := 1; i < n; i++ {
		sum += src[reflect(i+hi, n)] - src[reflect(i-1+lo, n)]
		dst[i] = sum * inv
	}
}

// boxcarFFT pads src by reflection and convolves with a normalized
// rectangle in a single FFT block.
func boxcarFFT(dst, src []float64, width int) error {
	n := len(src)
	pad := width
	padded := n + 2*pad
	size := nextPowerOf2(padded + width - 1)

	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return fmt.Errorf("smooth: failed to create FFT plan: %w", err)
	}

	signal := make([]complex128, size)
	for i := range padded {
		signal[i] = complex(src[reflect(i-pad, n)], 0)
	}

	kernel := make([]complex128, size)
	for i := range width {
		kernel[i] = complex(1, 0)
	}

	if err := plan.Forward(signal, signal); err != nil {
		return fmt.Errorf("smooth: forward FFT failed: %w", err)
	}

	if err := plan.Forward(kernel, kernel); err != nil {
		return fmt.Errorf("smooth: forward FFT failed: %w", err)
	}

	for i := range signal {
		signal[i] *= kernel[i]
	}

	if err := plan.Inverse(signal, signal); err != nil {
		return fmt.Errorf("smooth: inverse FFT failed: %w", err)
	}

	// full[m] sums padded[m-width+1 .. m]; the window for output i ends
	// at padded index i+pad+(width-1)/2.
	offset := pad + (width-1)/2
	for i := range n {
		dst[i] = real(signal[i+offset])
	}

	vecmath.ScaleBlock(dst, dst, 1/float64(width))

	return nil
}

// nextPowerOf2 returns the next power of 2 >= n.
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p *= 2
	}
	return p
}
