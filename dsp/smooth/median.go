package smooth

import "sort"

// Median writes the sliding median of src into dst.
//
// For even widths the upper median (rank w/2 of the sorted window) is
// returned, matching scipy.ndimage.median_filter. The window is kept
// sorted incrementally, so the cost is O(len(src)·width).
func Median(dst, src []float64, width int) error {
	if err := check(dst, src, width); err != nil {
		return err
	}

	n := len(src)
	if n == 0 {
		return nil
	}

	lo := -width / 2
	hi := (width - 1) / 2

	window := make([]float64, 0, width)
	for k := lo; k <= hi; k++ {
		window = append(window, src[reflect(k, n)])
	}
	sort.Float64s(window)

	rank := width / 2
	dst[0] = window[rank]

	for i := 1; i < n; i++ {
		out := src[reflect(i-1+lo, n)]
		in := src[reflect(i+hi, n)]

		if out != in {
			window = removeSorted(window, out)
			window = insertSorted(window, in)
		}

		dst[i] = window[rank]
	}

	return nil
}

func removeSorted(s []float64, v float64) []float64 {
	i := sort.SearchFloat64s(s, v)
	copy(s[i:], s[i+1:])
	return s[:len(s)-1]
}

func insertSorted(s []float64, v float64) []float64 {
	i := sort.SearchFloat64s(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
