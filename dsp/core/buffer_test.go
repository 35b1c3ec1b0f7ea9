package core

import "testing"

func TestEnsureLenReuse(t *testing.T) {
	buf := make([]float64, 4, 8)

	out := EnsureLen(buf, 6)
	if len(out) != 6 {
		t.Fatalf("len = %d, want 6", len(out))
	}

	if cap(out) != cap(buf) {
		t.Fatalf("cap = %d, want %d", cap(out), cap(buf))
	}
}

func TestZeroAndFill(t *testing.T) {
	buf := []float64{1, 2, 3}
	Zero(buf)

	for i, v := range buf {
		if v != 0 {
			t.Fatalf("buf[%d] = %v, want 0", i, v)
		}
	}

	Fill(buf, 2.5)
	for i, v := range buf {
		if v != 2.5 {
			t.Fatalf("buf[%d] = %v, want 2.5", i, v)
		}
	}
}

func TestClone2DIsDeep(t *testing.T) {
	src := [][]float64{{1, 2}, {3}}
	dst := Clone2D(src)
	dst[0][0] = 99

	if src[0][0] != 1 {
		t.Fatal("Clone2D shares backing arrays with its input")
	}
	if len(dst[1]) != 1 || dst[1][0] != 3 {
		t.Fatalf("unexpected clone: %#v", dst)
	}
}
