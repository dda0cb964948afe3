package tensor

import (
	"errors"
	"testing"
)

func TestSplitMergeRoundTrip(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		seq, width, heads int
	}{
		{1, 8, 2},
		{5, 12, 3},
		{7, 64, 8},
		{3, 6, 6},
		{4, 10, 1},
	} {
		x := NewMat(tc.seq, tc.width)
		FillRand(&x, int64(tc.width), 4)

		heads, err := SplitHeads(x, tc.heads)
		if err != nil {
			t.Fatalf("SplitHeads: %v", err)
		}
		if len(heads) != tc.heads || heads[0].R != tc.seq || heads[0].C != tc.width/tc.heads {
			t.Fatalf("unexpected head layout: %d heads of %v", len(heads), heads[0].Shape())
		}
		back, err := MergeHeads(heads)
		if err != nil {
			t.Fatalf("MergeHeads: %v", err)
		}
		if back.R != x.R || back.C != x.C {
			t.Fatalf("shape %v, want %v", back.Shape(), x.Shape())
		}
		for i := range x.Data {
			if back.Data[i] != x.Data[i] {
				t.Fatalf("element %d: %v != %v", i, back.Data[i], x.Data[i])
			}
		}
	}
}

func TestSplitHeadsLayout(t *testing.T) {
	t.Parallel()
	x, err := NewMatFromData(2, 4, []float32{0, 1, 2, 3, 4, 5, 6, 7})
	if err != nil {
		t.Fatal(err)
	}
	heads, err := SplitHeads(x, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float32{{0, 1, 4, 5}, {2, 3, 6, 7}}
	for h := range heads {
		for i, v := range heads[h].Data {
			if v != want[h][i] {
				t.Fatalf("head %d = %v, want %v", h, heads[h].Data, want[h])
			}
		}
	}
}

func TestSplitHeadsIndivisible(t *testing.T) {
	t.Parallel()
	if _, err := SplitHeads(NewMat(2, 10), 3); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := MergeHeads([]Mat{NewMat(2, 2), NewMat(3, 2)}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
