package volume

import (
	"errors"
	"testing"
)

func TestGrid_IndexAndSlice(t *testing.T) {
	g := NewGrid[int](Dims{Nx: 3, Ny: 2, Nz: 4}, Spacing{1, 1, 2})
	if len(g.Data) != 24 {
		t.Fatalf("len(Data) = %d, want 24", len(g.Data))
	}

	g.Set(2, 1, 3, 7)
	if got := g.Index(2, 1, 3); got != 23 {
		t.Errorf("Index(2,1,3) = %d, want 23", got)
	}
	if got := g.At(2, 1, 3); got != 7 {
		t.Errorf("At(2,1,3) = %d, want 7", got)
	}

	s := g.Slice(3)
	if len(s) != 6 {
		t.Fatalf("len(Slice(3)) = %d, want 6", len(s))
	}
	if s[5] != 7 {
		t.Errorf("Slice(3)[5] = %d, want 7", s[5])
	}

	// Slice is a view: writes go through to the grid
	s[0] = 9
	if got := g.At(0, 0, 3); got != 9 {
		t.Errorf("write through slice view: At(0,0,3) = %d, want 9", got)
	}
}

func TestCheckSameShape(t *testing.T) {
	a := NewGrid[float64](Dims{Nx: 4, Ny: 4, Nz: 2}, Spacing{1, 1, 1})
	b := NewGrid[uint16](Dims{Nx: 4, Ny: 4, Nz: 2}, Spacing{0.5, 0.5, 3})
	c := NewGrid[uint16](Dims{Nx: 4, Ny: 4, Nz: 3}, Spacing{1, 1, 1})

	if err := CheckSameShape(a, b); err != nil {
		t.Errorf("same dims, different spacing: unexpected error %v", err)
	}
	err := CheckSameShape(a, c)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("different dims: error = %v, want ErrShapeMismatch", err)
	}
}

func TestConvert_KeepsGeometry(t *testing.T) {
	src := NewGrid[float64](Dims{Nx: 2, Ny: 2, Nz: 1}, Spacing{0.7, 0.8, 2.5})
	src.Origin = [3]float64{-10, -20, 5}
	copy(src.Data, []float64{1, 2, 3, 4})

	dst := Convert(src, func(v float64) int { return int(v * 10) })
	if dst.Dims != src.Dims || dst.Spacing != src.Spacing || dst.Origin != src.Origin {
		t.Errorf("geometry changed: %+v vs %+v", dst, src)
	}
	want := []int{10, 20, 30, 40}
	for i, v := range dst.Data {
		if v != want[i] {
			t.Errorf("Data[%d] = %d, want %d", i, v, want[i])
		}
	}
}
