// Package volume provides 3D voxel grids and readers/writers for the volume
// formats segslice accepts (DICOM, NIfTI-1, MetaImage and NRRD).
package volume

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch is returned when two volumes expected to share a grid do not.
	ErrShapeMismatch = errors.New("volume grids do not match")
	// ErrUnsupportedFormat is returned when a path is not a readable volume layout.
	ErrUnsupportedFormat = errors.New("unsupported volume format")
	// ErrNoSlices is returned when a DICOM source holds no image slices.
	ErrNoSlices = errors.New("no image slices found")
)

// Dims holds the number of voxels along x, y and z. z is the axial (stacking) axis.
type Dims struct {
	Nx, Ny, Nz int
}

// Len returns the total number of voxels.
func (d Dims) Len() int {
	return d.Nx * d.Ny * d.Nz
}

// SliceLen returns the number of voxels in one axial slice.
func (d Dims) SliceLen() int {
	return d.Nx * d.Ny
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.Nx, d.Ny, d.Nz)
}

// Spacing is the physical voxel size in mm along x, y and z.
type Spacing [3]float64

// Grid is a dense 3D array stored z-major: index = z*Ny*Nx + y*Nx + x.
type Grid[T any] struct {
	Dims    Dims
	Spacing Spacing
	Origin  [3]float64
	Data    []T
}

// NewGrid allocates a zeroed grid.
func NewGrid[T any](dims Dims, spacing Spacing) *Grid[T] {
	return &Grid[T]{
		Dims:    dims,
		Spacing: spacing,
		Data:    make([]T, dims.Len()),
	}
}

// NewGridLike allocates a zeroed grid with the same geometry as ref.
func NewGridLike[T, U any](ref *Grid[U]) *Grid[T] {
	g := NewGrid[T](ref.Dims, ref.Spacing)
	g.Origin = ref.Origin
	return g
}

// Index returns the flat index of voxel (x, y, z).
func (g *Grid[T]) Index(x, y, z int) int {
	return (z*g.Dims.Ny+y)*g.Dims.Nx + x
}

// At returns the voxel at (x, y, z).
func (g *Grid[T]) At(x, y, z int) T {
	return g.Data[g.Index(x, y, z)]
}

// Set stores v at (x, y, z).
func (g *Grid[T]) Set(x, y, z int, v T) {
	g.Data[g.Index(x, y, z)] = v
}

// Slice returns axial slice z as a row-major view (length Nx*Ny) sharing storage
// with the grid.
func (g *Grid[T]) Slice(z int) []T {
	n := g.Dims.SliceLen()
	return g.Data[z*n : (z+1)*n : (z+1)*n]
}

// CheckSameShape reports ErrShapeMismatch when a and b do not have identical dims.
func CheckSameShape[T, U any](a *Grid[T], b *Grid[U]) error {
	if a.Dims != b.Dims {
		return fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, a.Dims, b.Dims)
	}
	return nil
}

// Convert maps every voxel of src through fn into a new grid with the same geometry.
func Convert[T, U any](src *Grid[T], fn func(T) U) *Grid[U] {
	dst := NewGridLike[U](src)
	for i, v := range src.Data {
		dst.Data[i] = fn(v)
	}
	return dst
}
