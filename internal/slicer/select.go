// Package slicer picks the axial slices to review and drives rendering of
// every (slice, variant) pair.
package slicer

import (
	"errors"
	"fmt"
	"math"

	"github.com/mrsinham/segslice/internal/volume"
	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultNumSlices is how many slices are picked across the mask extent.
	DefaultNumSlices = 20
	// DefaultInset is how many slices are skipped at each end of the mask extent.
	DefaultInset = 5
)

var (
	// ErrEmptyMask is returned when the mask has no nonzero voxel.
	ErrEmptyMask = errors.New("mask has no labelled voxels")
	// ErrEmptyRange is returned when the inset mask extent contains no slice.
	ErrEmptyRange = errors.New("inset slice range is empty")
)

// MaskExtent returns the lowest and highest axial slice holding a nonzero label.
func MaskExtent(mask *volume.Grid[uint16]) (zmin, zmax int, err error) {
	zmin, zmax = -1, -1
	for z := 0; z < mask.Dims.Nz; z++ {
		for _, v := range mask.Slice(z) {
			if v != 0 {
				if zmin < 0 {
					zmin = z
				}
				zmax = z
				break
			}
		}
	}
	if zmin < 0 {
		return 0, 0, ErrEmptyMask
	}
	return zmin, zmax, nil
}

// InsetRange shrinks [zmin, zmax] by inset slices at both ends. The result may
// be empty (lo > hi) for narrow extents.
func InsetRange(zmin, zmax, inset int) (lo, hi int) {
	return zmin + inset, zmax - inset
}

// SelectSlices returns up to count strictly increasing slice indices evenly
// spaced over [zmin+inset, zmax-inset], rounded to the nearest integer (ties
// to even). When the range holds fewer than count integers, all of them are
// returned.
func SelectSlices(zmin, zmax, inset, count int) ([]int, error) {
	if count <= 0 {
		return nil, fmt.Errorf("slice count must be > 0, got %d", count)
	}
	lo, hi := InsetRange(zmin, zmax, inset)
	if hi < lo {
		return nil, fmt.Errorf("%w: mask spans slices %d-%d, inset by %d gives [%d, %d]",
			ErrEmptyRange, zmin, zmax, inset, lo, hi)
	}

	available := hi - lo + 1
	n := min(count, available)
	if n == 1 {
		return []int{lo}, nil
	}

	positions := floats.Span(make([]float64, n), float64(lo), float64(hi))
	slices := make([]int, 0, n)
	for _, p := range positions {
		z := int(math.RoundToEven(p))
		if len(slices) > 0 && z <= slices[len(slices)-1] {
			continue
		}
		slices = append(slices, z)
	}
	return slices, nil
}
