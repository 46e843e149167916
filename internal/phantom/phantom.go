// Package phantom generates a deterministic synthetic CT volume with a
// two-label segmentation, for demos and tests.
package phantom

import (
	"fmt"
	"math"
	randv2 "math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrsinham/segslice/internal/volume"
)

// Hounsfield values of the phantom tissues.
const (
	huAir    = -1000.0
	huLung   = -850.0
	huFat    = -100.0
	huTissue = 40.0
	huLiver  = 60.0
	huKidney = 120.0
	huBone   = 700.0
)

// Labels written into the mask.
const (
	LabelLiver  uint16 = 1
	LabelKidney uint16 = 2
)

// Output layouts accepted by Write.
const (
	FormatDICOM     = "dicom"
	FormatNIfTI     = "nifti"
	FormatMetaImage = "mha"
	FormatNRRD      = "nrrd"
)

// Formats lists the layouts accepted by Write.
func Formats() []string {
	return []string{FormatDICOM, FormatNIfTI, FormatMetaImage, FormatNRRD}
}

// Options controls the generated volume.
type Options struct {
	Dims    volume.Dims
	Spacing volume.Spacing
	Seed    int64
	// MaskStart and MaskEnd bound the labelled slices (inclusive). When both are
	// zero the labels cover the middle 60% of the volume.
	MaskStart, MaskEnd int
	// Noise is the peak-to-peak amplitude of the added noise in HU.
	Noise float64
}

// DefaultOptions returns a 128x128x60 volume at 0.8x0.8x2.5 mm.
func DefaultOptions() Options {
	return Options{
		Dims:    volume.Dims{Nx: 128, Ny: 128, Nz: 60},
		Spacing: volume.Spacing{0.8, 0.8, 2.5},
		Seed:    42,
		Noise:   40,
	}
}

// Phantom is a generated CT volume and its label mask.
type Phantom struct {
	CT   *volume.Grid[float64]
	Mask *volume.Grid[uint16]
	seed int64
}

// ellipse is an in-plane ellipse in normalized slice coordinates, where the
// slice spans [-1, 1] on both axes.
type ellipse struct {
	cx, cy, rx, ry float64
}

func (e ellipse) contains(u, v, scale float64) bool {
	if scale <= 0 {
		return false
	}
	dx := (u - e.cx) / (e.rx * scale)
	dy := (v - e.cy) / (e.ry * scale)
	return dx*dx+dy*dy <= 1
}

var (
	body      = ellipse{0, 0, 0.85, 0.65}
	fatInner  = ellipse{0, 0, 0.78, 0.58}
	lungLeft  = ellipse{-0.42, -0.15, 0.22, 0.3}
	lungRight = ellipse{0.42, -0.15, 0.22, 0.3}
	spine     = ellipse{0, 0.42, 0.1, 0.1}
	liver     = ellipse{-0.3, 0.05, 0.28, 0.22}
	kidney    = ellipse{0.35, 0.2, 0.12, 0.16}
)

func (o *Options) normalize() error {
	d := DefaultOptions()
	if o.Dims == (volume.Dims{}) {
		o.Dims = d.Dims
	}
	if o.Dims.Nx <= 0 || o.Dims.Ny <= 0 || o.Dims.Nz <= 0 {
		return fmt.Errorf("phantom dimensions must be positive, got %s", o.Dims)
	}
	if o.Spacing == (volume.Spacing{}) {
		o.Spacing = d.Spacing
	}
	if o.MaskStart == 0 && o.MaskEnd == 0 {
		o.MaskStart = o.Dims.Nz / 5
		o.MaskEnd = o.Dims.Nz - 1 - o.Dims.Nz/5
	}
	if o.MaskStart < 0 || o.MaskEnd >= o.Dims.Nz || o.MaskStart > o.MaskEnd {
		return fmt.Errorf("mask slices [%d, %d] outside volume of %d slices", o.MaskStart, o.MaskEnd, o.Dims.Nz)
	}
	if o.Noise < 0 {
		return fmt.Errorf("noise must be >= 0, got %g", o.Noise)
	}
	return nil
}

// organScale shrinks the labelled organs toward the ends of the mask extent.
// It stays positive on every slice of [start, end] so both end slices carry
// labels, and is zero outside.
func organScale(z, start, end int) float64 {
	if z < start || z > end {
		return 0
	}
	half := float64(end-start)/2 + 1
	t := (float64(z) - float64(start+end)/2) / half
	return math.Max(0.25, math.Sqrt(1-t*t))
}

// Generate builds the phantom. The same options always give the same volume.
func Generate(opts Options) (*Phantom, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	ct := volume.NewGrid[float64](opts.Dims, opts.Spacing)
	mask := volume.NewGridLike[uint16](ct)
	ct.Origin = [3]float64{
		-float64(opts.Dims.Nx) * opts.Spacing[0] / 2,
		-float64(opts.Dims.Ny) * opts.Spacing[1] / 2,
		0,
	}
	mask.Origin = ct.Origin

	nx, ny := opts.Dims.Nx, opts.Dims.Ny
	for z := 0; z < opts.Dims.Nz; z++ {
		// Create deterministic RNG for this specific slice
		sliceSeed := uint64(opts.Seed) + uint64(z)
		rng := randv2.New(randv2.NewPCG(sliceSeed, sliceSeed))
		scale := organScale(z, opts.MaskStart, opts.MaskEnd)

		for y := 0; y < ny; y++ {
			v := (float64(y)+0.5)/float64(ny)*2 - 1
			for x := 0; x < nx; x++ {
				u := (float64(x)+0.5)/float64(nx)*2 - 1

				hu := huAir
				var label uint16
				switch {
				case !body.contains(u, v, 1):
				case !fatInner.contains(u, v, 1):
					hu = huFat
				case spine.contains(u, v, 1):
					hu = huBone
				case kidney.contains(u, v, scale):
					hu, label = huKidney, LabelKidney
				case liver.contains(u, v, scale):
					hu, label = huLiver, LabelLiver
				case lungLeft.contains(u, v, 1), lungRight.contains(u, v, 1):
					hu = huLung
				default:
					hu = huTissue
				}

				if hu != huAir {
					largeNoise := (rng.Float64() - 0.5) * opts.Noise
					mediumNoise := (rng.Float64() - 0.5) * opts.Noise * 0.5
					fineNoise := (rng.Float64() - 0.5) * opts.Noise * 0.25
					hu += largeNoise + mediumNoise + fineNoise
				}

				ct.Set(x, y, z, math.Round(hu))
				mask.Set(x, y, z, label)
			}
		}
	}

	return &Phantom{CT: ct, Mask: mask, seed: opts.Seed}, nil
}

// Write stores the phantom under dir and returns the CT and mask paths.
// dicom writes the CT as a series in dir/ct, nifti writes dir/ct.nii.gz; both
// put the mask in dir/mask.nii.gz. mha writes dir/ct.mha and dir/mask.mha,
// nrrd writes dir/ct.nrrd and dir/mask.seg.nrrd.
func (p *Phantom) Write(dir, format string) (ctPath, maskPath string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("create output directory: %w", err)
	}

	labels := volume.Convert(p.Mask, func(l uint16) float64 { return float64(l) })
	maskPath = filepath.Join(dir, "mask.nii.gz")
	writeMask := func() error {
		return volume.WriteNIfTI(maskPath, labels, volume.NIfTIUint8)
	}

	switch format {
	case FormatDICOM, "":
		ctPath = filepath.Join(dir, "ct")
		_, err = volume.WriteDICOMSeries(ctPath, p.CT, volume.SeriesOptions{
			Key:               fmt.Sprintf("segslice-phantom-%d", p.seed),
			PatientName:       "PHANTOM^SEGSLICE",
			PatientID:         fmt.Sprintf("PHANTOM%d", p.seed),
			SeriesDescription: "Synthetic abdomen phantom",
			RescaleIntercept:  -1024,
			WindowCenter:      40,
			WindowWidth:       400,
		})
	case FormatNIfTI:
		ctPath = filepath.Join(dir, "ct.nii.gz")
		err = volume.WriteNIfTI(ctPath, p.CT, volume.NIfTIInt16)
	case FormatMetaImage:
		ctPath = filepath.Join(dir, "ct.mha")
		maskPath = filepath.Join(dir, "mask.mha")
		err = volume.WriteMetaImage(ctPath, p.CT, true)
		writeMask = func() error { return volume.WriteMetaImage(maskPath, labels, true) }
	case FormatNRRD:
		ctPath = filepath.Join(dir, "ct.nrrd")
		maskPath = filepath.Join(dir, "mask.seg.nrrd")
		err = volume.WriteNRRD(ctPath, p.CT)
		writeMask = func() error { return volume.WriteNRRD(maskPath, labels) }
	default:
		return "", "", fmt.Errorf("unknown format %q (valid: %s)", format, strings.Join(Formats(), ", "))
	}
	if err != nil {
		return "", "", fmt.Errorf("write CT: %w", err)
	}

	if err := writeMask(); err != nil {
		return "", "", fmt.Errorf("write mask: %w", err)
	}
	return ctPath, maskPath, nil
}
