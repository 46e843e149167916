// Package compose turns a CT volume and its label mask into the three display
// volumes segslice renders: windowed grayscale, contour overlay and region
// overlay.
package compose

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/mrsinham/segslice/internal/imaging"
	"github.com/mrsinham/segslice/internal/volume"
)

// Variant names one of the rendered display volumes.
type Variant string

const (
	VariantCT      Variant = "ct"
	VariantContour Variant = "contour"
	VariantOverlay Variant = "overlay"
)

// AllVariants returns every variant in output order.
func AllVariants() []Variant {
	return []Variant{VariantCT, VariantContour, VariantOverlay}
}

// ParseVariants parses a comma-separated variant list such as "ct,overlay".
func ParseVariants(input string) ([]Variant, error) {
	if strings.TrimSpace(input) == "" {
		return AllVariants(), nil
	}
	valid := make(map[Variant]bool)
	for _, v := range AllVariants() {
		valid[v] = true
	}
	seen := make(map[Variant]bool)
	var result []Variant
	for _, p := range strings.Split(input, ",") {
		v := Variant(strings.ToLower(strings.TrimSpace(p)))
		if !valid[v] {
			return nil, fmt.Errorf("unknown variant %q, valid variants: %v", p, AllVariants())
		}
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result, nil
}

// Settings controls windowing and the label overlays.
type Settings struct {
	Window   imaging.Window
	Colormap imaging.Colormap
	// Background is the label value left uncolored.
	Background     uint16
	ContourOpacity float64
	OverlayOpacity float64
	// ContourThickness and DilationRadius are in-plane radii (x, y) in voxels.
	ContourThickness [2]int
	DilationRadius   [2]int
}

// DefaultSettings returns the review defaults: window [-1000, 170], purple/cyan
// colormap, opaque 3-voxel contours around a 3-voxel dilation, and a 50%
// region overlay.
func DefaultSettings() Settings {
	return Settings{
		Window:           imaging.DefaultWindow,
		Colormap:         imaging.DefaultColormap,
		Background:       0,
		ContourOpacity:   1,
		OverlayOpacity:   0.5,
		ContourThickness: [2]int{3, 3},
		DilationRadius:   [2]int{3, 3},
	}
}

// Validate checks the settings for values the compositor cannot use.
func (s Settings) Validate() error {
	if err := s.Window.Validate(); err != nil {
		return err
	}
	if len(s.Colormap) == 0 {
		return fmt.Errorf("colormap must contain at least one color")
	}
	if s.ContourOpacity < 0 || s.ContourOpacity > 1 {
		return fmt.Errorf("contour opacity must be 0-1, got %g", s.ContourOpacity)
	}
	if s.OverlayOpacity < 0 || s.OverlayOpacity > 1 {
		return fmt.Errorf("overlay opacity must be 0-1, got %g", s.OverlayOpacity)
	}
	for i := 0; i < 2; i++ {
		if s.ContourThickness[i] < 0 || s.DilationRadius[i] < 0 {
			return fmt.Errorf("contour thickness and dilation radius must be >= 0")
		}
	}
	return nil
}

// Composite holds the co-registered display volumes.
type Composite struct {
	Gray    *volume.Grid[uint8]
	Contour *volume.Grid[imaging.RGB]
	Overlay *volume.Grid[imaging.RGB]
	Labels  *volume.Grid[uint16]
}

// Build windows ct and computes the contour and region overlays for every
// axial slice. ct and mask must share dimensions.
func Build(ct *volume.Grid[float64], mask *volume.Grid[uint16], s Settings) (*Composite, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if err := volume.CheckSameShape(ct, mask); err != nil {
		return nil, err
	}

	gray := imaging.WindowVolume(ct, s.Window)
	c := &Composite{
		Gray:    gray,
		Contour: volume.NewGridLike[imaging.RGB](gray),
		Overlay: volume.NewGridLike[imaging.RGB](gray),
		Labels:  mask,
	}

	w, h := gray.Dims.Nx, gray.Dims.Ny
	for z := 0; z < gray.Dims.Nz; z++ {
		g, l := gray.Slice(z), mask.Slice(z)
		copy(c.Contour.Slice(z), ContourSlice(g, l, w, h, s))
		copy(c.Overlay.Slice(z), OverlaySlice(g, l, s))
	}
	return c, nil
}

// Load reads the CT and mask volumes and builds their composite.
func Load(ctPath, maskPath string, s Settings) (*Composite, *volume.Grid[float64], error) {
	ct, err := volume.Load(ctPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load CT volume: %w", err)
	}
	mask, err := volume.LoadLabels(maskPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load mask volume: %w", err)
	}
	c, err := Build(ct, mask, s)
	if err != nil {
		return nil, nil, fmt.Errorf("compose volumes: %w", err)
	}
	return c, ct, nil
}

// Spacing returns the in-plane (x, y) voxel spacing of the composite.
func (c *Composite) Spacing() [2]float64 {
	return [2]float64{c.Gray.Spacing[0], c.Gray.Spacing[1]}
}

// SliceImage returns axial slice z of variant v. The CT variant is an
// *image.Gray, the overlays are *image.RGBA.
func (c *Composite) SliceImage(v Variant, z int) (image.Image, error) {
	if z < 0 || z >= c.Gray.Dims.Nz {
		return nil, fmt.Errorf("slice %d out of range [0, %d)", z, c.Gray.Dims.Nz)
	}
	w, h := c.Gray.Dims.Nx, c.Gray.Dims.Ny
	switch v {
	case VariantCT:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+w], c.Gray.Slice(z)[y*w:(y+1)*w])
		}
		return img, nil
	case VariantContour:
		return rgbImage(c.Contour.Slice(z), w, h), nil
	case VariantOverlay:
		return rgbImage(c.Overlay.Slice(z), w, h), nil
	default:
		return nil, fmt.Errorf("unknown variant %q", v)
	}
}

func rgbImage(samples []imaging.RGB, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := samples[y*w+x]
			img.SetRGBA(x, y, color.RGBA{p[0], p[1], p[2], 255})
		}
	}
	return img
}
