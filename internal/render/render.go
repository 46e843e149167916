// Package render rasterizes 2D slices onto borderless pages sized from their
// physical extent and writes them as PDF, SVG or raster image files.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgpdf"
	"gonum.org/v1/plot/vg/vgsvg"
)

// DefaultDPI converts physical extent to page size: a slice of n samples at
// spacing s is n*s/DefaultDPI inches wide.
const DefaultDPI = 100

// ErrUnknownFormat is returned for output extensions no canvas backend handles.
var ErrUnknownFormat = errors.New("unknown output format")

// Renderer turns slice images into page files.
type Renderer struct {
	// DPI divides the physical extent (samples × spacing) to get the page size in inches.
	DPI float64
	// SaveDPI is the raster resolution of the page. Zero uses the slice's row count.
	SaveDPI float64
	// Autoscale stretches grayscale slices to their own min/max before display.
	Autoscale bool
}

// NewRenderer returns a renderer with the default page scale and display autoscale.
func NewRenderer() Renderer {
	return Renderer{DPI: DefaultDPI, Autoscale: true}
}

// PageSize returns the page width and height in inches for a w×h slice.
func (r Renderer) PageSize(w, h int, spacing [2]float64) (float64, float64) {
	dpi := r.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return float64(w) * spacing[0] / dpi, float64(h) * spacing[1] / dpi
}

// rasterDPI returns the raster resolution used for a slice with the given rows.
func (r Renderer) rasterDPI(rows int) float64 {
	if r.SaveDPI > 0 {
		return r.SaveDPI
	}
	return float64(rows)
}

// Rasterize resamples img with bicubic (Catmull-Rom) interpolation to the
// pixel size of its page.
func (r Renderer) Rasterize(img image.Image, spacing [2]float64) *image.RGBA {
	b := img.Bounds()
	wIn, hIn := r.PageSize(b.Dx(), b.Dy(), spacing)
	dpi := r.rasterDPI(b.Dy())
	pw := max(1, int(math.Round(wIn*dpi)))
	ph := max(1, int(math.Round(hIn*dpi)))

	src := img
	if g, ok := img.(*image.Gray); ok && r.Autoscale {
		src = autoscale(g)
	}

	dst := image.NewRGBA(image.Rect(0, 0, pw, ph))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

// autoscale maps the slice's [min, max] onto [0, 255]. A constant slice is black.
func autoscale(g *image.Gray) *image.Gray {
	b := g.Bounds()
	lo, hi := uint8(255), uint8(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := g.GrayAt(x, y).Y
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}

	out := image.NewGray(b)
	if hi <= lo {
		return out
	}
	span := float64(hi - lo)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := g.GrayAt(x, y).Y
			out.SetGray(x, y, color.Gray{Y: uint8(math.Round(float64(v-lo) * 255 / span))})
		}
	}
	return out
}

// Render writes img as a borderless page to filename. The format comes from
// the file extension.
func (r Renderer) Render(img image.Image, spacing [2]float64, filename string) error {
	return r.RenderLabeled(img, spacing, filename, "")
}

// RenderLabeled is Render with label drawn in the top-left corner of the page.
// An empty label draws nothing.
func (r Renderer) RenderLabeled(img image.Image, spacing [2]float64, filename, label string) error {
	format, err := FormatOf(filename)
	if err != nil {
		return err
	}

	raster := r.Rasterize(img, spacing)
	if label != "" {
		Annotate(raster, label)
	}

	b := img.Bounds()
	wIn, hIn := r.PageSize(b.Dx(), b.Dy(), spacing)
	w, h := vg.Length(wIn)*vg.Inch, vg.Length(hIn)*vg.Inch

	c, err := newCanvas(format, w, h, r.rasterDPI(b.Dy()))
	if err != nil {
		return err
	}
	c.DrawImage(vg.Rectangle{Max: vg.Point{X: w, Y: h}}, raster)

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}
	if _, err := c.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return f.Close()
}

// FormatOf returns the canonical output format for filename's extension.
func FormatOf(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "pdf", "svg", "png":
		return ext, nil
	case "jpg", "jpeg":
		return "jpg", nil
	case "tif", "tiff":
		return "tiff", nil
	}
	return "", fmt.Errorf("%w: %q (supported: pdf, svg, png, jpg, tiff)", ErrUnknownFormat, ext)
}

// newCanvas creates the backend canvas for format. Raster backends use dpi so
// the page keeps the resampled raster's pixel size.
func newCanvas(format string, w, h vg.Length, dpi float64) (vg.CanvasWriterTo, error) {
	switch format {
	case "pdf":
		return vgpdf.New(w, h), nil
	case "svg":
		return vgsvg.New(w, h), nil
	}
	c := vgimg.NewWith(vgimg.UseWH(w, h), vgimg.UseDPI(max(1, int(math.Round(dpi)))))
	switch format {
	case "png":
		return vgimg.PngCanvas{Canvas: c}, nil
	case "jpg":
		return vgimg.JpegCanvas{Canvas: c}, nil
	case "tiff":
		return vgimg.TiffCanvas{Canvas: c}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
