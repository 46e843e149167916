package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func gradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*3) % 256)})
		}
	}
	return img
}

func TestPageSize(t *testing.T) {
	tests := []struct {
		name    string
		r       Renderer
		w, h    int
		spacing [2]float64
		wantW   float64
		wantH   float64
	}{
		{"unit spacing", NewRenderer(), 512, 512, [2]float64{1, 1}, 5.12, 5.12},
		{"anisotropic", NewRenderer(), 200, 100, [2]float64{0.5, 2}, 1, 2},
		{"custom dpi", Renderer{DPI: 50}, 100, 100, [2]float64{1, 1}, 2, 2},
		{"zero dpi falls back", Renderer{}, 100, 100, [2]float64{1, 1}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := tt.r.PageSize(tt.w, tt.h, tt.spacing)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("PageSize = (%g, %g), want (%g, %g)", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestRasterize_Size(t *testing.T) {
	img := gradient(64, 32)

	// Default resolution uses the row count as DPI: 0.32in * 32 = 10px
	r := NewRenderer()
	out := r.Rasterize(img, [2]float64{0.5, 1})
	if out.Bounds().Dx() != 10 || out.Bounds().Dy() != 10 {
		t.Errorf("default raster = %v, want 10x10", out.Bounds())
	}

	r.SaveDPI = 200
	out = r.Rasterize(img, [2]float64{1, 1})
	if out.Bounds().Dx() != 128 || out.Bounds().Dy() != 64 {
		t.Errorf("200 dpi raster = %v, want 128x64", out.Bounds())
	}
}

func TestRasterize_Deterministic(t *testing.T) {
	r := Renderer{DPI: DefaultDPI, SaveDPI: 150, Autoscale: true}
	img := gradient(40, 40)

	a := r.Rasterize(img, [2]float64{1, 1})
	b := r.Rasterize(img, [2]float64{1, 1})
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("rasterizing the same slice twice gave different pixels")
	}
}

func TestAutoscale(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 1))
	img.Pix = []uint8{10, 15, 20}

	got := autoscale(img)
	want := []uint8{0, 128, 255}
	for i := range want {
		if got.Pix[i] != want[i] {
			t.Errorf("pixel %d = %d, want %d", i, got.Pix[i], want[i])
		}
	}

	flat := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range flat.Pix {
		flat.Pix[i] = 90
	}
	for i, v := range autoscale(flat).Pix {
		if v != 0 {
			t.Errorf("constant slice pixel %d = %d, want 0", i, v)
		}
	}
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		filename string
		want     string
		wantErr  bool
	}{
		{"out_ct_10.pdf", "pdf", false},
		{"out_ct_10.PDF", "pdf", false},
		{"dir.v2/out_overlay_3.svg", "svg", false},
		{"a.png", "png", false},
		{"a.jpg", "jpg", false},
		{"a.jpeg", "jpg", false},
		{"a.tif", "tiff", false},
		{"a.tiff", "tiff", false},
		{"a.eps", "", true},
		{"a.bmp", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := FormatOf(tt.filename)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownFormat) {
					t.Errorf("error = %v, want ErrUnknownFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("FormatOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_PNG(t *testing.T) {
	dir := t.TempDir()
	r := Renderer{DPI: DefaultDPI, SaveDPI: 200, Autoscale: true}
	img := gradient(64, 32)

	first := filepath.Join(dir, "a.png")
	second := filepath.Join(dir, "b.png")
	for _, p := range []string{first, second} {
		if err := r.Render(img, [2]float64{1, 1}, p); err != nil {
			t.Fatalf("Render %s: %v", p, err)
		}
	}

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("PNG output is not deterministic")
	}

	decoded, err := png.Decode(bytes.NewReader(a))
	if err != nil {
		t.Fatalf("decode PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 128 || decoded.Bounds().Dy() != 64 {
		t.Errorf("PNG size = %v, want 128x64", decoded.Bounds())
	}
	t.Logf("✓ PNG page %v, %d bytes", decoded.Bounds(), len(a))
}

func TestRender_VectorFormats(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 200
	}

	for _, tt := range []struct {
		ext   string
		magic string
	}{
		{"pdf", "%PDF"},
		{"svg", "<?xml"},
	} {
		t.Run(tt.ext, func(t *testing.T) {
			path := filepath.Join(dir, "page."+tt.ext)
			if err := r.RenderLabeled(img, [2]float64{0.8, 0.8}, path, "z=4"); err != nil {
				t.Fatalf("Render: %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.HasPrefix(data, []byte(tt.magic)) {
				t.Errorf("%s output starts with %q, want %q", tt.ext, data[:min(len(data), 8)], tt.magic)
			}
		})
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.eps")
	err := NewRenderer().Render(gradient(4, 4), [2]float64{1, 1}, path)
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("error = %v, want ErrUnknownFormat", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("file created for unsupported format")
	}
}

func TestAnnotate(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	before := append([]uint8(nil), img.Pix...)

	Annotate(img, "")
	if !bytes.Equal(before, img.Pix) {
		t.Error("empty annotation changed the image")
	}

	Annotate(img, "z=42")
	lit := 0
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			if img.RGBAAt(x, y).R > 0 {
				lit++
			}
		}
	}
	if lit == 0 {
		t.Error("annotation drew no text pixels")
	}
	// Text sits in the top-left corner
	if img.RGBAAt(199, 99) != (color.RGBA{0, 0, 0, 255}) {
		t.Error("bottom-right corner changed")
	}
}
