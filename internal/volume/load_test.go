package volume

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	dir := t.TempDir()
	series := filepath.Join(dir, "series")
	paths, err := WriteDICOMSeries(series, ctTestVolume(), SeriesOptions{Key: "detect", RescaleIntercept: -1024})
	if err != nil {
		t.Fatal(err)
	}
	noExt := filepath.Join(dir, "slice_without_extension")
	raw, _ := os.ReadFile(paths[0])
	if err := os.WriteFile(noExt, raw, 0644); err != nil {
		t.Fatal(err)
	}
	nii := filepath.Join(dir, "ct.nii.gz")
	if err := WriteNIfTI(nii, ctTestVolume(), NIfTIInt16); err != nil {
		t.Fatal(err)
	}
	mha := filepath.Join(dir, "ct.mha")
	if err := WriteMetaImage(mha, ctTestVolume(), true); err != nil {
		t.Fatal(err)
	}
	nrrd := filepath.Join(dir, "mask.seg.nrrd")
	if err := WriteNRRD(nrrd, ctTestVolume()); err != nil {
		t.Fatal(err)
	}
	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		want    Format
		wantErr error
	}{
		{"directory", series, FormatDICOMSeries, nil},
		{"dcm file", paths[0], FormatDICOMFile, nil},
		{"DICM preamble", noExt, FormatDICOMFile, nil},
		{"nifti", nii, FormatNIfTI, nil},
		{"metaimage", mha, FormatMetaImage, nil},
		{"nrrd", nrrd, FormatNRRD, nil},
		{"unknown", text, "", ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectFormat = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := DetectFormat(filepath.Join(dir, "missing.nii")); err == nil {
		t.Error("missing path: expected error")
	}
}

func TestLoad_SeriesAndNIfTIAgree(t *testing.T) {
	dir := t.TempDir()
	src := ctTestVolume()
	series := filepath.Join(dir, "series")
	if _, err := WriteDICOMSeries(series, src, SeriesOptions{Key: "agree", RescaleIntercept: -1024}); err != nil {
		t.Fatal(err)
	}
	nii := filepath.Join(dir, "ct.nii")
	if err := WriteNIfTI(nii, src, NIfTIInt16); err != nil {
		t.Fatal(err)
	}

	a, err := Load(series)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Load(nii)
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckSameShape(a, b); err != nil {
		t.Fatal(err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("voxel %d: series %g, nifti %g", i, a.Data[i], b.Data[i])
		}
	}
}

func TestLoad_AllFormatsAgree(t *testing.T) {
	dir := t.TempDir()
	src := ctTestVolume()

	writers := map[string]func(string) error{
		"ct.nii.gz": func(p string) error { return WriteNIfTI(p, src, NIfTIInt16) },
		"ct.mha":    func(p string) error { return WriteMetaImage(p, src, true) },
		"meta.mhd":  func(p string) error { return WriteMetaImage(p, src, false) },
		"ct.nrrd":   func(p string) error { return WriteNRRD(p, src) },
		"nrrd.nhdr": func(p string) error { return WriteNRRD(p, src) },
	}
	for name, write := range writers {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := write(path); err != nil {
				t.Fatalf("write: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			assertSameGrid(t, got, src)
		})
	}
}

func TestToLabels(t *testing.T) {
	g := NewGrid[float64](Dims{Nx: 5, Ny: 1, Nz: 1}, Spacing{1, 1, 1})
	copy(g.Data, []float64{-3, 0.4, 1.6, 2, 70000})

	got := ToLabels(g)
	want := []uint16{0, 0, 2, 2, math.MaxUint16}
	for i, v := range got.Data {
		if v != want[i] {
			t.Errorf("label %d = %d, want %d", i, v, want[i])
		}
	}
}

func TestComputeStats(t *testing.T) {
	g := NewGrid[float64](Dims{Nx: 4, Ny: 1, Nz: 1}, Spacing{1, 1, 1})
	copy(g.Data, []float64{-1000, 0, 0, 1000})

	s := ComputeStats(g)
	if s.Min != -1000 || s.Max != 1000 || s.Mean != 0 {
		t.Errorf("stats = %+v, want min -1000 max 1000 mean 0", s)
	}
	// Sample standard deviation: sqrt(2e6 / 3)
	if want := math.Sqrt(2e6 / 3); math.Abs(s.Std-want) > 1e-9 {
		t.Errorf("Std = %g, want %g", s.Std, want)
	}
}

func TestCountLabels(t *testing.T) {
	g := NewGrid[uint16](Dims{Nx: 6, Ny: 1, Nz: 1}, Spacing{1, 1, 1})
	copy(g.Data, []uint16{0, 2, 1, 2, 0, 2})

	got := CountLabels(g)
	want := []LabelCount{{Label: 1, Voxels: 1}, {Label: 2, Voxels: 3}}
	if len(got) != len(want) {
		t.Fatalf("CountLabels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CountLabels[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
