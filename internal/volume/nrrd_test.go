package volume

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// writeNRRDFile writes an attached NRRD: header fields, a blank line, then payload.
func writeNRRDFile(t *testing.T, path string, fields []string, payload []byte) {
	t.Helper()
	header := "NRRD0004\n# written by a test\n" + strings.Join(fields, "\n") + "\n\n"
	if err := os.WriteFile(path, append([]byte(header), payload...), 0644); err != nil {
		t.Fatal(err)
	}
}

func int16LE(values ...int16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestReadNRRD_RawSpaceDirections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ct.nrrd")
	values := []int16{-1000, -200, 0, 40, 170, 900, 12, -3}
	writeNRRDFile(t, path, []string{
		"type: short",
		"dimension: 3",
		"space: left-posterior-superior",
		"sizes: 2 2 2",
		"space directions: (0.8,0,0) (0,0.9,0) (0,0,2.5)",
		"kinds: domain domain domain",
		"endian: little",
		"encoding: raw",
		"space origin: (-10,-20,5.5)",
	}, int16LE(values...))

	g, err := ReadNRRD(path)
	if err != nil {
		t.Fatalf("ReadNRRD: %v", err)
	}
	if g.Dims != (Dims{Nx: 2, Ny: 2, Nz: 2}) {
		t.Errorf("Dims = %s, want 2x2x2", g.Dims)
	}
	if g.Spacing != (Spacing{0.8, 0.9, 2.5}) {
		t.Errorf("Spacing = %v", g.Spacing)
	}
	if g.Origin != [3]float64{-10, -20, 5.5} {
		t.Errorf("Origin = %v", g.Origin)
	}
	for i, v := range values {
		if g.Data[i] != float64(v) {
			t.Errorf("Data[%d] = %g, want %d", i, g.Data[i], v)
		}
	}
}

func TestReadNRRD_Encodings(t *testing.T) {
	labels := []byte{0, 1, 1, 2, 0, 2}

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(labels); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	bigEndian := make([]byte, 2*len(labels))
	for i, v := range labels {
		binary.BigEndian.PutUint16(bigEndian[i*2:], uint16(v))
	}

	tests := []struct {
		name    string
		fields  []string
		payload []byte
	}{
		{"gzip", []string{"type: uint8", "dimension: 3", "sizes: 3 2 1", "encoding: gzip", "spacings: 1 1 3"}, gz.Bytes()},
		{"ascii", []string{"type: int", "dimension: 3", "sizes: 3 2 1", "encoding: ascii", "spacings: 1 1 3"}, []byte("0 1 1\n2 0 2\n")},
		{"big endian", []string{"type: unsigned short", "dimension: 3", "sizes: 3 2 1", "encoding: raw", "endian: big", "spacings: 1 1 3"}, bigEndian},
		{"byte skip from end", []string{"type: uchar", "dimension: 3", "sizes: 3 2 1", "encoding: raw", "byte skip: -1", "spacings: 1 1 3"}, append([]byte("junk"), labels...)},
		// 3D Slicer writes segmentations with a leading list axis
		{"segmentation layer axis", []string{
			"type: unsigned char",
			"dimension: 4",
			"sizes: 1 3 2 1",
			"kinds: list domain domain domain",
			"space directions: none (1,0,0) (0,1,0) (0,0,3)",
			"encoding: gzip",
			"Segment0_ID:=Segment_1",
		}, gz.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "mask.seg.nrrd")
			writeNRRDFile(t, path, tt.fields, tt.payload)

			g, err := LoadLabels(path)
			if err != nil {
				t.Fatalf("LoadLabels: %v", err)
			}
			if g.Dims != (Dims{Nx: 3, Ny: 2, Nz: 1}) {
				t.Errorf("Dims = %s, want 3x2x1", g.Dims)
			}
			if g.Spacing[2] != 3 {
				t.Errorf("z spacing = %g, want 3", g.Spacing[2])
			}
			for i, v := range labels {
				if g.Data[i] != uint16(v) {
					t.Errorf("label %d = %d, want %d", i, g.Data[i], v)
				}
			}
		})
	}
}

func TestReadNRRD_Detached(t *testing.T) {
	dir := t.TempDir()
	data := append([]byte("comment line\n"), int16LE(5, 6, 7, 8)...)
	if err := os.WriteFile(filepath.Join(dir, "ct.raw"), data, 0644); err != nil {
		t.Fatal(err)
	}
	header := strings.Join([]string{
		"NRRD0004",
		"type: int16",
		"dimension: 2",
		"sizes: 2 2",
		"encoding: raw",
		"line skip: 1",
		"data file: ct.raw",
	}, "\n") + "\n"
	path := filepath.Join(dir, "ct.nhdr")
	if err := os.WriteFile(path, []byte(header), 0644); err != nil {
		t.Fatal(err)
	}

	g, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if g.Dims != (Dims{Nx: 2, Ny: 2, Nz: 1}) {
		t.Errorf("Dims = %s, want 2x2x1", g.Dims)
	}
	for i, want := range []float64{5, 6, 7, 8} {
		if g.Data[i] != want {
			t.Errorf("Data[%d] = %g, want %g", i, g.Data[i], want)
		}
	}
}

func TestReadNRRD_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		fields  []string
		payload []byte
		wantErr string
	}{
		{"unknown type", []string{"type: block", "dimension: 1", "sizes: 4", "encoding: raw"}, make([]byte, 4), "unsupported type"},
		{"dimension mismatch", []string{"type: uchar", "dimension: 3", "sizes: 2 2", "encoding: raw"}, make([]byte, 4), "does not match"},
		{"multi-component", []string{"type: uchar", "dimension: 4", "sizes: 3 2 2 1", "kinds: list domain domain domain", "encoding: raw"}, make([]byte, 12), "multi-component"},
		{"truncated", []string{"type: short", "dimension: 3", "sizes: 2 2 2", "encoding: raw"}, make([]byte, 9), "truncated"},
		{"bad gzip", []string{"type: uchar", "dimension: 3", "sizes: 2 2 2", "encoding: gzip"}, []byte("not gzip"), "gzip"},
		{"bad origin", []string{"type: uchar", "dimension: 3", "sizes: 1 1 1", "encoding: raw", "space origin: 1,2,3"}, []byte{0}, "space origin"},
		{"missing data file", []string{"type: uchar", "dimension: 3", "sizes: 1 1 1", "encoding: raw", "data file: absent.raw"}, nil, "read data file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".nrrd")
			writeNRRDFile(t, path, tt.fields, tt.payload)
			_, err := ReadNRRD(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}

	bzip := filepath.Join(dir, "bzip.nrrd")
	writeNRRDFile(t, bzip, []string{"type: uchar", "dimension: 3", "sizes: 1 1 1", "encoding: bzip2"}, []byte{0})
	if _, err := ReadNRRD(bzip); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("bzip2: error = %v, want ErrUnsupportedFormat", err)
	}

	noMagic := filepath.Join(dir, "plain.nrrd")
	if err := os.WriteFile(noMagic, []byte("type: uchar\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadNRRD(noMagic); err == nil || !strings.Contains(err.Error(), "magic") {
		t.Errorf("missing magic: error = %v", err)
	}
}

func TestWriteNRRD_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		src      func() *Grid[float64]
		wantType string
	}{
		{"attached gzip", "ct.nrrd", ctTestVolume, "type: int16"},
		{"detached raw", "ct.nhdr", ctTestVolume, "type: int16"},
		{"segmentation", "mask.seg.nrrd", func() *Grid[float64] {
			g := NewGrid[float64](Dims{Nx: 4, Ny: 3, Nz: 2}, Spacing{1, 1, 2})
			for i := range g.Data {
				g.Data[i] = float64(i % 3)
			}
			return g
		}, "type: uint8"},
		{"fractional", "frac.nrrd", testVolumeFraction, "type: float"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src()
			path := filepath.Join(t.TempDir(), tt.file)
			if err := WriteNRRD(path, src); err != nil {
				t.Fatalf("WriteNRRD: %v", err)
			}
			header, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Contains(header, []byte(tt.wantType+"\n")) {
				t.Errorf("header does not declare %q", tt.wantType)
			}

			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			assertSameGrid(t, got, src)
		})
	}
}
