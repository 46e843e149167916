package volume

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// writeMetaFile writes header lines followed by payload.
func writeMetaFile(t *testing.T, path string, header []string, payload []byte) {
	t.Helper()
	content := append([]byte(strings.Join(header, "\n")+"\n"), payload...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestReadMetaImage_Local(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.mha")
	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	writeMetaFile(t, path, []string{
		"ObjectType = Image",
		"NDims = 3",
		"BinaryData = True",
		"BinaryDataByteOrderMSB = False",
		"CompressedData = False",
		"TransformMatrix = 1 0 0 0 1 0 0 0 1",
		"Offset = -10 -20 5.5",
		"ElementSpacing = 0.8 0.9 2.5",
		"DimSize = 3 2 2",
		"ElementType = MET_UCHAR",
		"ElementDataFile = LOCAL",
	}, payload)

	g, err := ReadMetaImage(path)
	if err != nil {
		t.Fatalf("ReadMetaImage: %v", err)
	}
	if g.Dims != (Dims{Nx: 3, Ny: 2, Nz: 2}) {
		t.Errorf("Dims = %s, want 3x2x2", g.Dims)
	}
	if g.Spacing != (Spacing{0.8, 0.9, 2.5}) {
		t.Errorf("Spacing = %v", g.Spacing)
	}
	if g.Origin != [3]float64{-10, -20, 5.5} {
		t.Errorf("Origin = %v", g.Origin)
	}
	for i, b := range payload {
		if g.Data[i] != float64(b) {
			t.Fatalf("Data[%d] = %g, want %d", i, g.Data[i], b)
		}
	}
	if g.At(2, 1, 1) != 11 {
		t.Errorf("At(2,1,1) = %g, want 11", g.At(2, 1, 1))
	}
}

func TestReadMetaImage_ExternalBigEndian(t *testing.T) {
	dir := t.TempDir()
	values := []int16{-1000, -500, 0, 40, 170, 1200}
	raw := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(raw[i*2:], uint16(v))
	}
	// 16 bytes of leading junk skipped by HeaderSize
	data := append(bytes.Repeat([]byte{0xff}, 16), raw...)
	if err := os.WriteFile(filepath.Join(dir, "ct.raw"), data, 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "ct.mhd")
	writeMetaFile(t, path, []string{
		"ObjectType = Image",
		"NDims = 3",
		"ElementByteOrderMSB = True",
		"DimSize = 3 2 1",
		"ElementSize = 0.5 0.5 1",
		"HeaderSize = 16",
		"ElementType = MET_SHORT",
		"ElementDataFile = ct.raw",
	}, nil)

	g, err := ReadMetaImage(path)
	if err != nil {
		t.Fatalf("ReadMetaImage: %v", err)
	}
	if g.Spacing != (Spacing{0.5, 0.5, 1}) {
		t.Errorf("Spacing = %v, want ElementSize", g.Spacing)
	}
	for i, v := range values {
		if g.Data[i] != float64(v) {
			t.Errorf("Data[%d] = %g, want %d", i, g.Data[i], v)
		}
	}
}

func TestReadMetaImage_Compressed(t *testing.T) {
	values := []float32{-1000.5, 0, 0.25, 170, 3e3, -2}
	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "ct.mha")
	writeMetaFile(t, path, []string{
		"ObjectType = Image",
		"NDims = 2",
		"CompressedData = True",
		"DimSize = 2 3",
		"ElementType = MET_FLOAT",
		"ElementDataFile = LOCAL",
	}, buf.Bytes())

	g, err := ReadMetaImage(path)
	if err != nil {
		t.Fatalf("ReadMetaImage: %v", err)
	}
	if g.Dims != (Dims{Nx: 2, Ny: 3, Nz: 1}) {
		t.Errorf("Dims = %s, want 2x3x1", g.Dims)
	}
	for i, v := range values {
		if g.Data[i] != float64(v) {
			t.Errorf("Data[%d] = %g, want %g", i, g.Data[i], v)
		}
	}
}

func TestReadMetaImage_Errors(t *testing.T) {
	dir := t.TempDir()
	base := func(elementType, dataFile string, dimSize string) []string {
		return []string{
			"ObjectType = Image",
			"NDims = 3",
			"DimSize = " + dimSize,
			"ElementType = " + elementType,
			"ElementDataFile = " + dataFile,
		}
	}

	tests := []struct {
		name    string
		header  []string
		payload []byte
		wantErr string
	}{
		{"no data file", []string{"ObjectType = Image", "NDims = 3"}, nil, "ElementDataFile"},
		{"malformed line", []string{"ObjectType Image"}, nil, "malformed"},
		{"unknown element type", base("MET_STRING", "LOCAL", "2 2 2"), make([]byte, 8), "ElementType"},
		{"truncated", base("MET_SHORT", "LOCAL", "2 2 2"), make([]byte, 10), "truncated"},
		{"multi-channel", append([]string{"ElementNumberOfChannels = 3"}, base("MET_UCHAR", "LOCAL", "2 2 1")...), make([]byte, 12), "channel"},
		{"four dimensions", base("MET_UCHAR", "LOCAL", "2 2 2 3"), make([]byte, 24), "not a 3D volume"},
		{"missing raw file", base("MET_UCHAR", "absent.raw", "2 2 2"), nil, "read data file"},
		{"not an image", []string{"ObjectType = Mesh", "DimSize = 1 1 1", "ElementType = MET_UCHAR", "ElementDataFile = LOCAL"}, []byte{0}, "not an image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".mha")
			writeMetaFile(t, path, tt.header, tt.payload)
			_, err := ReadMetaImage(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}

	list := filepath.Join(dir, "list.mhd")
	writeMetaFile(t, list, base("MET_UCHAR", "LIST", "2 2 2"), nil)
	if _, err := ReadMetaImage(list); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("LIST data file: error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestWriteMetaImage_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		compress bool
		src      func() *Grid[float64]
		wantType string
	}{
		{"ct local", "ct.mha", false, ctTestVolume, "MET_SHORT"},
		{"ct compressed", "ct.mha", true, ctTestVolume, "MET_SHORT"},
		{"ct external raw", "ct.mhd", false, ctTestVolume, "MET_SHORT"},
		{"labels", "mask.mha", true, func() *Grid[float64] {
			g := NewGrid[float64](Dims{Nx: 4, Ny: 3, Nz: 2}, Spacing{1, 1, 2})
			for i := range g.Data {
				g.Data[i] = float64(i % 3)
			}
			return g
		}, "MET_UCHAR"},
		{"fractional", "frac.mha", false, testVolumeFraction, "MET_FLOAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src()
			path := filepath.Join(t.TempDir(), tt.file)
			if err := WriteMetaImage(path, src, tt.compress); err != nil {
				t.Fatalf("WriteMetaImage: %v", err)
			}

			header, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Contains(header, []byte("ElementType = "+tt.wantType+"\n")) {
				t.Errorf("header does not declare %s", tt.wantType)
			}

			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			assertSameGrid(t, got, src)
		})
	}
}

// testVolumeFraction is a volume holding non-integer values exactly
// representable as float32.
func testVolumeFraction() *Grid[float64] {
	g := NewGrid[float64](Dims{Nx: 3, Ny: 3, Nz: 2}, Spacing{0.5, 0.5, 1.25})
	for i := range g.Data {
		g.Data[i] = float64(i)*0.25 - 1
	}
	return g
}

// assertSameGrid fails unless got has the geometry and voxels of want.
func assertSameGrid(t *testing.T, got, want *Grid[float64]) {
	t.Helper()
	if got.Dims != want.Dims {
		t.Fatalf("Dims = %s, want %s", got.Dims, want.Dims)
	}
	for i := 0; i < 3; i++ {
		if math.Abs(got.Spacing[i]-want.Spacing[i]) > 1e-6 {
			t.Errorf("Spacing[%d] = %g, want %g", i, got.Spacing[i], want.Spacing[i])
		}
		if math.Abs(got.Origin[i]-want.Origin[i]) > 1e-6 {
			t.Errorf("Origin[%d] = %g, want %g", i, got.Origin[i], want.Origin[i])
		}
	}
	for i := range want.Data {
		if got.Data[i] != want.Data[i] {
			t.Fatalf("Data[%d] = %g, want %g", i, got.Data[i], want.Data[i])
		}
	}
}
