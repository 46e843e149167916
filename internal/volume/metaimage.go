package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
)

var metaSampleTypes = map[string]sampleType{
	"MET_CHAR":       sampleInt8,
	"MET_UCHAR":      sampleUint8,
	"MET_SHORT":      sampleInt16,
	"MET_USHORT":     sampleUint16,
	"MET_INT":        sampleInt32,
	"MET_UINT":       sampleUint32,
	"MET_LONG":       sampleInt32,
	"MET_ULONG":      sampleUint32,
	"MET_LONG_LONG":  sampleInt64,
	"MET_ULONG_LONG": sampleUint64,
	"MET_FLOAT":      sampleFloat32,
	"MET_DOUBLE":     sampleFloat64,
}

// isMetaImagePath reports whether path names a .mha or .mhd file.
func isMetaImagePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".mha" || ext == ".mhd"
}

// metaHeader holds the "Key = Value" lines of a MetaImage header, keyed by
// lowercase key.
type metaHeader map[string]string

func (h metaHeader) ints(key string) ([]int, error) {
	fields := strings.Fields(h[key])
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("metaimage: invalid %s %q", key, h[key])
		}
		out[i] = v
	}
	return out, nil
}

func (h metaHeader) floats(key string) ([]float64, error) {
	fields := strings.Fields(h[key])
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("metaimage: invalid %s %q", key, h[key])
		}
		out[i] = v
	}
	return out, nil
}

func (h metaHeader) flag(key string) bool {
	v := strings.ToLower(h[key])
	return v == "true" || v == "1"
}

// parseMetaHeader reads header lines up to and including ElementDataFile and
// returns the offset of the first byte after it.
func parseMetaHeader(raw []byte) (metaHeader, int, error) {
	h := make(metaHeader)
	pos := 0
	for pos < len(raw) {
		end := bytes.IndexByte(raw[pos:], '\n')
		next := len(raw)
		if end >= 0 {
			next = pos + end + 1
		}
		line := strings.TrimSpace(string(raw[pos:next]))
		pos = next
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, 0, fmt.Errorf("metaimage: malformed header line %q", line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		h[key] = strings.TrimSpace(value)
		if key == "elementdatafile" {
			return h, pos, nil
		}
	}
	return nil, 0, fmt.Errorf("metaimage: header has no ElementDataFile")
}

// ReadMetaImage reads an ITK MetaImage volume: a single .mha file with
// ElementDataFile = LOCAL, or a .mhd header naming a raw data file next to it.
// CompressedData (zlib) and either byte order are supported.
func ReadMetaImage(path string) (*Grid[float64], error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h, dataStart, err := parseMetaHeader(raw)
	if err != nil {
		return nil, err
	}

	if ot, ok := h["objecttype"]; ok && !strings.EqualFold(ot, "Image") {
		return nil, fmt.Errorf("metaimage: object type %q is not an image", ot)
	}
	if ch, ok := h["elementnumberofchannels"]; ok && ch != "1" {
		return nil, fmt.Errorf("metaimage: %s-channel images are not supported", ch)
	}

	sizes, err := h.ints("dimsize")
	if err != nil {
		return nil, err
	}
	dims, err := spatialDims(sizes)
	if err != nil {
		return nil, fmt.Errorf("metaimage: %w", err)
	}

	st, ok := metaSampleTypes[strings.ToUpper(h["elementtype"])]
	if !ok {
		return nil, fmt.Errorf("metaimage: unsupported ElementType %q", h["elementtype"])
	}

	spacing := Spacing{1, 1, 1}
	spacingKey := "elementspacing"
	if _, ok := h[spacingKey]; !ok {
		spacingKey = "elementsize"
	}
	if _, ok := h[spacingKey]; ok {
		values, err := h.floats(spacingKey)
		if err != nil {
			return nil, err
		}
		for i := 0; i < len(values) && i < 3; i++ {
			if values[i] > 0 {
				spacing[i] = values[i]
			}
		}
	}

	g := NewGrid[float64](dims, spacing)
	for _, key := range []string{"offset", "origin", "position"} {
		if _, ok := h[key]; !ok {
			continue
		}
		values, err := h.floats(key)
		if err != nil {
			return nil, err
		}
		copy(g.Origin[:], values)
		break
	}

	var order binary.ByteOrder = binary.LittleEndian
	if h.flag("binarydatabyteordermsb") || h.flag("elementbyteordermsb") {
		order = binary.BigEndian
	}

	data, err := metaImageData(path, raw[dataStart:], h)
	if err != nil {
		return nil, err
	}
	need := dims.Len() * st.size()
	if h.flag("compresseddata") {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("metaimage: open zlib stream: %w", err)
		}
		data, err = io.ReadAll(zr)
		_ = zr.Close()
		if err != nil {
			return nil, fmt.Errorf("metaimage: inflate data: %w", err)
		}
	} else if hs := h["headersize"]; hs != "" && !strings.EqualFold(h["elementdatafile"], "LOCAL") {
		skip, err := strconv.Atoi(hs)
		if err != nil {
			return nil, fmt.Errorf("metaimage: invalid HeaderSize %q", hs)
		}
		switch {
		case skip == -1 && len(data) >= need:
			data = data[len(data)-need:]
		case skip > 0 && skip <= len(data):
			data = data[skip:]
		}
	}

	if err := decodeSamples(g, data, st, order); err != nil {
		return nil, fmt.Errorf("metaimage: %w", err)
	}
	return g, nil
}

// metaImageData returns the stored voxel bytes: the remainder of the header
// file for LOCAL, otherwise the named file resolved next to the header.
func metaImageData(path string, local []byte, h metaHeader) ([]byte, error) {
	name := h["elementdatafile"]
	switch {
	case strings.EqualFold(name, "LOCAL"):
		return local, nil
	case strings.EqualFold(name, "LIST") || strings.Contains(name, "%") || len(strings.Fields(name)) > 1:
		return nil, fmt.Errorf("%w: multi-file MetaImage data %q", ErrUnsupportedFormat, name)
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(filepath.Dir(path), name)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("metaimage: read data file: %w", err)
	}
	return data, nil
}

// spatialDims maps per-axis sizes to Dims. Axes beyond the third must have
// size 1; a 2D image is a single slice.
func spatialDims(sizes []int) (Dims, error) {
	if len(sizes) < 2 {
		return Dims{}, fmt.Errorf("need at least 2 dimensions, got %d", len(sizes))
	}
	for i := 3; i < len(sizes); i++ {
		if sizes[i] != 1 {
			return Dims{}, fmt.Errorf("%d-dimensional data is not a 3D volume", len(sizes))
		}
	}
	d := Dims{Nx: sizes[0], Ny: sizes[1], Nz: 1}
	if len(sizes) >= 3 {
		d.Nz = sizes[2]
	}
	if d.Nx <= 0 || d.Ny <= 0 || d.Nz <= 0 {
		return Dims{}, fmt.Errorf("invalid dimensions %s", d)
	}
	return d, nil
}

// WriteMetaImage writes g as a little-endian MetaImage. A .mha path holds the
// header and data in one file; a .mhd path gets its data in a .raw file next to
// it. compress stores the data zlib-compressed. Integer volumes are stored as
// MET_UCHAR or MET_SHORT, anything else as MET_FLOAT.
func WriteMetaImage(path string, g *Grid[float64], compress bool) error {
	st := storageType(g)
	data, err := encodeSamples(g, st, binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("metaimage: %w", err)
	}
	if compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("metaimage: compress data: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("metaimage: compress data: %w", err)
		}
		data = buf.Bytes()
	}

	dataFile := "LOCAL"
	if strings.EqualFold(filepath.Ext(path), ".mhd") {
		dataFile = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".raw"
	}

	elementType := map[sampleType]string{
		sampleUint8:   "MET_UCHAR",
		sampleInt16:   "MET_SHORT",
		sampleFloat32: "MET_FLOAT",
	}[st]

	var hdr strings.Builder
	fmt.Fprintf(&hdr, "ObjectType = Image\n")
	fmt.Fprintf(&hdr, "NDims = 3\n")
	fmt.Fprintf(&hdr, "BinaryData = True\n")
	fmt.Fprintf(&hdr, "BinaryDataByteOrderMSB = False\n")
	fmt.Fprintf(&hdr, "CompressedData = %s\n", metaBool(compress))
	if compress {
		fmt.Fprintf(&hdr, "CompressedDataSize = %d\n", len(data))
	}
	fmt.Fprintf(&hdr, "TransformMatrix = 1 0 0 0 1 0 0 0 1\n")
	fmt.Fprintf(&hdr, "Offset = %g %g %g\n", g.Origin[0], g.Origin[1], g.Origin[2])
	fmt.Fprintf(&hdr, "ElementSpacing = %g %g %g\n", g.Spacing[0], g.Spacing[1], g.Spacing[2])
	fmt.Fprintf(&hdr, "DimSize = %d %d %d\n", g.Dims.Nx, g.Dims.Ny, g.Dims.Nz)
	fmt.Fprintf(&hdr, "ElementType = %s\n", elementType)
	fmt.Fprintf(&hdr, "ElementDataFile = %s\n", dataFile)

	if dataFile == "LOCAL" {
		return writeFile(path, []byte(hdr.String()), data)
	}
	if err := writeFile(filepath.Join(filepath.Dir(path), dataFile), data); err != nil {
		return err
	}
	return writeFile(path, []byte(hdr.String()))
}

func metaBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// writeFile writes parts to path in order.
func writeFile(path string, parts ...[]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	for _, p := range parts {
		if _, err := f.Write(p); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return f.Close()
}
