package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var nrrdSampleTypes = map[string]sampleType{}

func init() {
	for st, names := range map[sampleType][]string{
		sampleInt8:    {"signed char", "int8", "int8_t"},
		sampleUint8:   {"uchar", "unsigned char", "uint8", "uint8_t"},
		sampleInt16:   {"short", "short int", "signed short", "signed short int", "int16", "int16_t"},
		sampleUint16:  {"ushort", "unsigned short", "unsigned short int", "uint16", "uint16_t"},
		sampleInt32:   {"int", "signed int", "int32", "int32_t"},
		sampleUint32:  {"uint", "unsigned int", "uint32", "uint32_t"},
		sampleInt64:   {"longlong", "long long", "long long int", "signed long long", "signed long long int", "int64", "int64_t"},
		sampleUint64:  {"ulonglong", "unsigned long long", "unsigned long long int", "uint64", "uint64_t"},
		sampleFloat32: {"float"},
		sampleFloat64: {"double"},
	} {
		for _, name := range names {
			nrrdSampleTypes[name] = st
		}
	}
}

// isNRRDPath reports whether path names a .nrrd file (including Slicer's
// .seg.nrrd) or a detached .nhdr header.
func isNRRDPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".nrrd" || ext == ".nhdr"
}

// nrrdHeader holds the header fields keyed by lowercase field name with
// internal spaces removed ("space directions" is "spacedirections").
type nrrdHeader map[string]string

// parseNRRDHeader parses the magic line and fields up to the blank line that
// ends an attached header, returning the offset of the first data byte.
func parseNRRDHeader(raw []byte) (nrrdHeader, int, error) {
	if !bytes.HasPrefix(raw, []byte("NRRD000")) {
		return nil, 0, fmt.Errorf("nrrd: missing NRRD magic")
	}
	h := make(nrrdHeader)
	pos := bytes.IndexByte(raw, '\n') + 1
	if pos == 0 {
		return h, len(raw), nil
	}
	for pos < len(raw) {
		end := bytes.IndexByte(raw[pos:], '\n')
		next := len(raw)
		if end >= 0 {
			next = pos + end + 1
		}
		line := strings.TrimRight(string(raw[pos:next]), "\r\n")
		pos = next
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") || strings.Contains(line, ":=") {
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, 0, fmt.Errorf("nrrd: malformed header line %q", line)
		}
		key = strings.ToLower(strings.ReplaceAll(key, " ", ""))
		h[key] = strings.TrimSpace(value)
	}
	return h, pos, nil
}

// ReadNRRD reads a NRRD volume with an attached or detached (.nhdr) header.
// Encodings raw, gzip and ascii are supported. Non-spatial axes, such as the
// layer axis of a segmentation, must have size 1.
func ReadNRRD(path string) (*Grid[float64], error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h, dataStart, err := parseNRRDHeader(raw)
	if err != nil {
		return nil, err
	}

	st, ok := nrrdSampleTypes[strings.ToLower(h["type"])]
	if !ok {
		return nil, fmt.Errorf("nrrd: unsupported type %q", h["type"])
	}

	sizeFields := strings.Fields(h["sizes"])
	if dim, err := strconv.Atoi(h["dimension"]); err != nil || dim != len(sizeFields) {
		return nil, fmt.Errorf("nrrd: dimension %q does not match sizes %q", h["dimension"], h["sizes"])
	}
	sizes := make([]int, len(sizeFields))
	for i, f := range sizeFields {
		if sizes[i], err = strconv.Atoi(f); err != nil {
			return nil, fmt.Errorf("nrrd: invalid sizes %q", h["sizes"])
		}
	}

	axes := nrrdSpatialAxes(h, len(sizes))
	spatialSizes := make([]int, 0, len(axes))
	spatial := make(map[int]bool, len(axes))
	for _, a := range axes {
		spatialSizes = append(spatialSizes, sizes[a])
		spatial[a] = true
	}
	for i, n := range sizes {
		if !spatial[i] && n != 1 {
			return nil, fmt.Errorf("nrrd: multi-component data (axis %d has %d components)", i, n)
		}
	}
	dims, err := spatialDims(spatialSizes)
	if err != nil {
		return nil, fmt.Errorf("nrrd: %w", err)
	}

	spacing, err := nrrdSpacing(h, axes)
	if err != nil {
		return nil, err
	}
	g := NewGrid[float64](dims, spacing)
	if origin, ok := h["spaceorigin"]; ok {
		v, err := parseNRRDVector(origin)
		if err != nil {
			return nil, fmt.Errorf("nrrd: invalid space origin: %w", err)
		}
		copy(g.Origin[:], v)
	}

	data, err := nrrdData(path, raw[dataStart:], h)
	if err != nil {
		return nil, err
	}

	if err := decodeNRRDData(g, data, st, h); err != nil {
		return nil, err
	}
	return g, nil
}

// nrrdSpatialAxes returns the indices of the domain axes, in storage order.
// Without a kinds field every axis is spatial.
func nrrdSpatialAxes(h nrrdHeader, n int) []int {
	kinds := strings.Fields(h["kinds"])
	axes := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if len(kinds) == n {
			switch strings.ToLower(kinds[i]) {
			case "domain", "space", "time":
			default:
				continue
			}
		}
		axes = append(axes, i)
	}
	return axes
}

// nrrdSpacing reads per-axis spacing from space directions (vector lengths)
// or from spacings, defaulting to 1 mm.
func nrrdSpacing(h nrrdHeader, axes []int) (Spacing, error) {
	spacing := Spacing{1, 1, 1}
	var values []float64

	if dirs, ok := h["spacedirections"]; ok {
		for _, field := range splitNRRDVectors(dirs) {
			if field == "none" {
				values = append(values, math.NaN())
				continue
			}
			v, err := parseNRRDVector(field)
			if err != nil {
				return spacing, fmt.Errorf("nrrd: invalid space directions: %w", err)
			}
			var length float64
			for _, c := range v {
				length = math.Hypot(length, c)
			}
			values = append(values, length)
		}
	} else if sp, ok := h["spacings"]; ok {
		for _, f := range strings.Fields(sp) {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				v = math.NaN()
			}
			values = append(values, v)
		}
	}

	for i, a := range axes {
		if i >= 3 {
			break
		}
		if a < len(values) && values[a] > 0 {
			spacing[i] = values[a]
		}
	}
	return spacing, nil
}

// splitNRRDVectors splits "(1,0,0) (0,1,0) none" into its entries.
func splitNRRDVectors(s string) []string {
	var out []string
	for len(s) > 0 {
		s = strings.TrimSpace(s)
		if s == "" {
			break
		}
		if s[0] == '(' {
			end := strings.IndexByte(s, ')')
			if end < 0 {
				out = append(out, s)
				break
			}
			out = append(out, s[:end+1])
			s = s[end+1:]
			continue
		}
		word, rest, _ := strings.Cut(s, " ")
		out = append(out, strings.ToLower(word))
		s = rest
	}
	return out
}

// parseNRRDVector parses "(x,y,z)".
func parseNRRDVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed vector %q", s)
		}
		out[i] = v
	}
	return out, nil
}

// nrrdData returns the data section: the bytes after an attached header, or
// the detached data file with line skip applied.
func nrrdData(path string, attached []byte, h nrrdHeader) ([]byte, error) {
	name, ok := h["datafile"]
	if !ok {
		return attached, nil
	}
	if strings.HasPrefix(name, "LIST") || strings.Contains(name, "%") || len(strings.Fields(name)) > 1 {
		return nil, fmt.Errorf("%w: multi-file NRRD data %q", ErrUnsupportedFormat, name)
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(filepath.Dir(path), name)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("nrrd: read data file: %w", err)
	}

	if ls := h["lineskip"]; ls != "" {
		skip, err := strconv.Atoi(ls)
		if err != nil || skip < 0 {
			return nil, fmt.Errorf("nrrd: invalid line skip %q", ls)
		}
		for ; skip > 0; skip-- {
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				return nil, fmt.Errorf("nrrd: line skip beyond end of data file")
			}
			data = data[i+1:]
		}
	}
	return data, nil
}

// decodeNRRDData decodes data according to the encoding, endian and byte skip
// fields.
func decodeNRRDData(g *Grid[float64], data []byte, st sampleType, h nrrdHeader) error {
	var order binary.ByteOrder = binary.LittleEndian
	if strings.EqualFold(h["endian"], "big") {
		order = binary.BigEndian
	}

	encoding := strings.ToLower(h["encoding"])
	switch encoding {
	case "raw":
	case "gzip", "gz":
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("nrrd: open gzip stream: %w", err)
		}
		data, err = io.ReadAll(zr)
		_ = zr.Close()
		if err != nil {
			return fmt.Errorf("nrrd: inflate data: %w", err)
		}
	case "ascii", "text", "txt":
		return decodeNRRDText(g, data)
	default:
		return fmt.Errorf("%w: NRRD encoding %q", ErrUnsupportedFormat, h["encoding"])
	}

	if bs := h["byteskip"]; bs != "" {
		skip, err := strconv.Atoi(bs)
		if err != nil {
			return fmt.Errorf("nrrd: invalid byte skip %q", bs)
		}
		need := len(g.Data) * st.size()
		switch {
		case skip == -1 && encoding == "raw" && len(data) >= need:
			data = data[len(data)-need:]
		case skip >= 0 && skip <= len(data):
			data = data[skip:]
		default:
			return fmt.Errorf("nrrd: invalid byte skip %q", bs)
		}
	}

	if err := decodeSamples(g, data, st, order); err != nil {
		return fmt.Errorf("nrrd: %w", err)
	}
	return nil
}

func decodeNRRDText(g *Grid[float64], data []byte) error {
	fields := strings.Fields(string(data))
	if len(fields) < len(g.Data) {
		return fmt.Errorf("nrrd: truncated data: have %d values, need %d", len(fields), len(g.Data))
	}
	for i := range g.Data {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return fmt.Errorf("nrrd: invalid ascii value %q", fields[i])
		}
		g.Data[i] = v
	}
	return nil
}

// WriteNRRD writes g as a NRRD volume. A .nrrd path gets an attached header
// and gzip-encoded data, the layout 3D Slicer writes; a .nhdr path gets a
// detached header and raw data in a .raw file next to it.
func WriteNRRD(path string, g *Grid[float64]) error {
	st := storageType(g)
	data, err := encodeSamples(g, st, binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("nrrd: %w", err)
	}
	typeName := map[sampleType]string{
		sampleUint8:   "uint8",
		sampleInt16:   "int16",
		sampleFloat32: "float",
	}[st]

	detached := strings.EqualFold(filepath.Ext(path), ".nhdr")
	var hdr strings.Builder
	hdr.WriteString("NRRD0004\n")
	fmt.Fprintf(&hdr, "type: %s\n", typeName)
	hdr.WriteString("dimension: 3\n")
	hdr.WriteString("space: left-posterior-superior\n")
	fmt.Fprintf(&hdr, "sizes: %d %d %d\n", g.Dims.Nx, g.Dims.Ny, g.Dims.Nz)
	fmt.Fprintf(&hdr, "space directions: (%g,0,0) (0,%g,0) (0,0,%g)\n", g.Spacing[0], g.Spacing[1], g.Spacing[2])
	hdr.WriteString("kinds: domain domain domain\n")
	hdr.WriteString("endian: little\n")
	fmt.Fprintf(&hdr, "space origin: (%g,%g,%g)\n", g.Origin[0], g.Origin[1], g.Origin[2])

	if detached {
		dataFile := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".raw"
		hdr.WriteString("encoding: raw\n")
		fmt.Fprintf(&hdr, "data file: %s\n", dataFile)
		if err := writeFile(filepath.Join(filepath.Dir(path), dataFile), data); err != nil {
			return err
		}
		return writeFile(path, []byte(hdr.String()))
	}

	hdr.WriteString("encoding: gzip\n\n")
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("nrrd: compress data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("nrrd: compress data: %w", err)
	}
	return writeFile(path, []byte(hdr.String()), buf.Bytes())
}
