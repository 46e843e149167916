package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	niftiHeaderSize = 348
	niftiVoxOffset  = 352
)

// NIfTI-1 datatype codes.
const (
	niftiUint8   = 2
	niftiInt16   = 4
	niftiInt32   = 8
	niftiFloat32 = 16
	niftiFloat64 = 64
	niftiInt8    = 256
	niftiUint16  = 512
	niftiUint32  = 768
	niftiInt64   = 1024
	niftiUint64  = 1280
)

var niftiSampleTypes = map[int16]sampleType{
	niftiUint8:   sampleUint8,
	niftiInt8:    sampleInt8,
	niftiInt16:   sampleInt16,
	niftiUint16:  sampleUint16,
	niftiInt32:   sampleInt32,
	niftiUint32:  sampleUint32,
	niftiInt64:   sampleInt64,
	niftiUint64:  sampleUint64,
	niftiFloat32: sampleFloat32,
	niftiFloat64: sampleFloat64,
}

// niftiHeader mirrors the 348-byte NIfTI-1 header layout.
type niftiHeader struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// isNIfTIPath reports whether path names a .nii or .nii.gz file.
func isNIfTIPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".nii") || strings.HasSuffix(lower, ".nii.gz")
}

// ReadNIfTI reads a single-file NIfTI-1 volume (.nii or gzip-compressed .nii.gz).
// Voxels are returned in stored order with scl_slope/scl_inter applied.
func ReadNIfTI(path string) (*Grid[float64], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return decodeNIfTI(raw)
}

func decodeNIfTI(raw []byte) (*Grid[float64], error) {
	if len(raw) < niftiHeaderSize {
		return nil, fmt.Errorf("nifti: file too short (%d bytes)", len(raw))
	}

	var order binary.ByteOrder = binary.LittleEndian
	switch {
	case binary.LittleEndian.Uint32(raw[:4]) == niftiHeaderSize:
	case binary.BigEndian.Uint32(raw[:4]) == niftiHeaderSize:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("nifti: bad header size field")
	}

	var hdr niftiHeader
	if err := binary.Read(bytes.NewReader(raw[:niftiHeaderSize]), order, &hdr); err != nil {
		return nil, fmt.Errorf("nifti: decode header: %w", err)
	}
	magic := string(hdr.Magic[:3])
	if magic != "n+1" {
		return nil, fmt.Errorf("nifti: unsupported magic %q (only single-file n+1 is supported)", magic)
	}

	ndim := int(hdr.Dim[0])
	if ndim < 2 || ndim > 7 {
		return nil, fmt.Errorf("nifti: invalid dimension count %d", ndim)
	}
	for i := 4; i <= ndim; i++ {
		if hdr.Dim[i] > 1 {
			return nil, fmt.Errorf("nifti: %d-dimensional data is not a 3D volume", ndim)
		}
	}
	dims := Dims{Nx: int(hdr.Dim[1]), Ny: int(hdr.Dim[2]), Nz: 1}
	if ndim >= 3 {
		dims.Nz = int(hdr.Dim[3])
	}
	if dims.Nx <= 0 || dims.Ny <= 0 || dims.Nz <= 0 {
		return nil, fmt.Errorf("nifti: invalid dimensions %s", dims)
	}

	spacing := Spacing{1, 1, 1}
	for i := 0; i < 3; i++ {
		if p := float64(hdr.Pixdim[i+1]); p > 0 {
			spacing[i] = p
		}
	}

	offset := int(hdr.VoxOffset)
	if offset < niftiHeaderSize {
		offset = niftiVoxOffset
	}

	g := NewGrid[float64](dims, spacing)
	g.Origin = [3]float64{float64(hdr.QoffsetX), float64(hdr.QoffsetY), float64(hdr.QoffsetZ)}

	st, ok := niftiSampleTypes[hdr.Datatype]
	if !ok {
		return nil, fmt.Errorf("nifti: unsupported datatype %d", hdr.Datatype)
	}
	if len(raw) < offset {
		return nil, fmt.Errorf("nifti: truncated data: vox_offset %d beyond end of file", offset)
	}
	if err := decodeSamples(g, raw[offset:], st, order); err != nil {
		return nil, fmt.Errorf("nifti: %w", err)
	}

	slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
	if slope != 0 && !(slope == 1 && inter == 0) {
		for i, v := range g.Data {
			g.Data[i] = v*slope + inter
		}
	}
	return g, nil
}

// NIfTIType selects the on-disk sample type used by WriteNIfTI.
type NIfTIType int16

const (
	NIfTIInt16   NIfTIType = niftiInt16
	NIfTIUint8   NIfTIType = niftiUint8
	NIfTIFloat32 NIfTIType = niftiFloat32
)

// WriteNIfTI writes g as a little-endian NIfTI-1 file. A path ending in .gz is
// gzip-compressed. Values are rounded and clamped for integer sample types.
func WriteNIfTI(path string, g *Grid[float64], dtype NIfTIType) error {
	var bitpix int16
	switch dtype {
	case NIfTIUint8:
		bitpix = 8
	case NIfTIInt16:
		bitpix = 16
	case NIfTIFloat32:
		bitpix = 32
	default:
		return fmt.Errorf("nifti: unsupported output datatype %d", dtype)
	}

	hdr := niftiHeader{
		SizeofHdr: niftiHeaderSize,
		Regular:   'r',
		Datatype:  int16(dtype),
		Bitpix:    bitpix,
		VoxOffset: niftiVoxOffset,
		SclSlope:  1,
		XyztUnits: 2, // mm
		QformCode: 1,
		QoffsetX:  float32(g.Origin[0]),
		QoffsetY:  float32(g.Origin[1]),
		QoffsetZ:  float32(g.Origin[2]),
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim = [8]int16{3, int16(g.Dims.Nx), int16(g.Dims.Ny), int16(g.Dims.Nz), 1, 1, 1, 1}
	hdr.Pixdim = [8]float32{1, float32(g.Spacing[0]), float32(g.Spacing[1]), float32(g.Spacing[2]), 1, 1, 1, 1}

	var buf bytes.Buffer
	buf.Grow(niftiVoxOffset + g.Dims.Len()*int(bitpix/8))
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("nifti: encode header: %w", err)
	}
	buf.Write([]byte{0, 0, 0, 0}) // no extensions

	var sample [4]byte
	for _, v := range g.Data {
		switch dtype {
		case NIfTIUint8:
			buf.WriteByte(uint8(math.Max(0, math.Min(255, math.Round(v)))))
		case NIfTIInt16:
			binary.LittleEndian.PutUint16(sample[:2], uint16(int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))))
			buf.Write(sample[:2])
		case NIfTIFloat32:
			binary.LittleEndian.PutUint32(sample[:], math.Float32bits(float32(v)))
			buf.Write(sample[:])
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz := gzip.NewWriter(f)
		if _, err := gz.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("close gzip stream: %w", err)
		}
		return f.Close()
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
