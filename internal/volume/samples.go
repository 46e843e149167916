package volume

import (
	"encoding/binary"
	"fmt"
	"math"
)

// sampleType is a scalar on-disk voxel type shared by the raw volume formats.
type sampleType int

const (
	sampleUint8 sampleType = iota + 1
	sampleInt8
	sampleUint16
	sampleInt16
	sampleUint32
	sampleInt32
	sampleUint64
	sampleInt64
	sampleFloat32
	sampleFloat64
)

func (s sampleType) String() string {
	switch s {
	case sampleUint8:
		return "uint8"
	case sampleInt8:
		return "int8"
	case sampleUint16:
		return "uint16"
	case sampleInt16:
		return "int16"
	case sampleUint32:
		return "uint32"
	case sampleInt32:
		return "int32"
	case sampleUint64:
		return "uint64"
	case sampleInt64:
		return "int64"
	case sampleFloat32:
		return "float32"
	case sampleFloat64:
		return "float64"
	}
	return fmt.Sprintf("sampleType(%d)", int(s))
}

// size returns the number of bytes of one sample.
func (s sampleType) size() int {
	switch s {
	case sampleUint8, sampleInt8:
		return 1
	case sampleUint16, sampleInt16:
		return 2
	case sampleUint32, sampleInt32, sampleFloat32:
		return 4
	case sampleUint64, sampleInt64, sampleFloat64:
		return 8
	}
	return 0
}

// decoder returns a function converting one sample at the start of b.
func (s sampleType) decoder(order binary.ByteOrder) func(b []byte) float64 {
	switch s {
	case sampleUint8:
		return func(b []byte) float64 { return float64(b[0]) }
	case sampleInt8:
		return func(b []byte) float64 { return float64(int8(b[0])) }
	case sampleUint16:
		return func(b []byte) float64 { return float64(order.Uint16(b)) }
	case sampleInt16:
		return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }
	case sampleUint32:
		return func(b []byte) float64 { return float64(order.Uint32(b)) }
	case sampleInt32:
		return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }
	case sampleUint64:
		return func(b []byte) float64 { return float64(order.Uint64(b)) }
	case sampleInt64:
		return func(b []byte) float64 { return float64(int64(order.Uint64(b))) }
	case sampleFloat32:
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }
	case sampleFloat64:
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }
	}
	return nil
}

// decodeSamples fills g.Data from data, which must hold at least one sample
// per voxel in x-fastest order.
func decodeSamples(g *Grid[float64], data []byte, st sampleType, order binary.ByteOrder) error {
	size := st.size()
	decode := st.decoder(order)
	if size == 0 || decode == nil {
		return fmt.Errorf("unsupported sample type %s", st)
	}
	if need := len(g.Data) * size; len(data) < need {
		return fmt.Errorf("truncated data: have %d bytes, need %d", len(data), need)
	}
	for i := range g.Data {
		g.Data[i] = decode(data[i*size:])
	}
	return nil
}

// encoder returns a function storing one sample at the start of b. Integer
// types round and clamp.
func (s sampleType) encoder(order binary.ByteOrder) func(b []byte, v float64) {
	clamp := func(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, math.Round(v))) }
	switch s {
	case sampleUint8:
		return func(b []byte, v float64) { b[0] = uint8(clamp(v, 0, math.MaxUint8)) }
	case sampleInt8:
		return func(b []byte, v float64) { b[0] = uint8(int8(clamp(v, math.MinInt8, math.MaxInt8))) }
	case sampleUint16:
		return func(b []byte, v float64) { order.PutUint16(b, uint16(clamp(v, 0, math.MaxUint16))) }
	case sampleInt16:
		return func(b []byte, v float64) { order.PutUint16(b, uint16(int16(clamp(v, math.MinInt16, math.MaxInt16)))) }
	case sampleUint32:
		return func(b []byte, v float64) { order.PutUint32(b, uint32(clamp(v, 0, math.MaxUint32))) }
	case sampleInt32:
		return func(b []byte, v float64) { order.PutUint32(b, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32)))) }
	case sampleFloat32:
		return func(b []byte, v float64) { order.PutUint32(b, math.Float32bits(float32(v))) }
	case sampleFloat64:
		return func(b []byte, v float64) { order.PutUint64(b, math.Float64bits(v)) }
	}
	return nil
}

// encodeSamples stores every voxel of g as st.
func encodeSamples(g *Grid[float64], st sampleType, order binary.ByteOrder) ([]byte, error) {
	size := st.size()
	encode := st.encoder(order)
	if encode == nil {
		return nil, fmt.Errorf("cannot encode sample type %s", st)
	}
	out := make([]byte, len(g.Data)*size)
	for i, v := range g.Data {
		encode(out[i*size:], v)
	}
	return out, nil
}

// storageType picks the smallest type holding every voxel of g exactly:
// uint8 or int16 for integer data, float32 otherwise.
func storageType(g *Grid[float64]) sampleType {
	st := sampleUint8
	for _, v := range g.Data {
		if v != math.Trunc(v) || v < math.MinInt16 || v > math.MaxInt16 {
			return sampleFloat32
		}
		if v < 0 || v > math.MaxUint8 {
			st = sampleInt16
		}
	}
	return st
}
