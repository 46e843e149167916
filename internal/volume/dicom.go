package volume

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// dicomSlice is one parsed image file of a series.
type dicomSlice struct {
	path      string
	seriesUID string
	rows      int
	cols      int
	position  []float64 // ImagePositionPatient, may be empty
	instance  int
	spacing   []float64 // PixelSpacing: row spacing, column spacing
	thickness float64
	between   float64
	frames    [][]float64
}

// z returns the sort key along the stacking axis.
func (s *dicomSlice) z() float64 {
	if len(s.position) == 3 {
		return s.position[2]
	}
	return float64(s.instance)
}

// isDICOMFile sniffs the DICM preamble marker, falling back to the extension.
func isDICOMFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".dcm" || ext == ".dicom" {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 132)
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return bytes.Equal(head[128:], []byte("DICM"))
}

// ReadDICOMSeries reads every DICOM image below dir and stacks the slices of
// the largest series along z, sorted by ImagePositionPatient (InstanceNumber
// when positions are missing). Files that fail to parse or carry no pixel data
// (DICOMDIR, reports) are skipped.
func ReadDICOMSeries(dir string) (*Grid[float64], error) {
	bySeries := make(map[string][]*dicomSlice)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		s, parseErr := parseDICOMSlice(path)
		if parseErr != nil || s == nil {
			return nil
		}
		bySeries[s.seriesUID] = append(bySeries[s.seriesUID], s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	var slices []*dicomSlice
	var seriesUIDs []string
	for uid := range bySeries {
		seriesUIDs = append(seriesUIDs, uid)
	}
	sort.Strings(seriesUIDs)
	for _, uid := range seriesUIDs {
		if len(bySeries[uid]) > len(slices) {
			slices = bySeries[uid]
		}
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSlices, dir)
	}

	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].z() < slices[j].z()
	})

	first := slices[0]
	depth := 0
	for _, s := range slices {
		if s.rows != first.rows || s.cols != first.cols {
			return nil, fmt.Errorf("%w: %s is %dx%d, expected %dx%d",
				ErrShapeMismatch, s.path, s.cols, s.rows, first.cols, first.rows)
		}
		depth += len(s.frames)
	}

	g := NewGrid[float64](Dims{Nx: first.cols, Ny: first.rows, Nz: depth}, first.inPlaneSpacing())
	g.Spacing[2] = seriesSliceSpacing(slices)
	if len(first.position) == 3 {
		copy(g.Origin[:], first.position)
	}

	z := 0
	for _, s := range slices {
		for _, samples := range s.frames {
			copy(g.Slice(z), samples)
			z++
		}
	}
	return g, nil
}

// ReadDICOMFile reads a single DICOM file. Multi-frame files become one z slice
// per frame.
func ReadDICOMFile(path string) (*Grid[float64], error) {
	s, err := parseDICOMSlice(path)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w in %s", ErrNoSlices, path)
	}

	g := NewGrid[float64](Dims{Nx: s.cols, Ny: s.rows, Nz: len(s.frames)}, s.inPlaneSpacing())
	g.Spacing[2] = s.sliceSpacing()
	if len(s.position) == 3 {
		copy(g.Origin[:], s.position)
	}
	for z, samples := range s.frames {
		copy(g.Slice(z), samples)
	}
	return g, nil
}

func (s *dicomSlice) inPlaneSpacing() Spacing {
	sp := Spacing{1, 1, 1}
	if len(s.spacing) == 2 {
		if s.spacing[1] > 0 {
			sp[0] = s.spacing[1]
		}
		if s.spacing[0] > 0 {
			sp[1] = s.spacing[0]
		}
	}
	return sp
}

func (s *dicomSlice) sliceSpacing() float64 {
	switch {
	case s.between > 0:
		return s.between
	case s.thickness > 0:
		return s.thickness
	default:
		return 1
	}
}

func seriesSliceSpacing(slices []*dicomSlice) float64 {
	if len(slices) >= 2 && len(slices[0].position) == 3 && len(slices[1].position) == 3 {
		if d := math.Abs(slices[1].position[2] - slices[0].position[2]); d > 0 {
			return d
		}
	}
	return slices[0].sliceSpacing()
}

// parseDICOMSlice parses one file. It returns (nil, nil) for DICOM files that
// hold no pixel data.
func parseDICOMSlice(path string) (*dicomSlice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	pixelElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil || pixelElem == nil {
		return nil, nil
	}
	info, ok := pixelElem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, nil
	}

	s := &dicomSlice{
		path:      path,
		seriesUID: firstString(ds, tag.SeriesInstanceUID),
		rows:      firstInt(ds, tag.Rows),
		cols:      firstInt(ds, tag.Columns),
		position:  floatValues(ds, tag.ImagePositionPatient),
		spacing:   floatValues(ds, tag.PixelSpacing),
	}
	if n, err := strconv.Atoi(firstString(ds, tag.InstanceNumber)); err == nil {
		s.instance = n
	}
	if v := floatValues(ds, tag.SliceThickness); len(v) > 0 {
		s.thickness = v[0]
	}
	if v := floatValues(ds, tag.SpacingBetweenSlices); len(v) > 0 {
		s.between = v[0]
	}
	if s.rows <= 0 || s.cols <= 0 {
		return nil, fmt.Errorf("%s: invalid image size %dx%d", path, s.cols, s.rows)
	}

	slope, intercept := 1.0, 0.0
	if v := floatValues(ds, tag.RescaleSlope); len(v) > 0 && v[0] != 0 {
		slope = v[0]
	}
	if v := floatValues(ds, tag.RescaleIntercept); len(v) > 0 {
		intercept = v[0]
	}
	signed := firstInt(ds, tag.PixelRepresentation) == 1

	for i, fr := range info.Frames {
		samples, err := frameSamples(fr, signed)
		if err != nil {
			return nil, fmt.Errorf("%s frame %d: %w", path, i, err)
		}
		if len(samples) != s.rows*s.cols {
			return nil, fmt.Errorf("%s frame %d: %d samples for %dx%d image", path, i, len(samples), s.cols, s.rows)
		}
		for j := range samples {
			samples[j] = samples[j]*slope + intercept
		}
		s.frames = append(s.frames, samples)
	}
	return s, nil
}

// frameSamples converts a native (uncompressed, single-sample) frame to float64.
func frameSamples(fr *frame.Frame, signed bool) ([]float64, error) {
	if fr.Encapsulated {
		return nil, fmt.Errorf("%w: encapsulated (compressed) pixel data", ErrUnsupportedFormat)
	}
	switch nf := fr.NativeData.(type) {
	case *frame.NativeFrame[uint8]:
		return convertSamples(nf.RawData, func(v uint8) float64 {
			if signed {
				return float64(int8(v))
			}
			return float64(v)
		}), nil
	case *frame.NativeFrame[uint16]:
		return convertSamples(nf.RawData, func(v uint16) float64 {
			if signed {
				return float64(int16(v))
			}
			return float64(v)
		}), nil
	case *frame.NativeFrame[uint32]:
		return convertSamples(nf.RawData, func(v uint32) float64 {
			if signed {
				return float64(int32(v))
			}
			return float64(v)
		}), nil
	default:
		return nil, fmt.Errorf("%w: native frame type %T", ErrUnsupportedFormat, fr.NativeData)
	}
}

func convertSamples[I uint8 | uint16 | uint32](raw []I, fn func(I) float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = fn(v)
	}
	return out
}

func stringValues(ds dicom.Dataset, t tag.Tag) []string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil {
		return nil
	}
	v, _ := elem.Value.GetValue().([]string)
	return v
}

func firstString(ds dicom.Dataset, t tag.Tag) string {
	if v := stringValues(ds, t); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func firstInt(ds dicom.Dataset, t tag.Tag) int {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil {
		return 0
	}
	if v, ok := elem.Value.GetValue().([]int); ok && len(v) > 0 {
		return v[0]
	}
	return 0
}

// floatValues parses a DS (decimal string) element. Backslash-joined values in
// a single string are split as well.
func floatValues(ds dicom.Dataset, t tag.Tag) []float64 {
	var out []float64
	for _, s := range stringValues(ds, t) {
		for _, part := range strings.Split(s, "\\") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil
			}
			out = append(out, f)
		}
	}
	return out
}
