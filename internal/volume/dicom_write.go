package volume

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/mrsinham/segslice/internal/util"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const ctImageStorageSOPClass = "1.2.840.10008.5.1.4.1.1.2"

// SeriesOptions controls the metadata written by WriteDICOMSeries.
type SeriesOptions struct {
	// Key seeds the deterministic UIDs; the same key gives the same UIDs.
	Key               string
	PatientName       string
	PatientID         string
	SeriesDescription string
	// RescaleIntercept maps stored values to HU: HU = stored + intercept.
	RescaleIntercept float64
	WindowCenter     float64
	WindowWidth      float64
}

// mustNewElement creates a new DICOM element, panicking on error.
func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// writeDatasetToFile writes a DICOM dataset to a file
func writeDatasetToFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := dicom.Write(f, ds, opts...); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return f.Close()
}

// decimalString formats a float64 as a DICOM Decimal String.
func decimalString(f float64) string {
	return fmt.Sprintf("%.6g", f)
}

// WriteDICOMSeries writes g as a CT series, one uncompressed 16-bit file per
// axial slice, into dir. It returns the written paths in slice order.
func WriteDICOMSeries(dir string, g *Grid[float64], opts SeriesOptions) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	studyUID := util.DeterministicUID(opts.Key + "_study")
	seriesUID := util.DeterministicUID(opts.Key + "_series")
	frameOfReferenceUID := util.DeterministicUID(opts.Key + "_frame")

	width, height := g.Dims.Nx, g.Dims.Ny
	paths := make([]string, 0, g.Dims.Nz)

	for z := 0; z < g.Dims.Nz; z++ {
		sopInstanceUID := util.DeterministicUID(fmt.Sprintf("%s_instance_%d", opts.Key, z+1))
		position := []string{
			decimalString(g.Origin[0]),
			decimalString(g.Origin[1]),
			decimalString(g.Origin[2] + float64(z)*g.Spacing[2]),
		}

		nativeFrame := frame.NewNativeFrame[uint16](16, height, width, width*height, 1)
		for i, v := range g.Slice(z) {
			stored := math.Round(v - opts.RescaleIntercept)
			nativeFrame.RawData[i] = uint16(math.Max(0, math.Min(math.MaxUint16, stored)))
		}

		elements := []*dicom.Element{
			mustNewElement(tag.MediaStorageSOPClassUID, []string{ctImageStorageSOPClass}),
			mustNewElement(tag.MediaStorageSOPInstanceUID, []string{sopInstanceUID}),
			mustNewElement(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
			mustNewElement(tag.PatientName, []string{opts.PatientName}),
			mustNewElement(tag.PatientID, []string{opts.PatientID}),
			mustNewElement(tag.StudyInstanceUID, []string{studyUID}),
			mustNewElement(tag.SeriesInstanceUID, []string{seriesUID}),
			mustNewElement(tag.SeriesNumber, []string{"1"}),
			mustNewElement(tag.SeriesDescription, []string{opts.SeriesDescription}),
			mustNewElement(tag.Modality, []string{"CT"}),
			mustNewElement(tag.SOPInstanceUID, []string{sopInstanceUID}),
			mustNewElement(tag.SOPClassUID, []string{ctImageStorageSOPClass}),
			mustNewElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", z+1)}),
			mustNewElement(tag.PixelSpacing, []string{decimalString(g.Spacing[1]), decimalString(g.Spacing[0])}),
			mustNewElement(tag.SliceThickness, []string{decimalString(g.Spacing[2])}),
			mustNewElement(tag.SpacingBetweenSlices, []string{decimalString(g.Spacing[2])}),
			mustNewElement(tag.ImagePositionPatient, position),
			mustNewElement(tag.ImageOrientationPatient, []string{"1", "0", "0", "0", "1", "0"}),
			mustNewElement(tag.SliceLocation, []string{position[2]}),
			mustNewElement(tag.FrameOfReferenceUID, []string{frameOfReferenceUID}),
			mustNewElement(tag.Rows, []int{height}),
			mustNewElement(tag.Columns, []int{width}),
			mustNewElement(tag.BitsAllocated, []int{16}),
			mustNewElement(tag.BitsStored, []int{16}),
			mustNewElement(tag.HighBit, []int{15}),
			mustNewElement(tag.PixelRepresentation, []int{0}),
			mustNewElement(tag.SamplesPerPixel, []int{1}),
			mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
			mustNewElement(tag.RescaleIntercept, []string{decimalString(opts.RescaleIntercept)}),
			mustNewElement(tag.RescaleSlope, []string{"1"}),
			mustNewElement(tag.RescaleType, []string{"HU"}),
			mustNewElement(tag.WindowCenter, []string{decimalString(opts.WindowCenter)}),
			mustNewElement(tag.WindowWidth, []string{decimalString(opts.WindowWidth)}),
			mustNewElement(tag.PixelData, dicom.PixelDataInfo{
				Frames: []*frame.Frame{
					{
						Encapsulated: false,
						NativeData:   nativeFrame,
					},
				},
			}),
		}

		// Sort by (Group, Element) so the dataset is written in tag order
		sort.Slice(elements, func(i, j int) bool {
			if elements[i].Tag.Group != elements[j].Tag.Group {
				return elements[i].Tag.Group < elements[j].Tag.Group
			}
			return elements[i].Tag.Element < elements[j].Tag.Element
		})

		path := filepath.Join(dir, fmt.Sprintf("IMG%04d.dcm", z+1))
		if err := writeDatasetToFile(path, dicom.Dataset{Elements: elements}); err != nil {
			return nil, fmt.Errorf("write slice %d: %w", z, err)
		}
		paths = append(paths, path)
	}

	return paths, nil
}
