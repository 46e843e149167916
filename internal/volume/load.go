package volume

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Format identifies an on-disk volume layout.
type Format string

const (
	FormatNIfTI       Format = "nifti"
	FormatDICOMSeries Format = "dicom-series"
	FormatDICOMFile   Format = "dicom"
	FormatMetaImage   Format = "metaimage"
	FormatNRRD        Format = "nrrd"
)

// DetectFormat inspects path: a directory is a DICOM series, .nii/.nii.gz is
// NIfTI-1, .mha/.mhd is MetaImage, .nrrd/.nhdr is NRRD, and a file with a .dcm
// extension or DICM preamble is DICOM.
func DetectFormat(path string) (Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	switch {
	case info.IsDir():
		return FormatDICOMSeries, nil
	case isNIfTIPath(path):
		return FormatNIfTI, nil
	case isMetaImagePath(path):
		return FormatMetaImage, nil
	case isNRRDPath(path):
		return FormatNRRD, nil
	case isDICOMFile(path):
		return FormatDICOMFile, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Load reads an intensity volume from path, detecting its format.
func Load(path string) (*Grid[float64], error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatDICOMSeries:
		return ReadDICOMSeries(path)
	case FormatDICOMFile:
		return ReadDICOMFile(path)
	case FormatMetaImage:
		return ReadMetaImage(path)
	case FormatNRRD:
		return ReadNRRD(path)
	default:
		return ReadNIfTI(path)
	}
}

// LoadLabels reads a label map from path. Samples are rounded to the nearest
// integer and clamped to the uint16 range.
func LoadLabels(path string) (*Grid[uint16], error) {
	g, err := Load(path)
	if err != nil {
		return nil, err
	}
	return ToLabels(g), nil
}

// ToLabels converts an intensity grid to integer labels.
func ToLabels(g *Grid[float64]) *Grid[uint16] {
	return Convert(g, func(v float64) uint16 {
		return uint16(math.Max(0, math.Min(math.MaxUint16, math.Round(v))))
	})
}

// Stats summarizes an intensity volume.
type Stats struct {
	Min, Max  float64
	Mean, Std float64
}

// ComputeStats returns min, max, mean and standard deviation of all voxels.
func ComputeStats(g *Grid[float64]) Stats {
	if len(g.Data) == 0 {
		return Stats{}
	}
	mean, std := stat.MeanStdDev(g.Data, nil)
	return Stats{
		Min:  floats.Min(g.Data),
		Max:  floats.Max(g.Data),
		Mean: mean,
		Std:  std,
	}
}

// LabelCount is the number of voxels carrying one label value.
type LabelCount struct {
	Label  uint16
	Voxels int
}

// CountLabels returns the voxel count of every nonzero label, ascending by label.
func CountLabels(g *Grid[uint16]) []LabelCount {
	counts := make(map[uint16]int)
	for _, v := range g.Data {
		if v != 0 {
			counts[v]++
		}
	}
	out := make([]LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, LabelCount{Label: label, Voxels: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
