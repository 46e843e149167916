// Package imaging holds the per-voxel display transforms: intensity windowing
// and label colormaps.
package imaging

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mrsinham/segslice/internal/util"
	"github.com/mrsinham/segslice/internal/volume"
)

// Window is an intensity range mapped linearly onto the 8-bit display range.
type Window struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// DefaultWindow is the soft-tissue/air window used for segmentation review.
var DefaultWindow = Window{Min: -1000, Max: 170}

// FromCenterWidth builds a window from DICOM-style center/width values.
func FromCenterWidth(center, width float64) Window {
	return Window{Min: center - width/2, Max: center + width/2}
}

// Validate checks that the window has a positive width.
func (w Window) Validate() error {
	if !(w.Max > w.Min) {
		return fmt.Errorf("window max (%g) must be greater than min (%g)", w.Max, w.Min)
	}
	return nil
}

func (w Window) String() string {
	return fmt.Sprintf("[%g, %g]", w.Min, w.Max)
}

// Apply maps v to [0, 255]: values at or below Min give 0, at or above Max
// give 255, and values in between are scaled linearly and truncated.
func (w Window) Apply(v float64) uint8 {
	if v <= w.Min {
		return 0
	}
	if v >= w.Max {
		return 255
	}
	return uint8((v - w.Min) * 255 / (w.Max - w.Min))
}

// WindowVolume applies w to every voxel of ct.
func WindowVolume(ct *volume.Grid[float64], w Window) *volume.Grid[uint8] {
	return volume.Convert(ct, w.Apply)
}

// Preset is a named window.
type Preset struct {
	Name   string
	Window Window
}

// presets maps lowercase names to windows. Center/width pairs are the usual CT
// display presets.
var presets = map[string]Window{
	"default":     DefaultWindow,
	"brain":       FromCenterWidth(40, 80),
	"subdural":    FromCenterWidth(75, 215),
	"bone":        FromCenterWidth(400, 2000),
	"lung":        FromCenterWidth(-600, 1500),
	"mediastinum": FromCenterWidth(40, 400),
	"abdomen":     FromCenterWidth(40, 350),
	"liver":       FromCenterWidth(60, 150),
}

// Presets returns all window presets sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for name, w := range presets {
		out = append(out, Preset{Name: name, Window: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PresetNames returns the preset names sorted alphabetically.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PresetByName looks a preset up case-insensitively. Unknown names produce an
// error suggesting the closest preset.
func PresetByName(name string) (Window, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if w, ok := presets[key]; ok {
		return w, nil
	}
	if suggestion := util.ClosestMatch(key, PresetNames(), 3); suggestion != "" {
		return Window{}, fmt.Errorf("unknown window preset %q, did you mean %q?", name, suggestion)
	}
	return Window{}, fmt.Errorf("unknown window preset %q, valid presets: %v", name, PresetNames())
}

// ParseWindow parses "MIN,MAX" (for example "-1000,170").
func ParseWindow(s string) (Window, error) {
	lo, hi, err := util.ParseFloatPair(s)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window %q: %w", s, err)
	}
	w := Window{Min: lo, Max: hi}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// UnmarshalText accepts the "MIN,MAX" form, so a window can be given as a
// single environment variable or YAML scalar.
func (w *Window) UnmarshalText(text []byte) error {
	parsed, err := ParseWindow(string(text))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
