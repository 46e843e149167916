// Package config holds the segslice settings file and its layering:
// defaults, then a YAML file, then SEGSLICE_* environment variables. The
// command line applies flags on top.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/mrsinham/segslice/internal/compose"
	"github.com/mrsinham/segslice/internal/imaging"
	"github.com/mrsinham/segslice/internal/render"
	"github.com/mrsinham/segslice/internal/slicer"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "SEGSLICE_"

// Config represents the complete settings for YAML serialization.
type Config struct {
	CTPath    string `yaml:"ct,omitempty" env:"CTFN"`
	MaskPath  string `yaml:"mask,omitempty" env:"MASKFN"`
	OutPrefix string `yaml:"out,omitempty" env:"OUTFN"`

	Slices  SlicesConfig  `yaml:"slices"`
	Display DisplayConfig `yaml:"display"`
	Output  OutputConfig  `yaml:"output"`
}

// SlicesConfig controls slice selection.
type SlicesConfig struct {
	Count int `yaml:"count" env:"NUM_SLICES"`
	Inset int `yaml:"inset" env:"INSET"`
}

// DisplayConfig controls windowing and the label overlays.
type DisplayConfig struct {
	// Preset, when set, takes precedence over Window.
	Preset           string         `yaml:"preset,omitempty" env:"PRESET"`
	Window           imaging.Window `yaml:"window" env:"WINDOW"`
	Colors           []string       `yaml:"colors" env:"COLORS" envSeparator:","`
	Background       uint16         `yaml:"background" env:"BACKGROUND"`
	ContourOpacity   float64        `yaml:"contour_opacity" env:"CONTOUR_OPACITY"`
	OverlayOpacity   float64        `yaml:"overlay_opacity" env:"OVERLAY_OPACITY"`
	ContourThickness int            `yaml:"contour_thickness" env:"CONTOUR_THICKNESS"`
	DilationRadius   int            `yaml:"dilation_radius" env:"DILATION_RADIUS"`
	Autoscale        bool           `yaml:"autoscale" env:"AUTOSCALE"`
	Annotate         bool           `yaml:"annotate" env:"ANNOTATE"`
}

// OutputConfig controls the written pages.
type OutputConfig struct {
	Format   string   `yaml:"format" env:"FORMAT"`
	Variants []string `yaml:"variants" env:"VARIANTS" envSeparator:","`
	DPI      float64  `yaml:"dpi" env:"DPI"`
	SaveDPI  float64  `yaml:"save_dpi" env:"SAVE_DPI"`
	Workers  int      `yaml:"workers" env:"WORKERS"`
	Quiet    bool     `yaml:"-" env:"QUIET"`
}

// Default returns the built-in settings.
func Default() Config {
	cs := compose.DefaultSettings()
	return Config{
		Slices: SlicesConfig{
			Count: slicer.DefaultNumSlices,
			Inset: slicer.DefaultInset,
		},
		Display: DisplayConfig{
			Window:           cs.Window,
			Colors:           []string{"purple", "cyan"},
			Background:       cs.Background,
			ContourOpacity:   cs.ContourOpacity,
			OverlayOpacity:   cs.OverlayOpacity,
			ContourThickness: cs.ContourThickness[0],
			DilationRadius:   cs.DilationRadius[0],
			Autoscale:        true,
		},
		Output: OutputConfig{
			Format:   slicer.DefaultFormat,
			Variants: []string{"ct", "contour", "overlay"},
			DPI:      render.DefaultDPI,
			Workers:  1,
		},
	}
}

// LoadFromYAML reads a settings file on top of the defaults. Keys missing from
// the file keep their default value; unknown keys are an error.
func LoadFromYAML(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing YAML: %w", err)
	}
	return cfg, nil
}

// SaveToYAML writes cfg to path.
func SaveToYAML(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with SEGSLICE_* variables from environ. A nil environ
// reads the process environment. Unset variables leave fields unchanged.
func (c *Config) ApplyEnv(environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ResolveWindow returns the preset window when Preset is set, Window otherwise.
func (c Config) ResolveWindow() (imaging.Window, error) {
	if c.Display.Preset != "" {
		return imaging.PresetByName(c.Display.Preset)
	}
	if err := c.Display.Window.Validate(); err != nil {
		return imaging.Window{}, err
	}
	return c.Display.Window, nil
}

// ComposeSettings converts the display section to compositor settings.
func (c Config) ComposeSettings() (compose.Settings, error) {
	w, err := c.ResolveWindow()
	if err != nil {
		return compose.Settings{}, err
	}
	cm, err := imaging.ParseColormap(c.Display.Colors)
	if err != nil {
		return compose.Settings{}, err
	}
	s := compose.Settings{
		Window:           w,
		Colormap:         cm,
		Background:       c.Display.Background,
		ContourOpacity:   c.Display.ContourOpacity,
		OverlayOpacity:   c.Display.OverlayOpacity,
		ContourThickness: [2]int{c.Display.ContourThickness, c.Display.ContourThickness},
		DilationRadius:   [2]int{c.Display.DilationRadius, c.Display.DilationRadius},
	}
	if err := s.Validate(); err != nil {
		return compose.Settings{}, err
	}
	return s, nil
}

// Renderer returns the page renderer described by the settings.
func (c Config) Renderer() render.Renderer {
	return render.Renderer{
		DPI:       c.Output.DPI,
		SaveDPI:   c.Output.SaveDPI,
		Autoscale: c.Display.Autoscale,
	}
}

// Validate checks the numeric settings and the names the config refers to.
func (c Config) Validate() error {
	if c.Slices.Count <= 0 {
		return fmt.Errorf("slice count must be > 0, got %d", c.Slices.Count)
	}
	if c.Slices.Inset < 0 {
		return fmt.Errorf("inset must be >= 0, got %d", c.Slices.Inset)
	}
	if c.Output.DPI <= 0 {
		return fmt.Errorf("dpi must be > 0, got %g", c.Output.DPI)
	}
	if c.Output.SaveDPI < 0 {
		return fmt.Errorf("save dpi must be >= 0, got %g", c.Output.SaveDPI)
	}
	if c.Output.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Output.Workers)
	}
	if _, err := render.FormatOf("page." + c.Output.Format); err != nil {
		return err
	}
	if _, err := c.variants(); err != nil {
		return err
	}
	_, err := c.ComposeSettings()
	return err
}

func (c Config) variants() ([]compose.Variant, error) {
	return compose.ParseVariants(strings.Join(c.Output.Variants, ","))
}

// ToOptions converts the settings to pipeline options.
func (c Config) ToOptions() (slicer.Options, error) {
	if err := c.Validate(); err != nil {
		return slicer.Options{}, err
	}
	cs, err := c.ComposeSettings()
	if err != nil {
		return slicer.Options{}, err
	}
	variants, err := c.variants()
	if err != nil {
		return slicer.Options{}, err
	}
	return slicer.Options{
		CTPath:    c.CTPath,
		MaskPath:  c.MaskPath,
		OutPrefix: c.OutPrefix,
		Compose:   cs,
		Renderer:  c.Renderer(),
		NumSlices: c.Slices.Count,
		Inset:     c.Slices.Inset,
		Variants:  variants,
		Format:    c.Output.Format,
		Annotate:  c.Display.Annotate,
		Workers:   c.Output.Workers,
		Quiet:     c.Output.Quiet,
	}, nil
}
