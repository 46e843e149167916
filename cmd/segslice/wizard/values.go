package wizard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/mrsinham/segslice/internal/config"
	"github.com/mrsinham/segslice/internal/imaging"
)

// customPreset is the select value that keeps the configured window.
const customPreset = ""

// formValues holds the form bindings (huh binds numbers as strings).
type formValues struct {
	CTPath     string
	MaskPath   string
	OutPrefix  string
	Preset     string
	NumSlices  string
	Inset      string
	Format     string
	Variants   []string
	Annotate   bool
	SaveConfig string
}

// newFormValues fills the form from cfg.
func newFormValues(cfg config.Config) *formValues {
	return &formValues{
		CTPath:    cfg.CTPath,
		MaskPath:  cfg.MaskPath,
		OutPrefix: cfg.OutPrefix,
		Preset:    strings.ToLower(cfg.Display.Preset),
		NumSlices: strconv.Itoa(cfg.Slices.Count),
		Inset:     strconv.Itoa(cfg.Slices.Inset),
		Format:    cfg.Output.Format,
		Variants:  append([]string(nil), cfg.Output.Variants...),
		Annotate:  cfg.Display.Annotate,
	}
}

// apply copies the form values onto cfg and validates the result.
func (v *formValues) apply(cfg *config.Config) error {
	numSlices, err := strconv.Atoi(strings.TrimSpace(v.NumSlices))
	if err != nil {
		return fmt.Errorf("number of slices: must be a number")
	}
	inset, err := strconv.Atoi(strings.TrimSpace(v.Inset))
	if err != nil {
		return fmt.Errorf("inset: must be a number")
	}

	cfg.CTPath = strings.TrimSpace(v.CTPath)
	cfg.MaskPath = strings.TrimSpace(v.MaskPath)
	cfg.OutPrefix = strings.TrimSpace(v.OutPrefix)
	cfg.Display.Preset = v.Preset
	cfg.Slices.Count = numSlices
	cfg.Slices.Inset = inset
	cfg.Output.Format = v.Format
	cfg.Output.Variants = append([]string(nil), v.Variants...)
	cfg.Display.Annotate = v.Annotate
	// Progress is shown by the wizard itself
	cfg.Output.Quiet = true

	return cfg.Validate()
}

func validateRequired(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if n <= 0 {
		return fmt.Errorf("must be greater than 0")
	}
	return nil
}

func validateNonNegativeInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if n < 0 {
		return fmt.Errorf("must be 0 or more")
	}
	return nil
}

// presetOptions lists the window presets, plus the configured window first.
func presetOptions(current imaging.Window) []huh.Option[string] {
	opts := []huh.Option[string]{
		huh.NewOption(fmt.Sprintf("configured window %s", current), customPreset),
	}
	for _, p := range imaging.Presets() {
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s %s", p.Name, p.Window), p.Name))
	}
	return opts
}

// newForm builds the settings form bound to v.
func newForm(v *formValues, current imaging.Window) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("ct").
				Title("CT volume").
				Description("DICOM series directory, DICOM file, .nii or .nii.gz").
				Value(&v.CTPath).
				Validate(validateRequired("CT volume")),

			huh.NewInput().
				Key("mask").
				Title("Segmentation mask").
				Description("Label volume on the same grid as the CT").
				Value(&v.MaskPath).
				Validate(validateRequired("mask volume")),

			huh.NewInput().
				Key("out").
				Title("Output prefix").
				Placeholder("e.g., review/case01").
				Value(&v.OutPrefix).
				Validate(validateRequired("output prefix")),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("preset").
				Title("Intensity window").
				Options(presetOptions(current)...).
				Value(&v.Preset),

			huh.NewInput().
				Key("num_slices").
				Title("Number of slices").
				Value(&v.NumSlices).
				Validate(validatePositiveInt),

			huh.NewInput().
				Key("inset").
				Title("Inset at each end of the mask").
				Value(&v.Inset).
				Validate(validateNonNegativeInt),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Key("variants").
				Title("Variants").
				Options(huh.NewOptions("ct", "contour", "overlay")...).
				Value(&v.Variants).
				Validate(func(s []string) error {
					if len(s) == 0 {
						return fmt.Errorf("select at least one variant")
					}
					return nil
				}),

			huh.NewSelect[string]().
				Key("format").
				Title("Output format").
				Options(huh.NewOptions("pdf", "svg", "png", "jpg", "tiff")...).
				Value(&v.Format),

			huh.NewConfirm().
				Key("annotate").
				Title("Draw slice index on each page?").
				Value(&v.Annotate),

			huh.NewInput().
				Key("save_config").
				Title("Save settings to (optional)").
				Placeholder("e.g., segslice.yaml").
				Value(&v.SaveConfig),
		),
	).WithShowHelp(false).WithShowErrors(true)
}
