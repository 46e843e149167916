package wizard

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	helpPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 2)

	helpTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("63")).
			Bold(true)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	helpDetailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)

// fieldHelp describes one form field.
type fieldHelp struct {
	Title       string
	Description string
	Details     string
}

// helpTexts is keyed by form field key.
var helpTexts = map[string]fieldHelp{
	"ct": {
		Title:       "CT VOLUME",
		Description: "The intensity volume to review, in Hounsfield units.",
		Details: `A directory is read as a DICOM series (largest series, sorted by position).
A .dcm file or a file with a DICM preamble is a single DICOM image.
.nii and .nii.gz files are read as NIfTI-1.
.mha/.mhd files are MetaImage, .nrrd/.nhdr files (including .seg.nrrd) are NRRD.`,
	},
	"mask": {
		Title:       "SEGMENTATION MASK",
		Description: "Integer label volume on the same voxel grid as the CT.",
		Details:     "Label 0 is background. Label l is drawn with colors[l % len(colors)].",
	},
	"out": {
		Title:       "OUTPUT PREFIX",
		Description: "Prefix of every written page.",
		Details:     "Pages are named <prefix>_ct_<z>, <prefix>_contour_<z> and <prefix>_overlay_<z>. Missing directories are created.",
	},
	"preset": {
		Title:       "INTENSITY WINDOW",
		Description: "HU range mapped onto black to white.",
		Details:     "The configured window defaults to [-1000, 170]. Presets are given as center/width.",
	},
	"num_slices": {
		Title:       "NUMBER OF SLICES",
		Description: "Axial slices rendered across the mask extent.",
		Details:     "Slices are evenly spaced. Narrow masks give fewer slices, never duplicates.",
	},
	"inset": {
		Title:       "INSET",
		Description: "Slices skipped at each end of the mask extent.",
		Details:     "The end slices of a segmentation are often partial. Default: 5.",
	},
	"variants": {
		Title:       "VARIANTS",
		Description: "Pages written for every selected slice.",
		Details: `ct: windowed grayscale
contour: label outlines over the CT
overlay: translucent label regions over the CT`,
	},
	"format": {
		Title:       "OUTPUT FORMAT",
		Description: "File format of the pages.",
		Details:     "PDF and SVG embed the page raster; PNG, JPEG and TIFF write it directly.",
	},
	"annotate": {
		Title:       "ANNOTATE",
		Description: "Draw the slice index in the top-left corner.",
	},
	"save_config": {
		Title:       "SAVE SETTINGS",
		Description: "Write the settings to a YAML file before rendering.",
		Details:     "Reuse it with segslice --config <file> or segslice wizard --from <file>.",
	},
}

// helpView renders the help panel for the field with key, width columns wide.
func helpView(key string, width int) string {
	style := helpPanelStyle.Width(width - 4)

	text, ok := helpTexts[key]
	if !ok {
		return style.Render("Select a field to see help")
	}

	var sb strings.Builder
	sb.WriteString(helpTitleStyle.Render(text.Title))
	sb.WriteString("\n\n")
	sb.WriteString(helpDescStyle.Render(text.Description))
	if text.Details != "" {
		sb.WriteString("\n\n")
		sb.WriteString(helpDetailStyle.Render(text.Details))
	}
	return style.Render(sb.String())
}
