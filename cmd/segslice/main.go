package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/mrsinham/segslice/cmd/segslice/wizard"
	"github.com/mrsinham/segslice/internal/config"
	"github.com/mrsinham/segslice/internal/imaging"
	"github.com/mrsinham/segslice/internal/phantom"
	"github.com/mrsinham/segslice/internal/render"
	"github.com/mrsinham/segslice/internal/slicer"
	"github.com/mrsinham/segslice/internal/util"
	"github.com/mrsinham/segslice/internal/volume"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	// Check for subcommands (before flag.Parse)
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "wizard":
			// Extract --from flag if present
			var fromConfig string
			for i, arg := range os.Args[2:] {
				if arg == "--from" && i+3 < len(os.Args) {
					fromConfig = os.Args[i+3]
				}
			}
			if err := wizard.Run(fromConfig); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		case "synth":
			if err := runSynth(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		}
	}

	// Input and output
	ctfn := flag.String("ctfn", "", "CT volume: DICOM series directory, DICOM file, NIfTI (.nii, .nii.gz), MetaImage (.mha, .mhd) or NRRD (.nrrd, .nhdr) (required)")
	maskfn := flag.String("maskfn", "", "Segmentation mask volume, same grid as the CT (required)")
	outfn := flag.String("outfn", "", "Output filename prefix, e.g. 'review/case01' (required)")

	// Slice selection
	numSlices := flag.Int("num-slices", slicer.DefaultNumSlices, "Number of slices to render across the mask extent")
	inset := flag.Int("inset", slicer.DefaultInset, "Slices skipped at each end of the mask extent")

	// Display options
	window := flag.String("window", "", "Intensity window 'MIN,MAX' in HU (default: -1000,170)")
	preset := flag.String("preset", "", fmt.Sprintf("Window preset: %v", imaging.PresetNames()))
	colors := flag.String("colors", "", "Comma-separated label colors, label l uses colors[l % len] (default: purple,cyan)")
	opacity := flag.Float64("opacity", 0.5, "Region overlay opacity (0-1)")
	autoscale := flag.Bool("autoscale", true, "Stretch each grayscale slice to its own min/max")
	annotate := flag.Bool("annotate", false, "Draw the slice index in the corner of each page")

	// Output options
	variants := flag.String("variants", "ct,contour,overlay", "Comma-separated variants to render")
	format := flag.String("format", slicer.DefaultFormat, "Output format: pdf, svg, png, jpg, tiff")
	dpi := flag.Float64("dpi", render.DefaultDPI, "Page scale: a slice of N samples at spacing S is N*S/DPI inches")
	saveDPI := flag.Float64("save-dpi", 0, "Raster resolution of each page (0 = slice row count)")
	workers := flag.Int("workers", 1, fmt.Sprintf("Number of parallel render workers (0 = %d CPU cores)", runtime.NumCPU()))
	quiet := flag.Bool("quiet", false, "Suppress progress output")

	// Config options
	configFile := flag.String("config", "", "Load settings from YAML file")
	saveConfig := flag.String("save-config", "", "Save effective settings to YAML file (after rendering)")

	help := flag.Bool("help", false, "Show help message")
	showVersion := flag.Bool("version", false, "Show version")

	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("segslice %s\n", version)
		os.Exit(0)
	}

	// Show help
	if *help {
		printHelp()
		os.Exit(0)
	}

	// Settings layering: defaults, config file, environment, explicit flags
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.LoadFromYAML(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		if flagErr != nil {
			return
		}
		switch f.Name {
		case "ctfn":
			cfg.CTPath = *ctfn
		case "maskfn":
			cfg.MaskPath = *maskfn
		case "outfn":
			cfg.OutPrefix = *outfn
		case "num-slices":
			cfg.Slices.Count = *numSlices
		case "inset":
			cfg.Slices.Inset = *inset
		case "window":
			w, err := imaging.ParseWindow(*window)
			if err != nil {
				flagErr = err
				return
			}
			cfg.Display.Window = w
			cfg.Display.Preset = ""
		case "preset":
			cfg.Display.Preset = *preset
		case "colors":
			cfg.Display.Colors = util.SplitList(*colors)
		case "opacity":
			cfg.Display.OverlayOpacity = *opacity
		case "autoscale":
			cfg.Display.Autoscale = *autoscale
		case "annotate":
			cfg.Display.Annotate = *annotate
		case "variants":
			cfg.Output.Variants = util.SplitList(*variants)
		case "format":
			cfg.Output.Format = *format
		case "dpi":
			cfg.Output.DPI = *dpi
		case "save-dpi":
			cfg.Output.SaveDPI = *saveDPI
		case "workers":
			cfg.Output.Workers = *workers
		case "quiet":
			cfg.Output.Quiet = *quiet
		}
	})
	if flagErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", flagErr)
		os.Exit(1)
	}

	// Validate required arguments
	if cfg.CTPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --ctfn is required\n")
		printUsage()
		os.Exit(1)
	}
	if cfg.MaskPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --maskfn is required\n")
		printUsage()
		os.Exit(1)
	}
	if cfg.OutPrefix == "" {
		fmt.Fprintf(os.Stderr, "Error: --outfn is required\n")
		printUsage()
		os.Exit(1)
	}

	opts, err := cfg.ToOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !opts.Quiet {
		fmt.Println("segslice")
		fmt.Println("========")
		fmt.Println()
	}

	result, err := slicer.Run(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Save config if requested
	if *saveConfig != "" {
		if err := config.SaveToYAML(cfg, *saveConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not save config: %v\n", err)
		} else if !opts.Quiet {
			fmt.Printf("Configuration saved to %s\n", *saveConfig)
		}
	}

	if !opts.Quiet {
		fmt.Println("\n✓ Rendering complete!")
		fmt.Printf("  Slices: %v\n", result.Slices)
		fmt.Printf("  Files:  %d\n", len(result.Files))
	}
}

// runSynth implements the synth subcommand.
func runSynth(args []string) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	def := phantom.DefaultOptions()
	out := fs.String("out", "phantom", "Output directory")
	ctFormat := fs.String("format", phantom.FormatDICOM, fmt.Sprintf("Output layout: %s", strings.Join(phantom.Formats(), ", ")))
	seed := fs.Int64("seed", def.Seed, "Seed for reproducibility")
	size := fs.Int("size", def.Dims.Nx, "In-plane size in voxels (square slices)")
	slices := fs.Int("slices", def.Dims.Nz, "Number of axial slices")
	maskStart := fs.Int("mask-start", 0, "First labelled slice (default: 20% into the volume)")
	maskEnd := fs.Int("mask-end", 0, "Last labelled slice (default: 20% before the end)")
	noise := fs.Float64("noise", def.Noise, "Noise amplitude in HU")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := phantom.Options{
		Dims:      volume.Dims{Nx: *size, Ny: *size, Nz: *slices},
		Spacing:   def.Spacing,
		Seed:      *seed,
		MaskStart: *maskStart,
		MaskEnd:   *maskEnd,
		Noise:     *noise,
	}
	p, err := phantom.Generate(opts)
	if err != nil {
		return err
	}
	ctPath, maskPath, err := p.Write(*out, *ctFormat)
	if err != nil {
		return err
	}

	fmt.Println("✓ Phantom written")
	fmt.Printf("  CT:   %s\n", ctPath)
	fmt.Printf("  Mask: %s\n", maskPath)
	fmt.Printf("\nRender it with:\n  segslice --ctfn %s --maskfn %s --outfn %s\n", ctPath, maskPath, *out+"/review")
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  segslice --ctfn <PATH> --maskfn <PATH> --outfn <PREFIX> [options]")
	fmt.Fprintln(os.Stderr, "\nRequired:")
	flag.PrintDefaults()
}

func printHelp() {
	fmt.Println("segslice")
	fmt.Println("========")
	fmt.Println()
	fmt.Println("Render axial CT slices with segmentation overlays for visual review.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  segslice --ctfn <PATH> --maskfn <PATH> --outfn <PREFIX> [options]")
	fmt.Println("  segslice synth [--out DIR] [--format dicom|nifti|mha|nrrd] [--seed N]")
	fmt.Println("  segslice wizard [--from config.yaml]")
	fmt.Println()
	fmt.Println("Required arguments:")
	fmt.Println("  --ctfn <PATH>         CT volume: DICOM series directory, DICOM file, .nii, .nii.gz,")
	fmt.Println("                        .mha, .mhd, .nrrd or .nhdr")
	fmt.Println("  --maskfn <PATH>       Segmentation mask on the same voxel grid")
	fmt.Println("  --outfn <PREFIX>      Output prefix; pages are written as")
	fmt.Println("                        <PREFIX>_ct_<z>.pdf, <PREFIX>_contour_<z>.pdf, <PREFIX>_overlay_<z>.pdf")
	fmt.Println()
	fmt.Println("Slice selection:")
	fmt.Println("  --num-slices <N>      Slices rendered across the mask extent (default: 20)")
	fmt.Println("  --inset <N>           Slices skipped at each end of the extent (default: 5)")
	fmt.Println()
	fmt.Println("Display options:")
	fmt.Println("  --window <MIN,MAX>    Intensity window in HU (default: -1000,170)")
	fmt.Printf("  --preset <NAME>       Window preset: %v\n", imaging.PresetNames())
	fmt.Println("  --colors <LIST>       Label colors, names, #rrggbb or r,g,b (default: purple,cyan)")
	fmt.Println("  --opacity <F>         Region overlay opacity 0-1 (default: 0.5)")
	fmt.Println("  --autoscale=false     Display slices with the window only, no per-slice stretch")
	fmt.Println("  --annotate            Draw the slice index on each page")
	fmt.Println()
	fmt.Println("Output options:")
	fmt.Println("  --variants <LIST>     Any of ct,contour,overlay (default: all three)")
	fmt.Println("  --format <EXT>        pdf, svg, png, jpg, tiff (default: pdf)")
	fmt.Println("  --dpi <N>             Page scale in samples*mm per inch (default: 100)")
	fmt.Println("  --save-dpi <N>        Raster resolution of each page (default: slice row count)")
	fmt.Printf("  --workers <N>         Parallel render workers (default: 1, 0 = %d CPU cores)\n", runtime.NumCPU())
	fmt.Println("  --quiet               Suppress progress output")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  --config <FILE>       Load settings from YAML")
	fmt.Println("  --save-config <FILE>  Save the effective settings to YAML")
	fmt.Println("  SEGSLICE_* variables  Override the config file, e.g. SEGSLICE_NUM_SLICES=10")
	fmt.Println()
	fmt.Println("  --help                Show this help message")
	fmt.Println("  --version             Show version")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Review a case with the default 20 slices")
	fmt.Println("  segslice --ctfn ct.nii.gz --maskfn seg.nii.gz --outfn review/case01")
	fmt.Println()
	fmt.Println("  # Lung window, PNG pages, 4 workers")
	fmt.Println("  segslice --ctfn ct/ --maskfn seg.nii.gz --outfn out/lung --preset lung --format png --workers 4")
	fmt.Println()
	fmt.Println("  # Generate a synthetic phantom and render it")
	fmt.Println("  segslice synth --out phantom")
	fmt.Println("  segslice --ctfn phantom/ct --maskfn phantom/mask.nii.gz --outfn phantom/review")
}
