package slicer

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/mrsinham/segslice/internal/compose"
	"github.com/mrsinham/segslice/internal/imaging"
	"github.com/mrsinham/segslice/internal/render"
	"github.com/mrsinham/segslice/internal/volume"
)

// DefaultFormat is the output file extension used when Options.Format is empty.
const DefaultFormat = "pdf"

// Options contains all parameters needed to render a review set
type Options struct {
	CTPath    string
	MaskPath  string
	OutPrefix string // Output filename prefix, e.g. "out/case01"

	Compose  compose.Settings
	Renderer render.Renderer

	NumSlices int               // Slices picked across the mask extent (default 20)
	Inset     int               // Slices skipped at each end of the extent
	Variants  []compose.Variant // Variants to render (empty = all)
	Format    string            // Output extension without dot (default pdf)
	Annotate  bool              // Draw the slice index on each page
	Workers   int               // Parallel render workers (0 = CPU cores, 1 = sequential)

	// Output control
	Quiet            bool                     // Suppress progress output
	ProgressCallback func(current, total int) // Optional callback for progress updates
}

// DefaultOptions returns options with the review defaults and no paths set.
func DefaultOptions() Options {
	return Options{
		Compose:   compose.DefaultSettings(),
		Renderer:  render.NewRenderer(),
		NumSlices: DefaultNumSlices,
		Inset:     DefaultInset,
		Variants:  compose.AllVariants(),
		Format:    DefaultFormat,
		Workers:   1,
	}
}

// OutputFile describes one rendered page.
type OutputFile struct {
	Path    string
	Variant compose.Variant
	Slice   int
}

// Result summarizes a run.
type Result struct {
	ZMin, ZMax int
	Slices     []int
	Files      []OutputFile
}

// renderTask contains all data needed to render a single page
type renderTask struct {
	index   int
	variant compose.Variant
	slice   int
	path    string
}

// OutputPath returns the file name for one (variant, slice) page:
// {prefix}_{variant}_{slice}.{format}.
func OutputPath(prefix string, v compose.Variant, slice int, format string) string {
	return fmt.Sprintf("%s_%s_%d.%s", prefix, v, slice, format)
}

func (o *Options) normalize() error {
	if o.NumSlices == 0 {
		o.NumSlices = DefaultNumSlices
	}
	if o.NumSlices < 0 {
		return fmt.Errorf("number of slices must be > 0, got %d", o.NumSlices)
	}
	if o.Inset < 0 {
		return fmt.Errorf("inset must be >= 0, got %d", o.Inset)
	}
	if len(o.Variants) == 0 {
		o.Variants = compose.AllVariants()
	}
	o.Format = strings.ToLower(strings.TrimPrefix(o.Format, "."))
	if o.Format == "" {
		o.Format = DefaultFormat
	}
	if _, err := render.FormatOf("page." + o.Format); err != nil {
		return err
	}
	if o.OutPrefix == "" {
		return fmt.Errorf("output prefix is required")
	}
	return nil
}

// Run loads the CT and mask volumes, composes the display volumes, selects the
// slices across the mask extent and renders every selected (slice, variant).
func Run(opts Options) (*Result, error) {
	if opts.CTPath == "" || opts.MaskPath == "" {
		return nil, fmt.Errorf("both CT and mask paths are required")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	if !opts.Quiet {
		fmt.Printf("Loading CT volume: %s\n", opts.CTPath)
		fmt.Printf("Loading mask volume: %s\n", opts.MaskPath)
	}
	c, ct, err := compose.Load(opts.CTPath, opts.MaskPath, opts.Compose)
	if err != nil {
		return nil, err
	}

	if !opts.Quiet {
		printSummary(ct, c, opts.Compose.Colormap)
	}

	zmin, zmax, err := MaskExtent(c.Labels)
	if err != nil {
		return nil, err
	}
	slices, err := SelectSlices(zmin, zmax, opts.Inset, opts.NumSlices)
	if err != nil {
		return nil, err
	}
	if !opts.Quiet {
		fmt.Printf("Mask extent: slices %d-%d, rendering %d slices: %v\n", zmin, zmax, len(slices), slices)
	}

	files, err := RenderSlices(c, slices, opts)
	if err != nil {
		return nil, err
	}
	return &Result{ZMin: zmin, ZMax: zmax, Slices: slices, Files: files}, nil
}

func printSummary(ct *volume.Grid[float64], c *compose.Composite, cm imaging.Colormap) {
	s := volume.ComputeStats(ct)
	fmt.Printf("Volume: %s voxels\n", ct.Dims)
	fmt.Printf("Spacing: [%g %g %g] mm\n", ct.Spacing[0], ct.Spacing[1], ct.Spacing[2])
	fmt.Printf("Intensity: min %.1f, max %.1f, mean %.1f, std %.1f\n", s.Min, s.Max, s.Mean, s.Std)
	for _, line := range labelSummary(c.Labels, cm) {
		fmt.Println(line)
	}
}

// labelSummary lists every nonzero label with its voxel count and display color.
func labelSummary(labels *volume.Grid[uint16], cm imaging.Colormap) []string {
	counts := volume.CountLabels(labels)
	lines := make([]string, 0, len(counts))
	for _, lc := range counts {
		lines = append(lines, fmt.Sprintf("  Label %d: %d voxels, color %s", lc.Label, lc.Voxels, cm.ColorFor(lc.Label).Hex()))
	}
	return lines
}

// RenderSlices renders every variant of every slice in slices from c. Pages are
// written by opts.Workers workers; the first error aborts the result.
func RenderSlices(c *compose.Composite, slices []int, opts Options) ([]OutputFile, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(opts.OutPrefix); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	// Phase 1: build the task list in output order
	var tasks []renderTask
	for _, z := range slices {
		for _, v := range opts.Variants {
			tasks = append(tasks, renderTask{
				index:   len(tasks),
				variant: v,
				slice:   z,
				path:    OutputPath(opts.OutPrefix, v, z, opts.Format),
			})
		}
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	// Phase 2: render tasks in parallel
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	// Don't use more workers than tasks
	if numWorkers > len(tasks) {
		numWorkers = len(tasks)
	}

	spacing := c.Spacing()
	renderOne := func(task renderTask) error {
		img, err := c.SliceImage(task.variant, task.slice)
		if err != nil {
			return err
		}
		label := ""
		if opts.Annotate {
			label = fmt.Sprintf("z=%d", task.slice)
		}
		if !opts.Quiet {
			fmt.Printf("save %s %s\n", task.variant, task.path)
		}
		return opts.Renderer.RenderLabeled(img, spacing, task.path, label)
	}

	taskChan := make(chan renderTask, len(tasks))
	resultChan := make(chan struct {
		index int
		err   error
	}, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				err := renderOne(task)
				resultChan <- struct {
					index int
					err   error
				}{task.index, err}
			}
		}()
	}

	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	// Collect results and track progress
	completed := 0
	var firstErr error
	for result := range resultChan {
		if result.err != nil && firstErr == nil {
			t := tasks[result.index]
			firstErr = fmt.Errorf("render %s slice %d: %w", t.variant, t.slice, result.err)
		}
		completed++
		if opts.ProgressCallback != nil {
			opts.ProgressCallback(completed, len(tasks))
		}
		if !opts.Quiet && (completed%10 == 0 || completed == len(tasks)) {
			progress := float64(completed) / float64(len(tasks)) * 100
			fmt.Printf("  Progress: %d/%d (%.0f%%)\n", completed, len(tasks), progress)
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}

	files := make([]OutputFile, len(tasks))
	for i, task := range tasks {
		files[i] = OutputFile{Path: task.path, Variant: task.variant, Slice: task.slice}
	}

	if !opts.Quiet {
		fmt.Printf("\n✓ %d pages written with prefix %s\n", len(files), opts.OutPrefix)
	}
	return files, nil
}
