package compose

import (
	"sort"

	"github.com/mrsinham/segslice/internal/imaging"
)

// blend mixes a label color over a gray sample: color*opacity + gray*(1-opacity),
// truncated to 8 bits.
func blend(gray uint8, c imaging.RGB, opacity float64) imaging.RGB {
	var out imaging.RGB
	for i := range out {
		out[i] = uint8(float64(c[i])*opacity + float64(gray)*(1-opacity))
	}
	return out
}

// OverlaySlice colors every labelled pixel of one slice with its label color
// blended at s.OverlayOpacity. Background pixels keep their gray value.
func OverlaySlice(gray []uint8, labels []uint16, s Settings) []imaging.RGB {
	out := make([]imaging.RGB, len(gray))
	for i, g := range gray {
		l := labels[i]
		if l == s.Background {
			out[i] = imaging.Gray(g)
			continue
		}
		out[i] = blend(g, s.Colormap.ColorFor(l), s.OverlayOpacity)
	}
	return out
}

// ContourSlice draws the outline of every label region of one w×h slice. Each
// region is first dilated by s.DilationRadius; the outline is the band of the
// dilated region removed by an erosion of s.ContourThickness. Higher labels
// are painted over lower ones.
func ContourSlice(gray []uint8, labels []uint16, w, h int, s Settings) []imaging.RGB {
	out := make([]imaging.RGB, len(gray))
	for i, g := range gray {
		out[i] = imaging.Gray(g)
	}

	present := make(map[uint16]bool)
	for _, l := range labels {
		if l != s.Background {
			present[l] = true
		}
	}
	if len(present) == 0 {
		return out
	}
	order := make([]uint16, 0, len(present))
	for l := range present {
		order = append(order, l)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	dilation := ellipseOffsets(s.DilationRadius[0], s.DilationRadius[1])
	thickness := ellipseOffsets(s.ContourThickness[0], s.ContourThickness[1])

	region := make([]bool, len(labels))
	for _, l := range order {
		for i, v := range labels {
			region[i] = v == l
		}
		ring := innerRing(dilate(region, w, h, dilation), w, h, thickness)
		c := s.Colormap.ColorFor(l)
		for i, on := range ring {
			if on {
				out[i] = blend(gray[i], c, s.ContourOpacity)
			}
		}
	}
	return out
}
