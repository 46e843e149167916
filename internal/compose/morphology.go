package compose

import "image"

// ellipseOffsets returns the offsets covered by a flat elliptical structuring
// element with radii rx and ry. A zero radius collapses that axis.
func ellipseOffsets(rx, ry int) []image.Point {
	var offs []image.Point
	for dy := -ry; dy <= ry; dy++ {
		for dx := -rx; dx <= rx; dx++ {
			var d float64
			if rx > 0 {
				d += float64(dx*dx) / float64(rx*rx)
			}
			if ry > 0 {
				d += float64(dy*dy) / float64(ry*ry)
			}
			if d <= 1 {
				offs = append(offs, image.Point{X: dx, Y: dy})
			}
		}
	}
	return offs
}

// dilate returns the binary dilation of mask (w×h, row-major) by offs.
// Only set pixels are visited, so sparse masks are cheap.
func dilate(mask []bool, w, h int, offs []image.Point) []bool {
	out := make([]bool, len(mask))
	for i, set := range mask {
		if !set {
			continue
		}
		x, y := i%w, i/w
		for _, o := range offs {
			nx, ny := x+o.X, y+o.Y
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			out[ny*w+nx] = true
		}
	}
	return out
}

// innerRing returns the pixels of mask removed by an erosion with offs, that is
// mask minus erode(mask). Pixels outside the image count as foreground, so the
// image border does not produce a contour.
func innerRing(mask []bool, w, h int, offs []image.Point) []bool {
	out := make([]bool, len(mask))
	for i, set := range mask {
		if !set {
			continue
		}
		x, y := i%w, i/w
		for _, o := range offs {
			nx, ny := x+o.X, y+o.Y
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			if !mask[ny*w+nx] {
				out[i] = true
				break
			}
		}
	}
	return out
}
