package imaging

import (
	"fmt"
	"strconv"
	"strings"
)

// RGB is an 8-bit color sample.
type RGB [3]uint8

var (
	Cyan   = RGB{0, 255, 255}
	Purple = RGB{128, 0, 128}
)

// Gray returns the RGB sample with all channels set to v.
func Gray(v uint8) RGB {
	return RGB{v, v, v}
}

// Colormap assigns colors to label values.
type Colormap []RGB

// DefaultColormap is purple then cyan; with the modulo lookup label 1 is cyan
// and label 2 is purple.
var DefaultColormap = Colormap{Purple, Cyan}

// ColorFor returns the color for label l as colors[l % len(colors)].
func (c Colormap) ColorFor(l uint16) RGB {
	if len(c) == 0 {
		return RGB{}
	}
	return c[int(l)%len(c)]
}

var namedColors = map[string]RGB{
	"cyan":    Cyan,
	"purple":  Purple,
	"red":     {255, 0, 0},
	"green":   {0, 255, 0},
	"blue":    {0, 0, 255},
	"yellow":  {255, 255, 0},
	"magenta": {255, 0, 255},
	"orange":  {255, 165, 0},
	"white":   {255, 255, 255},
}

// ParseColor accepts a color name, "#rrggbb", or "r,g,b".
func ParseColor(s string) (RGB, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}

	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) != 6 {
			return RGB{}, fmt.Errorf("invalid hex color %q", s)
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return RGB{}, fmt.Errorf("invalid hex color %q: %w", s, err)
		}
		return RGB{uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return RGB{}, fmt.Errorf("invalid color %q (use a name, #rrggbb or r,g,b)", s)
	}
	var c RGB
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			return RGB{}, fmt.Errorf("invalid color component %q in %q", p, s)
		}
		c[i] = uint8(v)
	}
	return c, nil
}

// ParseColormap parses a list of colors, for example []string{"purple", "cyan"}.
func ParseColormap(names []string) (Colormap, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("colormap needs at least one color")
	}
	cm := make(Colormap, len(names))
	for i, n := range names {
		c, err := ParseColor(n)
		if err != nil {
			return nil, err
		}
		cm[i] = c
	}
	return cm, nil
}

// Hex formats c as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}
