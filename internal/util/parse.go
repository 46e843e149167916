package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFloatPair parses two comma-separated numbers, e.g. "-1000,170".
func ParseFloatPair(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected two comma-separated numbers, got %q", s)
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %q: %w", parts[0], err)
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %q: %w", parts[1], err)
	}
	return a, b, nil
}

// SplitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
