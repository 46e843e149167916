package util

// ClosestMatch returns the candidate with the smallest Levenshtein distance to
// input, or "" when every candidate is further than maxDistance.
func ClosestMatch(input string, candidates []string, maxDistance int) string {
	bestDistance := maxDistance + 1
	var bestMatch string

	for _, c := range candidates {
		distance := levenshteinDistance(input, c)
		if distance < bestDistance {
			bestDistance = distance
			bestMatch = c
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance calculates the Levenshtein distance between two strings.
// This is the minimum number of single-character edits (insertions, deletions,
// or substitutions) required to change one string into the other.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Single rolling row instead of the full matrix
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
