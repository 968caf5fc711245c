package match

import "strings"

// Jaccard returns |a ∩ b| / |a ∪ b| over two word sets. Two empty sets
// score 0.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, w := range a {
		set[w] = struct{}{}
	}

	union := len(set)
	inter := 0
	seen := make(map[string]struct{}, len(b))
	for _, w := range b {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := set[w]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// URLContains reports whether either normalized URL contains the other.
func URLContains(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
