// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// SplitList splits each value on commas and returns the trimmed, non-empty
// parts with duplicates removed. Order is preserved.
//
// Example:
//
//	SplitList("mint, transfer", "mint", " ")
//	// Returns: []string{"mint", "transfer"}
func SplitList(values ...string) []string {
	var result []string
	seen := make(map[string]struct{})
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if _, ok := seen[trimmed]; !ok {
				seen[trimmed] = struct{}{}
				result = append(result, trimmed)
			}
		}
	}
	return result
}
