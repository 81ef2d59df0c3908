package task

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Category classifies a task.
type Category string

const (
	CategoryPersonal Category = "personal"
	CategoryWork     Category = "work"
)

// categoryMatchThreshold is the minimum Jaro-Winkler similarity for a free-form
// category string to be mapped onto a known category.
const categoryMatchThreshold = 0.85

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	return c == CategoryPersonal || c == CategoryWork
}

// NormalizeCategory maps a free-form category string (as produced by the
// remote parser) onto a [Category]. Exact matches win; otherwise the closest
// known category by Jaro-Winkler similarity is used if it clears
// categoryMatchThreshold. Everything else falls back to personal.
func NormalizeCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryPersonal
	}
	if c := Category(s); c.IsValid() {
		return c
	}

	best, bestScore := CategoryPersonal, 0.0
	for _, c := range []Category{CategoryPersonal, CategoryWork} {
		if score := matchr.JaroWinkler(s, string(c), false); score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore >= categoryMatchThreshold {
		return best
	}
	return CategoryPersonal
}
