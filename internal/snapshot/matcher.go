package snapshot

import "strings"

// Matcher classifies process names as applications by case-insensitive
// substring containment against an ordered pattern set.
type Matcher struct {
	patterns []string
}

// NewMatcher lower-cases and de-duplicates patterns, keeping first-seen order.
// Blank patterns are ignored since they would match every process.
func NewMatcher(patterns []string) *Matcher {
	seen := make(map[string]bool, len(patterns))
	m := &Matcher{patterns: make([]string, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		m.patterns = append(m.patterns, p)
	}
	return m
}

// Match reports whether name contains any pattern.
func (m *Matcher) Match(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, p := range m.patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the normalized pattern set.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}
