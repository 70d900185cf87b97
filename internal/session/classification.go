package session

import (
	"fmt"
	"sort"
)

// classifications is the closed set of project categories and the per-image
// type tags each one allows.
var classifications = map[string][]string{
	"editorial": {"cover", "inner-pages"},
	"social":    {"newsletter", "instagram", "x", "logo", "banner"},
}

// Classifications returns the known classification names, sorted.
func Classifications() []string {
	names := make([]string, 0, len(classifications))
	for name := range classifications {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllowedTags returns the type tags valid under a classification.
func AllowedTags(classification string) ([]string, bool) {
	tags, ok := classifications[classification]
	return tags, ok
}

func tagAllowed(classification, tag string) bool {
	for _, t := range classifications[classification] {
		if t == tag {
			return true
		}
	}
	return false
}

// ValidationError reports bad or incomplete user input. Field names the
// offending input (or the offending image's filename) so the UI can point
// at it. No state is mutated before validation passes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
