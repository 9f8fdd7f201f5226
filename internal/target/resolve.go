package target

import (
	"sort"
	"strings"
)

// Resolution is the outcome of resolving a target query.
type Resolution struct {
	// Selected is the resolved target when exactly one applies.
	Selected *Target

	// Matches is the ranked candidate list for a partial query.
	Matches []Target
}

// Resolve maps an explicit name (possibly empty) to a target.
//
// With a name: an exact case-sensitive match wins; otherwise a ranked
// case-insensitive substring search across all names produces
// suggestions, with exact-prefix matches ranked above interior
// matches, and a NotFoundError is returned carrying them. With no
// name: a singleton registry auto-selects; anything else is
// AmbiguousError. An arbitrary target is never silently chosen.
func (r *Registry) Resolve(name string) (*Resolution, error) {
	if name == "" {
		switch len(r.targets) {
		case 0:
			return nil, ErrNoTargets
		case 1:
			t := r.targets[0]
			return &Resolution{Selected: &t}, nil
		default:
			return nil, &AmbiguousError{Candidates: r.Names()}
		}
	}

	if t, ok := r.Lookup(name); ok {
		return &Resolution{Selected: &t}, nil
	}

	matches := r.Suggest(name)
	if len(matches) == 0 {
		return nil, &NotFoundError{Query: name}
	}
	if len(matches) == 1 {
		t := matches[0]
		return &Resolution{Selected: &t, Matches: matches}, nil
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Name
	}
	return &Resolution{Matches: matches}, &NotFoundError{Query: name, Suggestions: names}
}

// Suggest returns the ranked case-insensitive substring matches for
// query: prefix matches first, interior matches after, each group
// alphabetical.
func (r *Registry) Suggest(query string) []Target {
	q := strings.ToLower(query)
	var prefix, interior []Target
	for _, t := range r.targets {
		lower := strings.ToLower(t.Name)
		switch {
		case strings.HasPrefix(lower, q):
			prefix = append(prefix, t)
		case strings.Contains(lower, q):
			interior = append(interior, t)
		}
	}
	sort.Slice(prefix, func(i, j int) bool { return prefix[i].Name < prefix[j].Name })
	sort.Slice(interior, func(i, j int) bool { return interior[i].Name < interior[j].Name })
	return append(prefix, interior...)
}
