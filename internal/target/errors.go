package target

import (
	"errors"
	"fmt"
	"strings"
)

// Registry errors.
var (
	// ErrNoTargets is returned when a scan finds nothing runnable.
	ErrNoTargets = errors.New("no runnable targets found")

	// ErrDuplicateName is returned when a scan produces two targets
	// with the same name.
	ErrDuplicateName = errors.New("duplicate target name")
)

// NotFoundError is returned when an explicit target name matches
// nothing. It carries the ranked suggestion list so callers can
// present partial matches instead of failing silently.
type NotFoundError struct {
	Query       string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("no target named %q", e.Query)
	}
	return fmt.Sprintf("no target named %q (did you mean: %s)",
		e.Query, strings.Join(e.Suggestions, ", "))
}

// AmbiguousError is returned when no explicit name was given and more
// than one candidate exists, so nothing can be auto-selected.
type AmbiguousError struct {
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d targets available, specify one of: %s",
		len(e.Candidates), strings.Join(e.Candidates, ", "))
}
