package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced entity or version does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrHistoryRewrite is returned when a change would alter the catalog as
	// it existed at an already published version.
	ErrHistoryRewrite = errors.New("catalog: change would rewrite published history")
	// ErrConcurrentUpdate is returned when a prepared change is committed
	// after another change has been published.
	ErrConcurrentUpdate = errors.New("catalog: concurrent update")
	// ErrInvalidEntity is returned for entities that fail basic shape checks.
	ErrInvalidEntity = errors.New("catalog: invalid entity")
)

// IntegrityError reports an inconsistent catalog: a dangling reference,
// an impossible constraint, or overlapping validity intervals.
type IntegrityError struct {
	Kind   EntityKind
	ID     string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("catalog integrity: %s %q: %s", e.Kind, e.ID, e.Reason)
}

func integrityf(kind EntityKind, id, format string, args ...any) *IntegrityError {
	return &IntegrityError{Kind: kind, ID: id, Reason: fmt.Sprintf(format, args...)}
}
