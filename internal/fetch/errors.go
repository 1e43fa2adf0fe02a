package fetch

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrNotAcquired marks a release of a namespace that has no live entry. The
// registry logs it and carries on.
var ErrNotAcquired = errors.New("fetch: namespace not acquired")

// ConstructionError is returned by Acquire when the subsystem graph of a
// namespace could not be built. Nothing is registered for the namespace.
type ConstructionError struct {
	Namespace string
	Step      string
	Err       error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("fetch: build %q: %s: %v", e.Namespace, e.Step, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// TeardownError collects every failure of the ordered teardown of a
// namespace. The namespace is removed from the registry regardless.
type TeardownError struct {
	Namespace string
	Errs      []error
}

func newTeardownError(namespace string, err error) error {
	if err == nil {
		return nil
	}
	return &TeardownError{Namespace: namespace, Errs: multierr.Errors(err)}
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("fetch: teardown %q: %v", e.Namespace, multierr.Combine(e.Errs...))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *TeardownError) Unwrap() []error { return e.Errs }
