package container

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAbstractNotFound is returned when Make is asked for an abstract that
	// has no binding and no instance.
	ErrAbstractNotFound = errors.New("container: no binding registered")

	// ErrUnresolvableDependency is returned when a struct field or constructor
	// parameter cannot be satisfied by explicit params, bindings, auto-built
	// classes, or defaults.
	ErrUnresolvableDependency = errors.New("container: cannot resolve dependency")

	// ErrClassNotFound is returned when a class name is not in the registry.
	ErrClassNotFound = errors.New("container: class not registered")

	// ErrInvalidConcrete is returned by Bind for concretes it cannot build,
	// such as a struct type with no struct underneath or a constructor with
	// the wrong return shape.
	ErrInvalidConcrete = errors.New("container: invalid concrete")

	// ErrCircularDependency is returned when an abstract depends on itself.
	ErrCircularDependency = errors.New("container: circular dependency")
)

// ResolutionError describes a failed Make call.
type ResolutionError struct {
	Abstract string
	// Path is the chain of abstracts being built when the failure happened,
	// outermost first.
	Path []string
	Err  error
}

func (e *ResolutionError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("resolving [%s]: %v", e.Abstract, e.Err)
	}
	return fmt.Sprintf("resolving [%s] (via %s): %v", e.Abstract, strings.Join(e.Path, " -> "), e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
