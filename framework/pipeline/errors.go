package pipeline

import "errors"

var (
	// ErrInvalidPipe is returned when a stage is neither callable nor a class
	// the container can build.
	ErrInvalidPipe = errors.New("pipeline: invalid pipe")

	// ErrMissingHandler is returned when a class-name stage resolves to a
	// value that does not implement Pipe.
	ErrMissingHandler = errors.New("pipeline: pipe has no Handle method")
)
