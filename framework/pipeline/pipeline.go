// Package pipeline threads a payload through an ordered list of stages.
//
//	res, err := pipeline.New[*Order, *Receipt](app).
//	    Send(order).
//	    Through(validate, "ApplyDiscount:10", &ChargeCard{}).
//	    Then(func(o *Order) (*Receipt, error) { return o.Receipt(), nil })
//
// Each stage receives the payload and the rest of the chain. A stage that
// returns without calling next ends the chain with its own result.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/km-arc/go-kernel/framework/container"
)

// Next is the remainder of the chain.
type Next[T, R any] func(payload T) (R, error)

// Stage is a function stage.
type Stage[T, R any] func(payload T, next Next[T, R]) (R, error)

// Pipe is implemented by stage objects and by classes named in Through.
type Pipe[T, R any] interface {
	Handle(payload T, next Next[T, R]) (R, error)
}

// ParametersParam is the explicit param name under which the arguments of a
// "name:arg1,arg2" stage are passed to the class being built. A class picks
// them up with a field tagged `inject:",optional"` named Parameters.
const ParametersParam = "Parameters"

// Pipeline sends a payload of type T through stages producing an R.
type Pipeline[T, R any] struct {
	container *container.Container
	passable  T
	pipes     []any
}

// New creates a pipeline. c builds the class-name stages and may be nil when
// only function and Pipe stages are used.
func New[T, R any](c *container.Container) *Pipeline[T, R] {
	return &Pipeline[T, R]{container: c}
}

// Send sets the payload.
func (p *Pipeline[T, R]) Send(payload T) *Pipeline[T, R] {
	p.passable = payload
	return p
}

// Through replaces the stage list. A stage is a Stage func, a value
// implementing Pipe, or the name of a class registered in the container,
// optionally followed by ":arg1,arg2".
func (p *Pipeline[T, R]) Through(pipes ...any) *Pipeline[T, R] {
	p.pipes = append([]any(nil), pipes...)
	return p
}

// Pipe appends stages to the list.
func (p *Pipeline[T, R]) Pipe(pipes ...any) *Pipeline[T, R] {
	p.pipes = append(p.pipes, pipes...)
	return p
}

// Then runs the pipeline with destination as the final stage.
func (p *Pipeline[T, R]) Then(destination Next[T, R]) (R, error) {
	next := destination
	for i := len(p.pipes) - 1; i >= 0; i-- {
		next = p.carry(p.pipes[i], next)
	}
	return next(p.passable)
}

// ThenReturn runs the pipeline with a destination that returns the zero R.
func (p *Pipeline[T, R]) ThenReturn() (R, error) {
	return p.Then(func(T) (R, error) {
		var zero R
		return zero, nil
	})
}

// carry wraps next with one stage. Stages are resolved when reached, so a
// stage after a short-circuit is never built.
func (p *Pipeline[T, R]) carry(pipe any, next Next[T, R]) Next[T, R] {
	return func(payload T) (R, error) {
		stage, err := p.resolve(pipe)
		if err != nil {
			var zero R
			return zero, err
		}
		return stage(payload, next)
	}
}

func (p *Pipeline[T, R]) resolve(pipe any) (Stage[T, R], error) {
	switch v := pipe.(type) {
	case Stage[T, R]:
		return v, nil
	case func(T, Next[T, R]) (R, error):
		return v, nil
	case Pipe[T, R]:
		return v.Handle, nil
	case string:
		return p.resolveClass(v)
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidPipe, pipe)
}

// resolveClass builds a class-name stage fresh in a child container.
func (p *Pipeline[T, R]) resolveClass(pipe string) (Stage[T, R], error) {
	name, args := ParsePipeString(pipe)
	if p.container == nil {
		return nil, fmt.Errorf("%w: [%s]: no container to build it", ErrInvalidPipe, name)
	}

	var params container.Params
	if len(args) > 0 {
		params = container.Params{ParametersParam: args}
	}
	instance, err := p.container.Child().Build(name, params)
	if err != nil {
		return nil, fmt.Errorf("%w: [%s]: %w", ErrInvalidPipe, name, err)
	}

	handler, ok := instance.(Pipe[T, R])
	if !ok {
		return nil, fmt.Errorf("%w: [%s] is %T", ErrMissingHandler, name, instance)
	}
	return handler.Handle, nil
}

// ParsePipeString splits "name:arg1,arg2" into the name and its arguments.
func ParsePipeString(pipe string) (name string, args []string) {
	name, rest, found := strings.Cut(pipe, ":")
	if !found || rest == "" {
		return name, nil
	}
	return name, strings.Split(rest, ",")
}
