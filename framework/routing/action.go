package routing

import (
	"errors"
	"fmt"
	"net/http"

	kernelhttp "github.com/km-arc/go-kernel/framework/http"
	"github.com/km-arc/go-kernel/framework/http/middleware"
)

// ErrInvalidAction is returned for a route action that cannot handle requests.
var ErrInvalidAction = errors.New("routing: invalid action")

// destination turns a route action into the end of the middleware chain.
// Abstracts are resolved on every request.
func (r *Router) destination(action any) (middleware.Next, error) {
	if abstract, ok := action.(string); ok {
		if abstract == "" {
			return nil, fmt.Errorf("%w: empty abstract", ErrInvalidAction)
		}
		return func(req *kernelhttp.Request) (*kernelhttp.Response, error) {
			v, err := r.make(abstract)
			if err != nil {
				return nil, err
			}
			next, err := callable(v)
			if err != nil {
				return nil, fmt.Errorf("[%s]: %w", abstract, err)
			}
			return next(req)
		}, nil
	}
	return callable(action)
}

func (r *Router) make(abstract string) (any, error) {
	if r.container == nil {
		return nil, fmt.Errorf("%w: no container to resolve [%s]", ErrInvalidAction, abstract)
	}
	return r.container.Make(abstract)
}

func callable(action any) (middleware.Next, error) {
	switch a := action.(type) {
	case Action:
		return middleware.Next(a), nil
	case middleware.Next:
		return a, nil
	case func(*kernelhttp.Request) (*kernelhttp.Response, error):
		return a, nil
	case Controller:
		return a.Handle, nil
	case http.Handler:
		return render(a), nil
	case func(http.ResponseWriter, *http.Request):
		return render(http.HandlerFunc(a)), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidAction, action)
}

// render runs a plain handler against a buffered response so middleware can
// still see and change the result.
func render(h http.Handler) middleware.Next {
	return func(req *kernelhttp.Request) (*kernelhttp.Response, error) {
		res := kernelhttp.NewResponse(http.StatusOK)
		h.ServeHTTP(res, req.Raw())
		return res, nil
	}
}
