package main

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	kernelhttp "github.com/km-arc/go-kernel/framework/http"
	"github.com/km-arc/go-kernel/framework/http/middleware"
	"github.com/km-arc/go-kernel/framework/routing"
)

type user struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// users is an in-memory store for the example API.
type users struct {
	mu   sync.Mutex
	list []user
}

func (u *users) Index(*kernelhttp.Request) (*kernelhttp.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return kernelhttp.Success(u.list), nil
}

func (u *users) Store(req *kernelhttp.Request) (*kernelhttp.Response, error) {
	var body struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := req.Bind(&body); err != nil {
		return kernelhttp.Error(http.StatusBadRequest, err.Error()), nil
	}
	if strings.TrimSpace(body.Name) == "" || !strings.Contains(body.Email, "@") {
		return kernelhttp.Error(http.StatusUnprocessableEntity, "name and a valid email are required"), nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	created := user{ID: len(u.list) + 1, Name: body.Name, Email: body.Email}
	u.list = append(u.list, created)
	return kernelhttp.Created(created), nil
}

func (u *users) Show(req *kernelhttp.Request) (*kernelhttp.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, it := range u.list {
		if req.RouteParam("id") == strconv.Itoa(it.ID) {
			return kernelhttp.Success(it), nil
		}
	}
	return kernelhttp.NotFound("User not found."), nil
}

func (u *users) Update(*kernelhttp.Request) (*kernelhttp.Response, error) {
	return kernelhttp.Error(http.StatusNotImplemented, "Users are immutable."), nil
}

func (u *users) Destroy(*kernelhttp.Request) (*kernelhttp.Response, error) {
	return kernelhttp.Error(http.StatusNotImplemented, "Users are immutable."), nil
}

func registerRoutes(r *routing.Router) {
	r.Get("/", func(*kernelhttp.Request) (*kernelhttp.Response, error) {
		return kernelhttp.Success(map[string]any{"message": "Welcome to GoKernel!"}), nil
	})

	r.Prefix("/api/v1", func(api *routing.Router) {
		api.Resource("/users", &users{list: []user{
			{ID: 1, Name: "Alice", Email: "alice@example.com"},
			{ID: 2, Name: "Bob", Email: "bob@example.com"},
		}})
	})

	r.Group(func(protected *routing.Router) {
		protected.Middleware("api")

		protected.Get("/profile", func(req *kernelhttp.Request) (*kernelhttp.Response, error) {
			return kernelhttp.Success(map[string]any{"user": req.GetString(middleware.UserKey)}), nil
		})
		protected.Get("/admin", func(req *kernelhttp.Request) (*kernelhttp.Response, error) {
			return kernelhttp.Success(map[string]any{"admin": req.GetString(middleware.UserKey)}), nil
		}).Middleware("auth:alice")
	})
}
