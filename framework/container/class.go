package container

import (
	"fmt"
	"reflect"
)

// TypeKey returns the package-qualified type name of v, useful as a stable
// abstract key when working with interfaces.
//
//	key := container.TypeKey((*UserRepository)(nil))  // "example.com/app.UserRepository"
//	c.Singleton(key, factory)
//	repo, err := container.Resolve[UserRepository](c, key)
func TypeKey(v any) string {
	return typeKey(reflect.TypeOf(v))
}

// KeyOf is TypeKey for a type parameter. It also works for interfaces.
//
//	c.Bind(container.KeyOf[Mailer](), container.Class[*SMTPMailer]())
func KeyOf[T any]() string {
	return typeKey(reflect.TypeOf((*T)(nil)).Elem())
}

// Class returns the reflect.Type of T for use as a bindable concrete.
// T must be a struct or a pointer to a struct; Class[*Foo] builds *Foo,
// Class[Foo] builds a Foo value.
func Class[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func typeKey(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

func isClass(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// RegisterClass records struct types under their TypeKey so they can be
// referenced by name, e.g. from configuration.
func (c *Container) RegisterClass(types ...reflect.Type) {
	for _, t := range types {
		c.RegisterClassAs(typeKey(t), t)
	}
}

// RegisterClassAs records a struct type under a custom name.
//
//	c.RegisterClassAs("Authenticate", container.Class[*middleware.Authenticate]())
func (c *Container) RegisterClassAs(name string, t reflect.Type) {
	if !isClass(t) {
		panic(fmt.Sprintf("container: RegisterClassAs(%q): %s is not a struct type", name, t))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classes[name] = t
}

// HasClass reports whether name is in the class registry of c or a parent.
func (c *Container) HasClass(name string) bool {
	_, ok := c.class(name)
	return ok
}

func (c *Container) class(name string) (reflect.Type, bool) {
	for cc := c; cc != nil; cc = cc.parent {
		cc.mu.RLock()
		t, ok := cc.classes[name]
		cc.mu.RUnlock()
		if ok {
			return t, true
		}
	}
	return nil, false
}

// Build instantiates a fresh value. name is looked up in the class registry
// first; a registered class is always built anew, even if it was also bound
// as a singleton. Names that are not classes fall back to Make.
func (c *Container) Build(name string, params Params) (any, error) {
	if t, ok := c.class(name); ok {
		res := c.begin()
		res.push(name)
		defer res.pop()
		v, err := c.buildClass(t, res, params)
		if err != nil {
			return nil, res.fail(name, err)
		}
		return v, nil
	}
	if c.Has(name) {
		return c.MakeWith(name, params)
	}
	return nil, &ResolutionError{Abstract: name, Err: ErrClassNotFound}
}
