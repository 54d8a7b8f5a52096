package container

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	containerType = reflect.TypeOf((*Container)(nil))
	paramsType    = reflect.TypeOf(Params(nil))
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	durationType  = reflect.TypeOf(time.Duration(0))
)

// resolution is the state of one top-level Make call. It is never shared
// between calls, so concurrent resolutions do not see each other's stacks.
type resolution struct {
	stack []frame
}

// frame is one abstract being built, plus the class it turned out to be.
type frame struct {
	key   string
	class string
}

func (r *resolution) push(key string) { r.stack = append(r.stack, frame{key: key}) }
func (r *resolution) pop()            { r.stack = r.stack[:len(r.stack)-1] }

func (r *resolution) setClass(class string) {
	if len(r.stack) > 0 {
		r.stack[len(r.stack)-1].class = class
	}
}

func (r *resolution) contains(key string) bool {
	return slices.ContainsFunc(r.stack, func(f frame) bool { return f.key == key || f.class == key })
}

// current is the frame whose dependencies are being built.
func (r *resolution) current() frame {
	if len(r.stack) == 0 {
		return frame{}
	}
	return r.stack[len(r.stack)-1]
}

func (r *resolution) path() []string {
	out := make([]string, len(r.stack))
	for i, f := range r.stack {
		out[i] = f.key
	}
	return out
}

// fail wraps err in a ResolutionError unless it already is one, so the
// innermost failure keeps its path.
func (r *resolution) fail(key string, err error) error {
	var re *ResolutionError
	if errors.As(err, &re) {
		return err
	}
	return &ResolutionError{Abstract: key, Path: r.path(), Err: err}
}

// dependency is one struct field or constructor parameter to satisfy.
type dependency struct {
	name       string // matched against explicit params
	abstract   string // binding key to resolve
	typ        reflect.Type
	def        string
	hasDefault bool
	optional   bool
}

// ── Struct injection ──────────────────────────────────────────────────────────

// buildClass instantiates a struct type and fills every field tagged
// `inject`. The tag value names the abstract to resolve; empty means the
// field's TypeKey. An "optional" flag leaves the field zero when nothing
// matches:
//
//	type UserService struct {
//	    Repo    UserRepository `inject:""`
//	    Log     *slog.Logger   `inject:"log"`
//	    Cache   Cache          `inject:"cache,optional"`
//	    PerPage int            `inject:"" default:"25"`
//	}
func (c *Container) buildClass(t reflect.Type, res *resolution, params Params) (any, error) {
	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct type", ErrInvalidConcrete, t)
	}

	res.setClass(typeKey(st))
	ptr := reflect.New(st)
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		tag, ok := field.Tag.Lookup("inject")
		if !ok {
			continue
		}
		if !field.IsExported() {
			return nil, fmt.Errorf("%w: %s.%s is not exported", ErrUnresolvableDependency, st.Name(), field.Name)
		}

		abstract, flags, _ := strings.Cut(tag, ",")
		if abstract == "" {
			abstract = typeKey(field.Type)
		}
		def, hasDefault := field.Tag.Lookup("default")
		dep := dependency{
			name:       field.Name,
			abstract:   abstract,
			typ:        field.Type,
			def:        def,
			hasDefault: hasDefault,
			optional:   flags == "optional",
		}

		v, err := c.resolveDependency(dep, res, params)
		if err != nil {
			return nil, err
		}
		if v.IsValid() {
			ptr.Elem().Field(i).Set(v)
		}
	}

	if t.Kind() == reflect.Pointer {
		return ptr.Interface(), nil
	}
	return ptr.Elem().Interface(), nil
}

// ── Constructor injection ─────────────────────────────────────────────────────

func checkConstructor(ft reflect.Type) error {
	switch ft.NumOut() {
	case 1:
		if ft.Out(0) == errorType {
			return fmt.Errorf("%w: constructor %s returns only an error", ErrInvalidConcrete, ft)
		}
		return nil
	case 2:
		if ft.Out(1) != errorType {
			return fmt.Errorf("%w: constructor %s must return (T, error)", ErrInvalidConcrete, ft)
		}
		return nil
	}
	return fmt.Errorf("%w: constructor %s must return T or (T, error)", ErrInvalidConcrete, ft)
}

// call invokes a constructor, resolving each parameter by its type. A
// *Container parameter receives c and a Params parameter receives the
// explicit params. Variadic parameters are left empty.
func (c *Container) call(fn reflect.Value, res *resolution, params Params) (any, error) {
	ft := fn.Type()
	if err := checkConstructor(ft); err != nil {
		return nil, err
	}

	n := ft.NumIn()
	if ft.IsVariadic() {
		n--
	}
	args := make([]reflect.Value, n)
	for i := 0; i < n; i++ {
		pt := ft.In(i)
		switch pt {
		case containerType:
			args[i] = reflect.ValueOf(c)
			continue
		case paramsType:
			if params == nil {
				params = Params{}
			}
			args[i] = reflect.ValueOf(params)
			continue
		}

		key := typeKey(pt)
		v, err := c.resolveDependency(dependency{name: key, abstract: key, typ: pt}, res, params)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	out := fn.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// ── Dependency resolution ─────────────────────────────────────────────────────

// resolveDependency satisfies one dependency, in order: explicit param,
// contextual binding, container binding, auto-built class, default tag,
// optional zero value. An invalid Value means "leave zero".
func (c *Container) resolveDependency(dep dependency, res *resolution, params Params) (reflect.Value, error) {
	if v, ok := params[dep.name]; ok {
		return assign(dep, v)
	}

	if f := c.contextualFor(res.current(), dep.abstract); f != nil {
		return assign(dep, f(c))
	}

	if c.Has(dep.abstract) {
		inst, err := c.make(dep.abstract, res, nil)
		if err != nil {
			return reflect.Value{}, err
		}
		return assign(dep, inst)
	}

	if isClass(dep.typ) {
		key := typeKey(dep.typ)
		if res.contains(key) {
			return reflect.Value{}, res.fail(key, ErrCircularDependency)
		}
		res.push(key)
		inst, err := c.buildClass(dep.typ, res, nil)
		res.pop()
		if err != nil {
			return reflect.Value{}, res.fail(key, err)
		}
		return assign(dep, inst)
	}

	if dep.hasDefault {
		v, err := parseDefault(dep.typ, dep.def)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: default for %s: %v", ErrUnresolvableDependency, dep.name, err)
		}
		return v, nil
	}

	if dep.optional {
		return reflect.Value{}, nil
	}

	return reflect.Value{}, fmt.Errorf("%w: %s (%s) in [%s]", ErrUnresolvableDependency, dep.name, dep.typ, res.current().key)
}

// assign converts a resolved value to the dependency's type. Pointers are
// dereferenced when the dependency wants the value, since a class key names
// both T and *T.
func assign(dep dependency, v any) (reflect.Value, error) {
	if v == nil {
		switch dep.typ.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(dep.typ), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: %s: nil is not a %s", ErrUnresolvableDependency, dep.name, dep.typ)
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(dep.typ) {
		return rv, nil
	}
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Type().AssignableTo(dep.typ) {
		return rv.Elem(), nil
	}
	if dep.typ.Kind() == reflect.Pointer && rv.Type().AssignableTo(dep.typ.Elem()) {
		p := reflect.New(dep.typ.Elem())
		p.Elem().Set(rv)
		return p, nil
	}
	if rv.Type().ConvertibleTo(dep.typ) && rv.Kind() != reflect.String && isScalar(dep.typ) {
		return rv.Convert(dep.typ), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: %s: %T is not assignable to %s", ErrUnresolvableDependency, dep.name, v, dep.typ)
}

func isScalar(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func parseDefault(t reflect.Type, raw string) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	if t == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetInt(int64(d))
		return v, nil
	}

	switch t.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(raw, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(raw, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetFloat(f)
	case reflect.Slice:
		if t.Elem().Kind() != reflect.String {
			return reflect.Value{}, fmt.Errorf("unsupported default type %s", t)
		}
		parts := strings.Split(raw, ",")
		v = reflect.MakeSlice(t, len(parts), len(parts))
		for i, p := range parts {
			v.Index(i).SetString(strings.TrimSpace(p))
		}
	default:
		return reflect.Value{}, fmt.Errorf("unsupported default type %s", t)
	}
	return v, nil
}
