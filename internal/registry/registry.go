// Package registry maps a method name to a deterministic compute function
// and enforces at most one registered implementation per name.
// Registered functions are opaque to the registry — it neither inspects nor
// enforces their determinism, only their name-uniqueness and presence.
package registry

import "fmt"

// Func computes a result for the given params. Implementations MUST be
// deterministic in their inputs; the envelope's digest-is-a-pure-function-
// of-content property depends on this even though the registry has no way
// to check it.
type Func func(params map[string]any) (any, error)

// UnknownMethodError is raised by Dispatch when name has no registered
// function.
type UnknownMethodError struct {
	Name string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("Unknown compute function: %s", e.Name)
}

// Registry is read-only after construction: Register is only ever called
// while assembling it at startup, never from a request-handling goroutine.
type Registry struct {
	funcs map[string]Func
}

// New returns an empty Registry; call Register to populate it before
// handing it to the pipeline.
func New() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name. Registering a second function under a name
// already present panics — this only ever happens during startup wiring in
// cmd/gateway, where a duplicate name is a programming error, not a
// runtime condition to recover from.
func (r *Registry) Register(name string, fn Func) {
	if _, exists := r.funcs[name]; exists {
		panic(fmt.Sprintf("registry: duplicate registration for %q", name))
	}
	r.funcs[name] = fn
}

// Dispatch looks up name and invokes it with params, or returns
// *UnknownMethodError if no function is registered under that name.
func (r *Registry) Dispatch(name string, params map[string]any) (any, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, &UnknownMethodError{Name: name}
	}
	return fn(params)
}

// Names returns the registered method names, for the /functions
// introspection route.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}
