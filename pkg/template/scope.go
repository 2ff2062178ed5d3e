package template

import (
	"context"
	"strings"
	"sync"
)

// Layer is one source of values in a Scope.
type Layer interface {
	Lookup(ctx context.Context, path string) (any, bool)
}

// Scope consults its layers in order; the first layer that knows a path wins.
// Engine scopes are built as: execution variables, computed values, system values, defaults.
// A nil Values layer knows nothing.
type Scope struct {
	layers []Layer
}

func NewScope(layers ...Layer) *Scope {
	return &Scope{layers: layers}
}

func (s *Scope) Lookup(ctx context.Context, path string) (any, bool) {
	if s == nil {
		return nil, false
	}

	for _, layer := range s.layers {
		if v, ok := layer.Lookup(ctx, path); ok {
			return v, true
		}
	}

	return nil, false
}

// Values is a layer over a nested map.
type Values map[string]any

func (v Values) Lookup(_ context.Context, path string) (any, bool) {
	if v == nil {
		return nil, false
	}

	return lookupPath(v, path)
}

// ComputeFunc produces a value on demand, typically by calling a collaborator.
type ComputeFunc func(ctx context.Context) (any, error)

// Computed is a layer of lazily evaluated values. Each name is computed at most
// once per layer; failures are remembered and read as unresolved.
type Computed struct {
	mu     sync.Mutex
	funcs  map[string]ComputeFunc
	values map[string]any
	failed map[string]bool
}

func NewComputed() *Computed {
	return &Computed{
		funcs:  map[string]ComputeFunc{},
		values: map[string]any{},
		failed: map[string]bool{},
	}
}

// Set registers name. Paths below name ("name.field") descend into the computed value.
func (c *Computed) Set(name string, fn ComputeFunc) *Computed {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.funcs[name] = fn
	delete(c.values, name)
	delete(c.failed, name)

	return c
}

func (c *Computed) Lookup(ctx context.Context, path string) (any, bool) {
	name, rest := path, ""

	if _, ok := c.lookupFunc(name); !ok {
		found := false

		for i := len(path) - 1; i > 0; i-- {
			if path[i] != '.' {
				continue
			}

			if _, ok := c.lookupFunc(path[:i]); ok {
				name, rest, found = path[:i], path[i+1:], true

				break
			}
		}

		if !found {
			return nil, false
		}
	}

	value, ok := c.value(ctx, name)
	if !ok {
		return nil, false
	}

	if rest == "" {
		return value, true
	}

	return descend(value, rest)
}

func (c *Computed) lookupFunc(name string) (ComputeFunc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn, ok := c.funcs[name]

	return fn, ok
}

func (c *Computed) value(ctx context.Context, name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.values[name]; ok {
		return v, true
	}

	if c.failed[name] {
		return nil, false
	}

	v, err := c.funcs[name](ctx)
	if err != nil {
		c.failed[name] = true

		return nil, false
	}

	c.values[name] = v

	return v, true
}

// Prefixed exposes a layer under a fixed path prefix, e.g. constants under "project".
type Prefixed struct {
	Prefix string
	Layer  Layer
}

func (p Prefixed) Lookup(ctx context.Context, path string) (any, bool) {
	rest, ok := strings.CutPrefix(path, p.Prefix+".")
	if !ok {
		return nil, false
	}

	return p.Layer.Lookup(ctx, rest)
}
