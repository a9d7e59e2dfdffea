package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Func is a named in-process action. The returned string becomes the
// execution output.
type Func func(ctx context.Context) (string, error)

// Funcs is the registry of in-process actions referenced by "func:<name>"
// commands. Safe for concurrent use.
type Funcs struct {
	mu sync.RWMutex
	m  map[string]Func
}

func NewFuncs() *Funcs {
	return &Funcs{m: map[string]Func{}}
}

func (f *Funcs) Register(name string, fn Func) {
	f.mu.Lock()
	f.m[name] = fn
	f.mu.Unlock()
}

func (f *Funcs) lookup(name string) (Func, error) {
	f.mu.RLock()
	fn, ok := f.m[name]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	return fn, nil
}

// Names lists registered functions, sorted.
func (f *Funcs) Names() []string {
	f.mu.RLock()
	out := make([]string, 0, len(f.m))
	for k := range f.m {
		out = append(out, k)
	}
	f.mu.RUnlock()
	sort.Strings(out)
	return out
}
