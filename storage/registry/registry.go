// Package registry maps storage type tags to backend constructors.
//
// Backend packages register themselves in init():
//
//	registry.MustRegister("local", func(p storage.Params) (storage.Backend, error) { ... })
//
// The binary must import the backend package for registration to occur.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"wildland.io/core/storage"
)

// Constructor builds a backend from manifest params.
type Constructor func(params storage.Params) (storage.Backend, error)

var (
	mu       sync.RWMutex
	backends = map[string]Constructor{}
)

// Register registers a constructor under a type tag.
func Register(typeTag string, ctor Constructor) error {
	if typeTag == "" {
		return fmt.Errorf("registry: type tag is required")
	}
	if ctor == nil {
		return fmt.Errorf("registry: backend %q missing constructor", typeTag)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[typeTag]; exists {
		return fmt.Errorf("registry: backend %q already registered", typeTag)
	}
	backends[typeTag] = ctor
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(typeTag string, ctor Constructor) {
	if err := Register(typeTag, ctor); err != nil {
		panic(err)
	}
}

// New constructs a backend of the given type.
func New(typeTag string, params storage.Params) (storage.Backend, error) {
	mu.RLock()
	ctor, ok := backends[typeTag]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown backend type %q", typeTag)
	}
	return ctor(params)
}

// FromParams constructs a backend from inline storage fields, reading
// the type tag from the "type" key.
func FromParams(params storage.Params) (storage.Backend, error) {
	typeTag := params.String("type")
	if typeTag == "" {
		return nil, fmt.Errorf("registry: storage params have no type")
	}
	return New(typeTag, params)
}

// Names returns the registered type tags, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
