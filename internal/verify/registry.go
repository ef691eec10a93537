package verify

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnknownBackend = errors.New("verify: unknown backend")
	ErrInvalidOptions = errors.New("verify: invalid backend options")
)

// Options carries backend settings lifted from daemon configuration. Each
// backend reads the fields it cares about and ignores the rest.
type Options struct {
	HelperPath  string
	Timeout     time.Duration
	StaticToken string
}

// Factory builds a verifier from options.
type Factory func(opts Options) (Verifier, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register installs a backend factory under name. It panics on a duplicate
// or empty name because backends register from init and a collision there
// is a programming error.
func Register(name string, f Factory) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || f == nil {
		panic("verify: register with empty name or nil factory")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("verify: backend %q registered twice", name))
	}
	factories[name] = f
}

// Resolve builds the named backend.
func Resolve(name string, opts Options) (Verifier, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	registryMu.RLock()
	f, ok := factories[key]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownBackend, name, strings.Join(Backends(), ", "))
	}
	return f(opts)
}

// Backends lists registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
