package dns

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
)

// Factory is a constructor function that providers register to create themselves.
type Factory func(log logr.Logger, domain string, settings map[string]string, opts Options) (Provider, error)

// Registration describes a provider: how to build it and which settings it reads.
type Registration struct {
	Factory Factory
	// Settings lists every settings key the factory understands.
	Settings []string
	// Secrets is the subset of Settings holding credentials.
	Secrets []string
}

var (
	mu            sync.Mutex
	registrations = make(map[string]Registration)
)

// Register is called by provider packages in their init() to self-register.
func Register(name string, r Registration) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registrations[name]; exists {
		panic(fmt.Sprintf("dns: provider %q already registered", name))
	}
	registrations[name] = r
}

// Lookup returns the registration for name.
func Lookup(name string) (Registration, error) {
	mu.Lock()
	r, ok := registrations[name]
	mu.Unlock()
	if !ok {
		return Registration{}, fmt.Errorf("unsupported DNS provider: %q (registered: %v)", name, Names())
	}
	return r, nil
}

// Names returns the registered provider names, sorted.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(registrations))
	for n := range registrations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewProvider looks up the named provider in the registry and creates it.
func NewProvider(name string, log logr.Logger, domain string, settings map[string]string, opts Options) (Provider, error) {
	r, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return r.Factory(log, domain, settings, opts)
}
