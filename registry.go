package ftpstore

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Factory builds an Adapter for a backend.
type Factory func(backend Backend, opts ...Option) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

func init() {
	Register("ftp", func(backend Backend, opts ...Option) (Adapter, error) {
		a, err := NewFTPAdapter(backend, opts...)
		if err != nil {
			return nil, err
		}
		return a, nil
	})
}

// Register makes an adapter factory available under protocol. It panics if
// factory is nil or protocol is already registered.
func Register(protocol string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	protocol = strings.ToLower(protocol)
	if factory == nil {
		panic("ftpstore: Register factory is nil")
	}
	if _, dup := registry[protocol]; dup {
		panic("ftpstore: Register called twice for protocol " + protocol)
	}
	registry[protocol] = factory
}

// New returns an adapter for backend using the factory registered under
// protocol. An unknown protocol fails with ErrConfiguration.
func New(protocol string, backend Backend, opts ...Option) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(protocol)]
	registryMu.RUnlock()
	if !ok {
		return nil, newError("new", "", ErrConfiguration, fmt.Errorf("unknown protocol %q", protocol))
	}
	return factory(backend, opts...)
}

// Protocols returns the registered protocol names, sorted.
func Protocols() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
