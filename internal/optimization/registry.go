package optimization

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Factory builds an optimizer from loosely typed options. Factories must
// reject options their schema does not declare. logger may be nil.
type Factory func(options map[string]interface{}, batchMode bool, logger *zap.Logger) (Optimizer, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an optimizer available under name. It panics if name is
// already registered.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("optimization: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("optimization: Register called twice for " + name)
	}
	registry[name] = factory
}

// New builds the optimizer registered under name.
func New(name string, options map[string]interface{}, batchMode bool, logger *zap.Logger) (Optimizer, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, NewErrorf("unknown optimizer %q", name).
			WithKind(ErrInvalidConfig).
			WithOperation("new")
	}
	return factory(options, batchMode, logger)
}

// Names returns the registered optimizer names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
