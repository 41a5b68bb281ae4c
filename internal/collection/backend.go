package collection

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"filecollect/internal/config"
)

// Backend performs one collection attempt against a remote system.
//
// Ordinary failure modes (host offline, file missing, remote API said no) must
// be encoded in the returned Result, not in the error value. A non-nil error
// is reserved for genuinely unexpected conditions; the worker converts it to
// an ERROR result.
type Backend interface {
	Name() string
	ObservableType() string
	Collect(ctx context.Context, item WorkItem) (Result, error)
	// ShouldRetry decides whether a non-final attempt gets another try.
	// attempts is the number of attempts already completed, including the one
	// that produced result.
	ShouldRetry(result Result, attempts, maxRetries int) bool
}

// DefaultShouldRetry is the standard retry policy: never retry a final
// status, otherwise retry while the budget allows. Backends embed this unless
// they need custom policy.
func DefaultShouldRetry(result Result, attempts, maxRetries int) bool {
	if result.Status.Final() {
		return false
	}
	return attempts < maxRetries
}

// Factory builds a Backend from its configuration.
type Factory func(cfg config.BackendConfig, logger *zap.Logger) (Backend, error)

// Registry maps a configuration-declared driver key to a Backend factory.
// Drivers are registered at startup; resolution happens once when the manager
// loads its workers.
type Registry struct {
	drivers map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{drivers: map[string]Factory{}}
}

func (r *Registry) Register(driver string, factory Factory) error {
	if driver == "" || factory == nil {
		return fmt.Errorf("invalid driver registration %q", driver)
	}
	if _, ok := r.drivers[driver]; ok {
		return fmt.Errorf("backend driver %q already registered", driver)
	}
	r.drivers[driver] = factory
	return nil
}

func (r *Registry) New(cfg config.BackendConfig, logger *zap.Logger) (Backend, error) {
	factory, ok := r.drivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown backend driver %q (have %v)", cfg.Driver, r.Drivers())
	}
	return factory(cfg, logger)
}

func (r *Registry) Drivers() []string {
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
