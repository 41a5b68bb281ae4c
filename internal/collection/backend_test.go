package collection

import (
	"testing"

	"go.uber.org/zap"

	"filecollect/internal/config"
)

func TestDefaultShouldRetry(t *testing.T) {
	if DefaultShouldRetry(Result{Status: AttemptSuccess}, 1, 10) {
		t.Error("final status must never retry")
	}
	if DefaultShouldRetry(Result{Status: AttemptCancelled}, 1, 10) {
		t.Error("cancelled must never retry")
	}
	if !DefaultShouldRetry(Result{Status: AttemptHostOffline}, 1, 10) {
		t.Error("host offline under budget should retry")
	}
	if DefaultShouldRetry(Result{Status: AttemptHostOffline}, 10, 10) {
		t.Error("exhausted budget must not retry")
	}
	if DefaultShouldRetry(Result{Status: AttemptError}, 11, 10) {
		t.Error("over budget must not retry")
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	factory := func(cfg config.BackendConfig, logger *zap.Logger) (Backend, error) {
		return &fakeBackend{name: cfg.Name, observableType: cfg.ObservableType}, nil
	}

	if err := registry.Register("fake", factory); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("fake", factory); err == nil {
		t.Fatal("duplicate driver registration should fail")
	}
	if err := registry.Register("", factory); err == nil {
		t.Fatal("empty driver name should fail")
	}

	backend, err := registry.New(config.BackendConfig{
		Name:           "collector1",
		Driver:         "fake",
		ObservableType: "file_location",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	if backend.Name() != "collector1" {
		t.Fatalf("got name %q", backend.Name())
	}

	if _, err := registry.New(config.BackendConfig{Driver: "missing"}, zap.NewNop()); err == nil {
		t.Fatal("unknown driver should fail")
	}

	drivers := registry.Drivers()
	if len(drivers) != 1 || drivers[0] != "fake" {
		t.Fatalf("got drivers %v", drivers)
	}
}
