package collection

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"filecollect/internal/config"
	"filecollect/internal/repository"
	"filecollect/internal/report"
)

// Manager owns the collection subsystem: one Collector polling the store and
// one Worker per configured backend. It is assembled once at startup and
// driven by Start/Stop/Wait.
type Manager struct {
	cfg      config.CollectionConfig
	repo     repository.CollectionRepository
	logger   *zap.Logger
	reporter report.Reporter

	collector *Collector
	workers   map[string]*Worker

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg config.CollectionConfig, repo repository.CollectionRepository, logger *zap.Logger, reporter report.Reporter) *Manager {
	if reporter == nil {
		reporter = report.Nop{}
	}
	return &Manager{
		cfg:      cfg,
		repo:     repo,
		logger:   logger,
		reporter: reporter,
		collector: &Collector{
			Repo:              repo,
			Logger:            logger,
			Reporter:          reporter,
			LockTimeout:       cfg.LockTimeout,
			InitialRetryDelay: cfg.InitialRetryDelay,
			MaxRetryDelay:     cfg.MaxRetryDelay,
			MaxCollectionTime: cfg.MaxCollectionTime,
			PollInterval:      cfg.PollInterval,
		},
		workers: map[string]*Worker{},
	}
}

// LoadWorkers resolves every backend config through the driver registry and
// wires the resulting workers. Any failure aborts startup: a misconfigured
// backend must not be silently dropped.
func (m *Manager) LoadWorkers(cfgs []config.BackendConfig, registry *Registry) error {
	for _, bc := range cfgs {
		backend, err := registry.New(bc, m.logger.Named(bc.Name))
		if err != nil {
			return fmt.Errorf("load backend %q: %w", bc.Name, err)
		}
		if err := m.AddWorker(backend, bc.Threads); err != nil {
			return err
		}
	}
	return nil
}

// AddWorker wires a backend as a worker and registers it as the dispatch
// listener for its collector name.
func (m *Manager) AddWorker(backend Backend, concurrency int) error {
	name := backend.Name()
	if _, ok := m.workers[name]; ok {
		return fmt.Errorf("collection worker %q already added", name)
	}
	worker := &Worker{
		Backend:     backend,
		Repo:        m.repo,
		Logger:      m.logger.With(zap.String("collector", name)),
		Reporter:    m.reporter,
		Concurrency: concurrency,
		QueueSize:   m.cfg.QueueSize,
	}
	if err := m.collector.RegisterListener(name, worker); err != nil {
		return err
	}
	m.workers[name] = worker
	return nil
}

// Collector exposes the dispatcher, mainly for single-pass use in tests and
// maintenance tooling.
func (m *Manager) Collector() *Collector {
	return m.collector
}

// Start launches the dispatcher and all worker pools. It is not safe to add
// workers after Start.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return fmt.Errorf("collection manager already started")
	}
	if len(m.workers) == 0 {
		return fmt.Errorf("collection manager has no workers")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, worker := range m.workers {
		worker := worker
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			_ = worker.Run(runCtx)
		}()
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.collector.Run(runCtx)
	}()

	m.logger.Info("collection manager started", zap.Int("workers", len(m.workers)))
	return nil
}

// Stop signals shutdown. In-flight attempts finish; queued items are dropped
// and reclaimed by a later cycle once their locks time out.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the dispatcher and all workers have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
	m.logger.Info("collection manager stopped")
}
