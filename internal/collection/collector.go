package collection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"filecollect/internal/repository"
	"filecollect/internal/report"
)

// Listener receives work items claimed by the Collector.
type Listener interface {
	HandleCollectionRequest(item WorkItem) error
}

// Collector is the single polling loop that scans the store for claimable
// collection requests, locks them, and routes each to the listener registered
// under its collector name.
type Collector struct {
	Repo     repository.CollectionRepository
	Logger   *zap.Logger
	Reporter report.Reporter

	// LockTimeout bounds claim ownership: rows locked longer than this are
	// considered abandoned by a dead process and become claimable again.
	LockTimeout       time.Duration
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	// MaxCollectionTime is the age cutoff: requests older than this are never
	// claimed again, no matter how few attempts they have had.
	MaxCollectionTime time.Duration
	PollInterval      time.Duration

	listeners map[string]Listener
}

// RegisterListener associates a collector name with a listener. Names are
// immutable once wired; a duplicate registration is a wiring bug.
func (c *Collector) RegisterListener(name string, listener Listener) error {
	if name == "" || listener == nil {
		return fmt.Errorf("invalid listener registration %q", name)
	}
	if c.listeners == nil {
		c.listeners = map[string]Listener{}
	}
	if _, ok := c.listeners[name]; ok {
		return fmt.Errorf("collection listener %q already registered", name)
	}
	c.listeners[name] = listener
	return nil
}

func (c *Collector) registeredNames() []string {
	names := make([]string, 0, len(c.listeners))
	for name := range c.listeners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CollectWorkItems runs one claim cycle: select candidates, filter by
// per-record backoff, lock the survivors under a fresh token, and build work
// items from the authoritative re-read of that token.
func (c *Collector) CollectWorkItems(ctx context.Context) ([]WorkItem, error) {
	names := c.registeredNames()
	if len(names) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()

	candidates, err := c.Repo.ListClaimCandidates(ctx, names, c.LockTimeout, c.MaxCollectionTime, now)
	if err != nil {
		return nil, fmt.Errorf("list claim candidates: %w", err)
	}

	// A row that has never been attempted (no update_time) is immediately
	// eligible; otherwise it must have waited out its backoff delay.
	var ids []uint64
	for _, candidate := range candidates {
		if candidate.UpdateTime != nil {
			delay := BackoffDelay(candidate.RetryCount, c.InitialRetryDelay, c.MaxRetryDelay)
			if now.Sub(*candidate.UpdateTime) < delay {
				continue
			}
		}
		ids = append(ids, candidate.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	lockToken := uuid.NewString()
	claimed, err := c.Repo.ClaimCollections(ctx, ids, lockToken, c.LockTimeout, now)
	if err != nil {
		return nil, fmt.Errorf("claim collections: %w", err)
	}
	if claimed == 0 {
		return nil, nil
	}
	metricClaimed.Add(float64(claimed))

	rows, err := c.Repo.ListCollectionsByLock(ctx, lockToken)
	if err != nil {
		return nil, fmt.Errorf("read claimed collections: %w", err)
	}

	items := make([]WorkItem, 0, len(rows))
	for _, row := range rows {
		alert, err := c.Repo.GetAlertByUUID(ctx, row.AlertUUID)
		if err != nil {
			return items, fmt.Errorf("look up alert %s: %w", row.AlertUUID, err)
		}
		if alert == nil {
			c.Logger.Error("alert not found for collection request",
				zap.Uint64("id", row.ID),
				zap.String("alert_uuid", row.AlertUUID),
			)
			continue
		}
		items = append(items, WorkItem{
			ID:         row.ID,
			Name:       row.Name,
			Type:       row.Type,
			Value:      row.Value,
			AlertUUID:  row.AlertUUID,
			StorageDir: alert.StorageDir,
			RetryCount: row.RetryCount,
			MaxRetries: row.MaxRetries,
		})
	}
	return items, nil
}

func (c *Collector) dispatch(item WorkItem) error {
	listener, ok := c.listeners[item.Name]
	if !ok {
		// Only registered names are ever selected, so this is defensive.
		return fmt.Errorf("collector name %q not registered", item.Name)
	}
	return listener.HandleCollectionRequest(item)
}

// RunOnce executes a single synchronous claim-and-dispatch pass.
func (c *Collector) RunOnce(ctx context.Context) error {
	items, err := c.CollectWorkItems(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := c.dispatch(item); err != nil {
			return err
		}
	}
	return nil
}

// Run polls until ctx is cancelled. A failing cycle is logged and reported
// but never terminates the loop; the shutdown check happens after each cycle
// so a cycle in progress always completes.
func (c *Collector) Run(ctx context.Context) error {
	interval := c.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	c.Logger.Info("collection dispatcher started",
		zap.Strings("collectors", c.registeredNames()),
		zap.Duration("poll_interval", interval),
	)
	for {
		start := time.Now()
		if err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
			c.Logger.Error("collection cycle failed", zap.Error(err))
			c.reportError(ctx, "collection_cycle", err)
		}
		metricPollDuration.Observe(time.Since(start).Seconds())

		select {
		case <-ctx.Done():
			c.Logger.Info("collection dispatcher stopped")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Collector) reportError(ctx context.Context, action string, err error) {
	if c.Reporter == nil {
		return
	}
	c.Reporter.ReportError(ctx, action, err)
}
