package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"filecollect/internal/models"
	"filecollect/internal/repository"
	"filecollect/internal/report"
)

// Worker owns one collector backend and a pool of executor goroutines that
// drain its inbound queue. Each executor drives one attempt at a time:
// collect, persist the outcome, append history, decide on retry.
type Worker struct {
	Backend  Backend
	Repo     repository.CollectionRepository
	Logger   *zap.Logger
	Reporter report.Reporter

	// Concurrency is the number of executor goroutines; backend-configured.
	Concurrency int
	QueueSize   int

	queueOnce sync.Once
	queue     chan WorkItem
}

func (w *Worker) initQueue() {
	w.queueOnce.Do(func() {
		size := w.QueueSize
		if size <= 0 {
			size = 1024
		}
		w.queue = make(chan WorkItem, size)
	})
}

// HandleCollectionRequest implements Listener. A name mismatch is a routing
// bug in the dispatcher wiring, not a runtime condition.
func (w *Worker) HandleCollectionRequest(item WorkItem) error {
	if item.Name != w.Backend.Name() {
		return fmt.Errorf("collection request name %q does not match backend %q",
			item.Name, w.Backend.Name())
	}
	w.initQueue()
	select {
	case w.queue <- item:
	default:
		return fmt.Errorf("collection queue for %q is full", w.Backend.Name())
	}
	w.Logger.Info("received collection request",
		zap.Uint64("id", item.ID),
		zap.String("type", item.Type),
		zap.String("value", item.Value),
	)
	metricQueueDepth.WithLabelValues(w.Backend.Name()).Inc()
	return nil
}

// Run starts the executor pool and blocks until ctx is cancelled and all
// executors have drained their current item.
func (w *Worker) Run(ctx context.Context) error {
	w.initQueue()
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	w.Logger.Info("collection worker started",
		zap.String("collector", w.Backend.Name()),
		zap.Int("threads", concurrency),
	)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.executorLoop(ctx)
		}()
	}
	wg.Wait()
	w.Logger.Info("collection worker stopped", zap.String("collector", w.Backend.Name()))
	return ctx.Err()
}

func (w *Worker) executorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-w.queue:
			metricQueueDepth.WithLabelValues(w.Backend.Name()).Dec()
			w.Collect(ctx, item)
		}
	}
}

// Collect runs one attempt end to end and returns the backend result.
// Backend failures never propagate: they become ERROR results. Store errors
// are logged and reported; the next claim cycle retries the row once its
// lock times out.
func (w *Worker) Collect(ctx context.Context, item WorkItem) Result {
	w.Logger.Info("collection attempt started",
		zap.Uint64("id", item.ID),
		zap.String("type", item.Type),
		zap.String("value", item.Value),
		zap.Int("attempt", item.RetryCount+1),
		zap.Int("max_retries", item.MaxRetries),
	)

	result := w.invokeBackend(ctx, item)

	attempts := item.RetryCount + 1
	shouldComplete := result.Status.Final() || !w.Backend.ShouldRetry(result, attempts, item.MaxRetries)

	status := result.Status.CollectionStatus()
	if shouldComplete {
		status = StatusCompleted
	}

	err := w.Repo.FinishAttempt(ctx, item.ID, repository.FinishAttemptParams{
		Status:              string(status),
		Result:              string(result.Status),
		Message:             optional(result.Message),
		CollectedFilePath:   optional(result.CollectedFilePath),
		CollectedFileSHA256: optional(result.CollectedFileSHA256),
	})
	if err != nil {
		w.Logger.Error("failed to persist collection attempt",
			zap.Uint64("id", item.ID), zap.Error(err))
		w.reportError(ctx, "finish_attempt", err)
		return result
	}

	if err := w.Repo.InsertHistory(ctx, &models.CollectionHistory{
		CollectionRequestID: item.ID,
		Result:              string(result.Status),
		Message:             result.Message,
		Status:              string(result.Status.CollectionStatus()),
		Details:             attemptDetails(w.Backend.Name(), attempts),
	}); err != nil {
		w.Logger.Error("failed to record collection history",
			zap.Uint64("id", item.ID), zap.Error(err))
		w.reportError(ctx, "insert_history", err)
	}

	metricAttempts.WithLabelValues(w.Backend.Name(), string(result.Status)).Inc()

	switch {
	case result.Status == AttemptSuccess:
		w.Logger.Info("collection succeeded",
			zap.Uint64("id", item.ID),
			zap.String("value", item.Value),
			zap.String("path", result.CollectedFilePath),
		)
	case result.Status.Retryable() && !shouldComplete:
		w.Logger.Info("collection will retry",
			zap.Uint64("id", item.ID),
			zap.String("value", item.Value),
			zap.String("result", string(result.Status)),
			zap.Int("attempt", attempts),
			zap.Int("max_retries", item.MaxRetries),
		)
	default:
		w.Logger.Warn("collection failed",
			zap.Uint64("id", item.ID),
			zap.String("value", item.Value),
			zap.String("result", string(result.Status)),
			zap.String("message", result.Message),
		)
	}

	return result
}

// invokeBackend isolates the backend call: errors and panics are converted
// into ERROR results carrying the failure's type name.
func (w *Worker) invokeBackend(ctx context.Context, item WorkItem) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Status:  AttemptError,
				Message: fmt.Sprintf("panic: %v", r),
			}
			w.Logger.Error("backend panicked",
				zap.String("collector", w.Backend.Name()),
				zap.Uint64("id", item.ID),
				zap.Any("panic", r),
			)
		}
	}()

	result, err := w.Backend.Collect(ctx, item)
	if err != nil {
		w.Logger.Error("backend collect failed",
			zap.String("collector", w.Backend.Name()),
			zap.Uint64("id", item.ID),
			zap.Error(err),
		)
		return Result{
			Status:  AttemptError,
			Message: fmt.Sprintf("%T: %v", err, err),
		}
	}
	return result
}

func (w *Worker) reportError(ctx context.Context, action string, err error) {
	if w.Reporter == nil {
		return
	}
	w.Reporter.ReportError(ctx, action, err)
}

func attemptDetails(collector string, attempt int) datatypes.JSON {
	raw, err := json.Marshal(map[string]any{
		"collector": collector,
		"attempt":   attempt,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
