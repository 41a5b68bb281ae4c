package repository

import (
	"context"
	"errors"
	"time"

	"filecollect/internal/models"
)

// ErrMissingAlert is returned by Enqueue when no alert reference is given.
// Every collection request must belong to an alert so the collected artifact
// has a storage location.
var ErrMissingAlert = errors.New("alert_uuid is required for file collection")

// CollectionRepository wraps all persistence for the file collection
// subsystem. Every mutation is a single-statement atomic UPDATE/DELETE; the
// claim path relies on the store re-checking its precondition at write time.
type CollectionRepository interface {
	// Enqueue inserts a NEW collection request and returns its id.
	Enqueue(ctx context.Context, params EnqueueParams) (uint64, error)
	GetCollection(ctx context.Context, id uint64) (*models.CollectionRequest, error)
	// GetCollectionByObservable returns the most recent request for the
	// observable, scoped to collector name + type + value + alert.
	GetCollectionByObservable(ctx context.Context, name, observableType, value, alertUUID string) (*models.CollectionRequest, error)
	// GetPendingCollectionByObservable is the same lookup restricted to
	// requests that have not completed, used to suppress duplicate enqueues.
	GetPendingCollectionByObservable(ctx context.Context, name, observableType, value, alertUUID string) (*models.CollectionRequest, error)
	ListCollections(ctx context.Context, params ListCollectionsParams) ([]models.CollectionRequest, error)
	CountCollections(ctx context.Context, params ListCollectionsParams) (int64, error)

	// ListHistory returns attempt history for a request, most recent first.
	ListHistory(ctx context.Context, collectionID uint64, limit, offset int) ([]models.CollectionHistory, error)
	InsertHistory(ctx context.Context, item *models.CollectionHistory) error

	// CancelCollection atomically completes a request with a CANCELLED
	// result. Returns false if the request is missing or already COMPLETED.
	CancelCollection(ctx context.Context, id uint64) (bool, error)
	// RetryCollection resets a request to its initial state (status NEW,
	// result/lock cleared, retry_count 0). With onlyCompleted the reset is
	// restricted to COMPLETED records; otherwise any record is reset, which
	// can resurrect an in-flight one.
	RetryCollection(ctx context.Context, id uint64, onlyCompleted bool) (bool, error)
	// DeleteCollection removes a request and its history. Returns false if
	// the request does not exist.
	DeleteCollection(ctx context.Context, id uint64) (bool, error)

	// ListClaimCandidates returns rows eligible for claiming this cycle:
	// collector name in names, lock free or timed out, not COMPLETED, and
	// younger than maxAge. Ordered newest-insert-first. Backoff filtering is
	// the dispatcher's job.
	ListClaimCandidates(ctx context.Context, names []string, lockTimeout, maxAge time.Duration, now time.Time) ([]models.CollectionRequest, error)
	// ClaimCollections locks the given ids in one UPDATE whose WHERE clause
	// re-checks the lock-free-or-expired precondition, so a row claimed by a
	// concurrent dispatcher between select and update is skipped rather than
	// stolen. Returns the number of rows actually claimed.
	ClaimCollections(ctx context.Context, ids []uint64, lockToken string, lockTimeout time.Duration, now time.Time) (int64, error)
	// ListCollectionsByLock is the authoritative read-after-claim: exactly
	// the rows holding lockToken, newest-insert-first.
	ListCollectionsByLock(ctx context.Context, lockToken string) ([]models.CollectionRequest, error)
	// FinishAttempt writes the outcome of one attempt in a single statement:
	// clears the lock, sets status/result/artifact fields, increments
	// retry_count and stamps update_time.
	FinishAttempt(ctx context.Context, id uint64, params FinishAttemptParams) error

	GetAlertByUUID(ctx context.Context, uuid string) (*models.Alert, error)
	CreateAlert(ctx context.Context, item *models.Alert) error

	// PurgeCompletedBefore deletes COMPLETED requests (and their history)
	// whose last update is older than before. Returns the number of requests
	// removed.
	PurgeCompletedBefore(ctx context.Context, before time.Time) (int64, error)
}

type EnqueueParams struct {
	CollectorName   string
	ObservableType  string
	ObservableValue string
	AlertUUID       string
	UserID          *int64
	MaxRetries      int
}

type ListCollectionsParams struct {
	Limit  int
	Offset int

	// Exact-match filters, except Value which is a substring match.
	ID     *uint64
	Name   *string
	Type   *string
	Value  *string
	Status *string
	Result *string

	OrderBy string
	Asc     *bool
}

type FinishAttemptParams struct {
	Status              string
	Result              string
	Message             *string
	CollectedFilePath   *string
	CollectedFileSHA256 *string
}
