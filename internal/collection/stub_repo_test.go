package collection

import (
	"context"
	"strings"
	"sync"
	"time"

	"filecollect/internal/models"
	"filecollect/internal/repository"
)

// stubRepo is an in-memory CollectionRepository with the same claim and
// finish semantics as the real store.
type stubRepo struct {
	mu      sync.Mutex
	nextID  uint64
	rows    []*models.CollectionRequest
	history []models.CollectionHistory
	alerts  map[string]*models.Alert

	finishErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{alerts: map[string]*models.Alert{}}
}

func (r *stubRepo) addAlert(uuid, storageDir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[uuid] = &models.Alert{UUID: uuid, StorageDir: storageDir}
}

func (r *stubRepo) addRow(row models.CollectionRequest) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	row.ID = r.nextID
	if row.Status == "" {
		row.Status = string(StatusNew)
	}
	if row.MaxRetries == 0 {
		row.MaxRetries = 10
	}
	if row.InsertDate.IsZero() {
		row.InsertDate = time.Now().UTC()
	}
	copied := row
	r.rows = append(r.rows, &copied)
	return copied.ID
}

func (r *stubRepo) row(id uint64) *models.CollectionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (r *stubRepo) Enqueue(ctx context.Context, params repository.EnqueueParams) (uint64, error) {
	if strings.TrimSpace(params.AlertUUID) == "" {
		return 0, repository.ErrMissingAlert
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return r.addRow(models.CollectionRequest{
		Name:       params.CollectorName,
		Type:       params.ObservableType,
		Value:      params.ObservableValue,
		AlertUUID:  params.AlertUUID,
		UserID:     params.UserID,
		MaxRetries: maxRetries,
	}), nil
}

func (r *stubRepo) GetCollection(ctx context.Context, id uint64) (*models.CollectionRequest, error) {
	row := r.row(id)
	if row == nil {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (r *stubRepo) GetCollectionByObservable(ctx context.Context, name, observableType, value, alertUUID string) (*models.CollectionRequest, error) {
	return r.byObservable(name, observableType, value, alertUUID, false), nil
}

func (r *stubRepo) GetPendingCollectionByObservable(ctx context.Context, name, observableType, value, alertUUID string) (*models.CollectionRequest, error) {
	return r.byObservable(name, observableType, value, alertUUID, true), nil
}

func (r *stubRepo) byObservable(name, observableType, value, alertUUID string, pendingOnly bool) *models.CollectionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *models.CollectionRequest
	for _, row := range r.rows {
		if row.Name != name || row.Type != observableType || row.Value != value || row.AlertUUID != alertUUID {
			continue
		}
		if pendingOnly && row.Status == string(StatusCompleted) {
			continue
		}
		if found == nil || row.ID > found.ID {
			found = row
		}
	}
	if found == nil {
		return nil
	}
	copied := *found
	return &copied
}

func (r *stubRepo) ListCollections(ctx context.Context, params repository.ListCollectionsParams) ([]models.CollectionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []models.CollectionRequest
	for _, row := range r.rows {
		items = append(items, *row)
	}
	return items, nil
}

func (r *stubRepo) CountCollections(ctx context.Context, params repository.ListCollectionsParams) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rows)), nil
}

func (r *stubRepo) ListHistory(ctx context.Context, collectionID uint64, limit, offset int) ([]models.CollectionHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []models.CollectionHistory
	for _, h := range r.history {
		if h.CollectionRequestID == collectionID {
			items = append(items, h)
		}
	}
	return items, nil
}

func (r *stubRepo) InsertHistory(ctx context.Context, item *models.CollectionHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, *item)
	return nil
}

func (r *stubRepo) CancelCollection(ctx context.Context, id uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id && row.Status != string(StatusCompleted) {
			row.Status = string(StatusCompleted)
			result := string(AttemptCancelled)
			row.Result = &result
			now := time.Now().UTC()
			row.UpdateTime = &now
			return true, nil
		}
	}
	return false, nil
}

func (r *stubRepo) RetryCollection(ctx context.Context, id uint64, onlyCompleted bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID != id {
			continue
		}
		if onlyCompleted && row.Status != string(StatusCompleted) {
			return false, nil
		}
		row.Status = string(StatusNew)
		row.Result = nil
		row.ResultMessage = nil
		row.Lock = nil
		row.LockTime = nil
		row.RetryCount = 0
		now := time.Now().UTC()
		row.UpdateTime = &now
		return true, nil
	}
	return false, nil
}

func (r *stubRepo) DeleteCollection(ctx context.Context, id uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, row := range r.rows {
		if row.ID == id {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			var kept []models.CollectionHistory
			for _, h := range r.history {
				if h.CollectionRequestID != id {
					kept = append(kept, h)
				}
			}
			r.history = kept
			return true, nil
		}
	}
	return false, nil
}

func (r *stubRepo) ListClaimCandidates(ctx context.Context, names []string, lockTimeout, maxAge time.Duration, now time.Time) ([]models.CollectionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nameSet := map[string]bool{}
	for _, n := range names {
		nameSet[n] = true
	}
	var items []models.CollectionRequest
	for _, row := range r.rows {
		if !nameSet[row.Name] {
			continue
		}
		if row.Status == string(StatusCompleted) {
			continue
		}
		if row.Lock != nil && (row.LockTime == nil || row.LockTime.After(now.Add(-lockTimeout))) {
			continue
		}
		if !row.InsertDate.After(now.Add(-maxAge)) {
			continue
		}
		items = append(items, *row)
	}
	return items, nil
}

func (r *stubRepo) ClaimCollections(ctx context.Context, ids []uint64, lockToken string, lockTimeout time.Duration, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idSet := map[uint64]bool{}
	for _, id := range ids {
		idSet[id] = true
	}
	var claimed int64
	for _, row := range r.rows {
		if !idSet[row.ID] {
			continue
		}
		if row.Status == string(StatusCompleted) {
			continue
		}
		if row.Lock != nil && (row.LockTime == nil || row.LockTime.After(now.Add(-lockTimeout))) {
			continue
		}
		token := lockToken
		lockTime := now
		row.Lock = &token
		row.LockTime = &lockTime
		row.Status = string(StatusInProgress)
		claimed++
	}
	return claimed, nil
}

func (r *stubRepo) ListCollectionsByLock(ctx context.Context, lockToken string) ([]models.CollectionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []models.CollectionRequest
	for _, row := range r.rows {
		if row.Lock != nil && *row.Lock == lockToken {
			items = append(items, *row)
		}
	}
	return items, nil
}

func (r *stubRepo) FinishAttempt(ctx context.Context, id uint64, params repository.FinishAttemptParams) error {
	if r.finishErr != nil {
		return r.finishErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID != id {
			continue
		}
		row.Lock = nil
		row.Status = params.Status
		result := params.Result
		row.Result = &result
		row.ResultMessage = params.Message
		row.CollectedFilePath = params.CollectedFilePath
		row.CollectedFileSHA256 = params.CollectedFileSHA256
		row.RetryCount++
		now := time.Now().UTC()
		row.UpdateTime = &now
		return nil
	}
	return nil
}

func (r *stubRepo) GetAlertByUUID(ctx context.Context, uuid string) (*models.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[uuid]
	if !ok {
		return nil, nil
	}
	copied := *alert
	return &copied, nil
}

func (r *stubRepo) CreateAlert(ctx context.Context, item *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[item.UUID] = item
	return nil
}

func (r *stubRepo) PurgeCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*models.CollectionRequest
	var purged int64
	for _, row := range r.rows {
		if row.Status == string(StatusCompleted) && row.UpdateTime != nil && row.UpdateTime.Before(before) {
			purged++
			continue
		}
		kept = append(kept, row)
	}
	r.rows = kept
	return purged, nil
}

// fakeBackend records the items it is asked to collect and returns canned
// results in order, repeating the last one.
type fakeBackend struct {
	name           string
	observableType string

	mu      sync.Mutex
	items   []WorkItem
	results []Result
	errs    []error
	panics  bool
}

func (b *fakeBackend) Name() string           { return b.name }
func (b *fakeBackend) ObservableType() string { return b.observableType }

func (b *fakeBackend) ShouldRetry(result Result, attempts, maxRetries int) bool {
	return DefaultShouldRetry(result, attempts, maxRetries)
}

func (b *fakeBackend) Collect(ctx context.Context, item WorkItem) (Result, error) {
	b.mu.Lock()
	n := len(b.items)
	b.items = append(b.items, item)
	b.mu.Unlock()
	if b.panics {
		panic("backend exploded")
	}
	if n < len(b.errs) && b.errs[n] != nil {
		return Result{}, b.errs[n]
	}
	if len(b.results) == 0 {
		return Result{Status: AttemptSuccess}, nil
	}
	if n >= len(b.results) {
		n = len(b.results) - 1
	}
	return b.results[n], nil
}

func (b *fakeBackend) collected() []WorkItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]WorkItem(nil), b.items...)
}

// recordingListener captures dispatched work items.
type recordingListener struct {
	mu    sync.Mutex
	items []WorkItem
	err   error
}

func (l *recordingListener) HandleCollectionRequest(item WorkItem) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.items = append(l.items, item)
	return nil
}

func (l *recordingListener) received() []WorkItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]WorkItem(nil), l.items...)
}
