package cronrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"filecollect/internal/repository"
)

// purgeStore stubs only the purge call; the embedded interface panics on
// anything else, which the job must never touch.
type purgeStore struct {
	repository.CollectionRepository

	calls  int
	before time.Time
	purged int64
	err    error
}

func (s *purgeStore) PurgeCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	s.calls++
	s.before = before
	return s.purged, s.err
}

func TestPurgeCompletedJobCutoff(t *testing.T) {
	store := &purgeStore{purged: 3}
	job := PurgeCompletedJob(store, zap.NewNop(), 30)
	job(context.Background())

	if store.calls != 1 {
		t.Fatalf("purge called %d times", store.calls)
	}
	want := time.Now().UTC().AddDate(0, 0, -30)
	if diff := store.before.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff = %v, want ~%v", store.before, want)
	}
}

func TestPurgeCompletedJobDefaultRetention(t *testing.T) {
	store := &purgeStore{}
	job := PurgeCompletedJob(store, zap.NewNop(), 0)
	job(context.Background())

	want := time.Now().UTC().AddDate(0, 0, -90)
	if diff := store.before.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff = %v, want default ~%v", store.before, want)
	}
}

func TestPurgeCompletedJobSwallowsStoreError(t *testing.T) {
	store := &purgeStore{err: errors.New("db down")}
	job := PurgeCompletedJob(store, zap.NewNop(), 30)
	job(context.Background())

	if store.calls != 1 {
		t.Fatalf("purge called %d times", store.calls)
	}
}
