package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"filecollect/internal/collection"
	"filecollect/internal/models"
	"filecollect/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Enqueue(ctx context.Context, params repository.EnqueueParams) (uint64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if strings.TrimSpace(params.AlertUUID) == "" {
		return 0, repository.ErrMissingAlert
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	item := models.CollectionRequest{
		Name:       params.CollectorName,
		Type:       params.ObservableType,
		Value:      params.ObservableValue,
		AlertUUID:  params.AlertUUID,
		UserID:     params.UserID,
		Status:     string(collection.StatusNew),
		MaxRetries: maxRetries,
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return 0, err
	}
	return item.ID, nil
}

func (s *Store) GetCollection(ctx context.Context, id uint64) (*models.CollectionRequest, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CollectionRequest
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetCollectionByObservable(ctx context.Context, name, observableType, value, alertUUID string) (*models.CollectionRequest, error) {
	return s.getByObservable(ctx, name, observableType, value, alertUUID, false)
}

func (s *Store) GetPendingCollectionByObservable(ctx context.Context, name, observableType, value, alertUUID string) (*models.CollectionRequest, error) {
	return s.getByObservable(ctx, name, observableType, value, alertUUID, true)
}

func (s *Store) getByObservable(ctx context.Context, name, observableType, value, alertUUID string, pendingOnly bool) (*models.CollectionRequest, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Where("name = ?", name).
		Where("type = ?", observableType).
		Where("value = ?", value).
		Where("alert_uuid = ?", alertUUID)
	if pendingOnly {
		query = query.Where("status <> ?", string(collection.StatusCompleted))
	}
	var item models.CollectionRequest
	err := query.Order("id DESC").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListCollections(ctx context.Context, params repository.ListCollectionsParams) ([]models.CollectionRequest, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyCollectionFilters(s.db.WithContext(ctx).Model(&models.CollectionRequest{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "id")
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.CollectionRequest
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountCollections(ctx context.Context, params repository.ListCollectionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := applyCollectionFilters(s.db.WithContext(ctx).Model(&models.CollectionRequest{}), params)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func applyCollectionFilters(query *gorm.DB, params repository.ListCollectionsParams) *gorm.DB {
	if params.ID != nil {
		query = query.Where("id = ?", *params.ID)
	}
	if params.Name != nil && strings.TrimSpace(*params.Name) != "" {
		query = query.Where("name = ?", strings.TrimSpace(*params.Name))
	}
	if params.Type != nil && strings.TrimSpace(*params.Type) != "" {
		query = query.Where("type = ?", strings.TrimSpace(*params.Type))
	}
	if params.Value != nil && strings.TrimSpace(*params.Value) != "" {
		// Value is a user-typed free text field; substring match.
		query = query.Where("value ILIKE ?", "%"+strings.TrimSpace(*params.Value)+"%")
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Result != nil && strings.TrimSpace(*params.Result) != "" {
		query = query.Where("result = ?", strings.TrimSpace(*params.Result))
	}
	return query
}

func (s *Store) ListHistory(ctx context.Context, collectionID uint64, limit, offset int) ([]models.CollectionHistory, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.CollectionHistory
	err := s.db.WithContext(ctx).
		Where("collection_request_id = ?", collectionID).
		Order("insert_date DESC").
		Limit(normalizeLimit(limit, 50)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) InsertHistory(ctx context.Context, item *models.CollectionHistory) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) CancelCollection(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.CollectionRequest{}).
		Where("id = ?", id).
		Where("status <> ?", string(collection.StatusCompleted)).
		Updates(map[string]any{
			"status":      string(collection.StatusCompleted),
			"result":      string(collection.AttemptCancelled),
			"update_time": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) RetryCollection(ctx context.Context, id uint64, onlyCompleted bool) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.CollectionRequest{}).
		Where("id = ?", id)
	if onlyCompleted {
		query = query.Where("status = ?", string(collection.StatusCompleted))
	}
	res := query.Updates(map[string]any{
		"status":         string(collection.StatusNew),
		"result":         nil,
		"result_message": nil,
		"lock":           nil,
		"lock_time":      nil,
		"update_time":    time.Now().UTC(),
		"retry_count":    0,
	})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) DeleteCollection(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	// History is removed explicitly rather than by database cascade to stay
	// portable across store implementations.
	if err := s.db.WithContext(ctx).
		Where("collection_request_id = ?", id).
		Delete(&models.CollectionHistory{}).Error; err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Delete(&models.CollectionRequest{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) ListClaimCandidates(ctx context.Context, names []string, lockTimeout, maxAge time.Duration, now time.Time) ([]models.CollectionRequest, error) {
	if s == nil || s.db == nil || len(names) == 0 {
		return nil, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var items []models.CollectionRequest
	err := s.db.WithContext(ctx).
		Where("name IN ?", names).
		Where("lock IS NULL OR lock_time <= ?", now.Add(-lockTimeout)).
		Where("status <> ?", string(collection.StatusCompleted)).
		Where("insert_date > ?", now.Add(-maxAge)).
		Order("insert_date DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ClaimCollections(ctx context.Context, ids []uint64, lockToken string, lockTimeout time.Duration, now time.Time) (int64, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return 0, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	// The lock precondition is re-checked here, inside the UPDATE itself, so
	// a row claimed by a racing dispatcher between the candidate select and
	// this statement is skipped instead of having its lock overwritten.
	res := s.db.WithContext(ctx).
		Model(&models.CollectionRequest{}).
		Where("id IN ?", ids).
		Where("lock IS NULL OR lock_time <= ?", now.Add(-lockTimeout)).
		Where("status <> ?", string(collection.StatusCompleted)).
		Updates(map[string]any{
			"lock":      lockToken,
			"lock_time": now,
			"status":    string(collection.StatusInProgress),
		})
	return res.RowsAffected, res.Error
}

func (s *Store) ListCollectionsByLock(ctx context.Context, lockToken string) ([]models.CollectionRequest, error) {
	if s == nil || s.db == nil || lockToken == "" {
		return nil, nil
	}
	var items []models.CollectionRequest
	err := s.db.WithContext(ctx).
		Where("lock = ?", lockToken).
		Order("insert_date DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) FinishAttempt(ctx context.Context, id uint64, params repository.FinishAttemptParams) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.CollectionRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"lock":                  nil,
			"status":                params.Status,
			"result":                params.Result,
			"result_message":        params.Message,
			"collected_file_path":   params.CollectedFilePath,
			"collected_file_sha256": params.CollectedFileSHA256,
			"update_time":           time.Now().UTC(),
			"retry_count":           gorm.Expr("retry_count + 1"),
		}).Error
}

func (s *Store) GetAlertByUUID(ctx context.Context, uuid string) (*models.Alert, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Alert
	err := s.db.WithContext(ctx).First(&item, "uuid = ?", uuid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateAlert(ctx context.Context, item *models.Alert) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) PurgeCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var ids []uint64
	err := s.db.WithContext(ctx).
		Model(&models.CollectionRequest{}).
		Where("status = ?", string(collection.StatusCompleted)).
		Where("update_time IS NOT NULL AND update_time < ?", before).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.db.WithContext(ctx).
		Where("collection_request_id IN ?", ids).
		Delete(&models.CollectionHistory{}).Error; err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).Delete(&models.CollectionRequest{}, "id IN ?", ids)
	return res.RowsAffected, res.Error
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(strings.ToLower(orderBy))
	switch column {
	case "id", "name", "type", "value", "status", "result", "insert_date", "update_time":
	default:
		column = fallback
	}
	direction := "ASC"
	if asc != nil && !*asc {
		direction = "DESC"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
