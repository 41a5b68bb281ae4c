package handler

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"filecollect/internal/collection"
	"filecollect/internal/config"
	"filecollect/internal/repository"
)

// CollectionHandler exposes the collection request lifecycle over HTTP:
// enqueue, inspect, list, and the manual cancel/retry/delete actions.
type CollectionHandler struct {
	Repo   repository.CollectionRepository
	Logger *zap.Logger

	// Backends feeds the catalog endpoint so UIs can build filter dropdowns
	// without DISTINCT queries.
	Backends []config.BackendConfig

	// RetryRequiresCompleted restricts retry/bulk-retry to COMPLETED records.
	RetryRequiresCompleted bool
}

func (h *CollectionHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/collections")
	group.POST("", h.enqueue)
	group.GET("", h.list)
	group.GET("/catalog", h.catalog)
	group.POST("/actions", h.bulkActions)
	group.GET("/:id", h.get)
	group.GET("/:id/history", h.history)
	group.POST("/:id/cancel", h.cancel)
	group.POST("/:id/retry", h.retry)
	group.DELETE("/:id", h.remove)
}

type enqueueRequest struct {
	Name       string `json:"name" binding:"required"`
	Type       string `json:"type" binding:"required"`
	Value      string `json:"value" binding:"required"`
	AlertUUID  string `json:"alert_uuid"`
	UserID     *int64 `json:"user_id"`
	MaxRetries int    `json:"max_retries"`
}

func (h *CollectionHandler) enqueue(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	// An observable with an unfinished request gets no second row; the
	// pending one already covers it.
	pending, err := h.Repo.GetPendingCollectionByObservable(
		c.Request.Context(), req.Name, req.Type, req.Value, req.AlertUUID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if pending != nil {
		Ok(c, pending, map[string]any{"duplicate": true})
		return
	}

	id, err := h.Repo.Enqueue(c.Request.Context(), repository.EnqueueParams{
		CollectorName:   req.Name,
		ObservableType:  req.Type,
		ObservableValue: req.Value,
		AlertUUID:       req.AlertUUID,
		UserID:          req.UserID,
		MaxRetries:      req.MaxRetries,
	})
	if err != nil {
		if errors.Is(err, repository.ErrMissingAlert) {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	h.Logger.Info("collection request enqueued",
		zap.Uint64("id", id),
		zap.String("name", req.Name),
		zap.String("type", req.Type),
		zap.String("value", req.Value),
	)
	item, err := h.Repo.GetCollection(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *CollectionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListCollectionsParams{
		Limit:   intQuery(c, "limit", 50),
		Offset:  intQuery(c, "offset", 0),
		ID:      uintQueryPtr(c, "id"),
		Name:    strQueryPtr(c, "name"),
		Type:    strQueryPtr(c, "type"),
		Value:   strQueryPtr(c, "value"),
		Status:  strQueryPtr(c, "status"),
		Result:  strQueryPtr(c, "result"),
		OrderBy: strings.TrimSpace(c.Query("sort")),
	}
	if dir := strings.ToLower(strings.TrimSpace(c.Query("dir"))); dir != "" {
		params.Asc = boolPtr(dir != "desc")
	}

	total, err := h.Repo.CountCollections(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	items, err := h.Repo.ListCollections(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(params.Limit, params.Offset, total))
}

// catalog returns the vocabulary for building list filters: configured
// collector names and observable types plus the fixed status enumerations.
func (h *CollectionHandler) catalog(c *gin.Context) {
	names := make([]string, 0, len(h.Backends))
	typeSet := map[string]struct{}{}
	for _, b := range h.Backends {
		names = append(names, b.Name)
		typeSet[b.ObservableType] = struct{}{}
	}
	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(names)
	sort.Strings(types)

	Ok(c, gin.H{
		"collectors": names,
		"types":      types,
		"statuses": []collection.RequestStatus{
			collection.StatusNew, collection.StatusInProgress, collection.StatusCompleted,
		},
		"results": []collection.AttemptStatus{
			collection.AttemptSuccess, collection.AttemptFileNotFound,
			collection.AttemptFailed, collection.AttemptCancelled,
			collection.AttemptDelayed, collection.AttemptHostOffline,
			collection.AttemptError,
		},
	}, nil)
}

func (h *CollectionHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetCollection(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "collection not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *CollectionHandler) history(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListHistory(c.Request.Context(), id, limit, offset)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}

func (h *CollectionHandler) cancel(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	updated, err := h.Repo.CancelCollection(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if updated {
		h.Logger.Info("collection request cancelled", zap.Uint64("id", id))
	}
	Ok(c, gin.H{"updated": updated}, nil)
}

func (h *CollectionHandler) retry(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	updated, err := h.Repo.RetryCollection(c.Request.Context(), id, h.RetryRequiresCompleted)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if updated {
		h.Logger.Info("collection request reset for retry", zap.Uint64("id", id))
	}
	Ok(c, gin.H{"updated": updated}, nil)
}

func (h *CollectionHandler) remove(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	deleted, err := h.Repo.DeleteCollection(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if deleted {
		h.Logger.Info("collection request deleted", zap.Uint64("id", id))
	}
	Ok(c, gin.H{"deleted": deleted}, nil)
}

type bulkActionRequest struct {
	Action string   `json:"action" binding:"required"`
	IDs    []uint64 `json:"ids" binding:"required"`
}

// bulkActions applies cancel, retry, or delete across a set of ids and
// returns how many rows were actually affected. Per-row misses (already
// completed, already gone) are not errors.
func (h *CollectionHandler) bulkActions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req bulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	var count int64
	for _, id := range req.IDs {
		var (
			applied bool
			err     error
		)
		switch req.Action {
		case "cancel":
			applied, err = h.Repo.CancelCollection(c.Request.Context(), id)
		case "retry":
			applied, err = h.Repo.RetryCollection(c.Request.Context(), id, h.RetryRequiresCompleted)
		case "delete":
			applied, err = h.Repo.DeleteCollection(c.Request.Context(), id)
		default:
			Error(c, http.StatusBadRequest,
				"invalid action: "+req.Action+", possible values: cancel, retry, delete", nil)
			return
		}
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		if applied {
			count++
		}
	}
	h.Logger.Info("bulk collection action applied",
		zap.String("action", req.Action),
		zap.Int("requested", len(req.IDs)),
		zap.Int64("affected", count),
	)
	Ok(c, gin.H{"count": count}, nil)
}
