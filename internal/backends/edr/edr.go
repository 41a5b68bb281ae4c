// Package edr collects files through an EDR remote-response REST API.
//
// The API is asynchronous on its side: a collect call may come back pending,
// which maps to a retryable DELAYED attempt until the agent uploads the file.
package edr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"filecollect/internal/collection"
	"filecollect/internal/config"
)

const Driver = "edr"

type Backend struct {
	name           string
	observableType string
	logger         *zap.Logger

	baseURL string
	apiKey  string

	HTTP *http.Client
}

// New builds the backend from its settings map: base_url, api_key, timeout.
func New(cfg config.BackendConfig, logger *zap.Logger) (collection.Backend, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Settings["base_url"]), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("edr backend %q: setting \"base_url\" is required", cfg.Name)
	}
	timeout := 30 * time.Second
	if raw := cfg.Settings["timeout"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("edr backend %q: invalid timeout: %w", cfg.Name, err)
		}
		timeout = d
	}
	return &Backend{
		name:           cfg.Name,
		observableType: cfg.ObservableType,
		logger:         logger,
		baseURL:        baseURL,
		apiKey:         strings.TrimSpace(cfg.Settings["api_key"]),
		HTTP:           &http.Client{Timeout: timeout},
	}, nil
}

func (b *Backend) Name() string           { return b.name }
func (b *Backend) ObservableType() string { return b.observableType }

func (b *Backend) ShouldRetry(result collection.Result, attempts, maxRetries int) bool {
	return collection.DefaultShouldRetry(result, attempts, maxRetries)
}

type collectRequest struct {
	Host      string `json:"host"`
	Path      string `json:"path"`
	AlertUUID string `json:"alert_uuid"`
	RequestID uint64 `json:"request_id"`
}

type collectResponse struct {
	Outcome  string `json:"outcome"`
	Message  string `json:"message"`
	FilePath string `json:"file_path"`
	SHA256   string `json:"sha256"`
}

func (b *Backend) Collect(ctx context.Context, item collection.WorkItem) (collection.Result, error) {
	host, path, err := collection.SplitFileLocation(item.Value)
	if err != nil {
		return collection.Result{
			Status:  collection.AttemptFailed,
			Message: err.Error(),
		}, nil
	}

	body, err := json.Marshal(collectRequest{
		Host:      host,
		Path:      path,
		AlertUUID: item.AlertUUID,
		RequestID: item.ID,
	})
	if err != nil {
		return collection.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/v1/collect", bytes.NewReader(body))
	if err != nil {
		return collection.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.HTTP.Do(req)
	if err != nil {
		// Can't reach the EDR server itself; worth retrying later.
		return collection.Result{
			Status:  collection.AttemptError,
			Message: fmt.Sprintf("edr request: %v", err),
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return collection.Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := collection.AttemptError
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			status = collection.AttemptFailed
		}
		return collection.Result{
			Status:  status,
			Message: fmt.Sprintf("edr http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}, nil
	}

	var cr collectResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return collection.Result{
			Status:  collection.AttemptError,
			Message: fmt.Sprintf("edr response decode: %v", err),
		}, nil
	}
	return b.mapOutcome(cr), nil
}

// mapOutcome translates the API's outcome vocabulary onto attempt statuses.
// An unknown outcome is an ERROR so the attempt stays retryable and visible.
func (b *Backend) mapOutcome(cr collectResponse) collection.Result {
	switch strings.ToLower(strings.TrimSpace(cr.Outcome)) {
	case "success":
		return collection.Result{
			Status:              collection.AttemptSuccess,
			Message:             cr.Message,
			CollectedFilePath:   cr.FilePath,
			CollectedFileSHA256: cr.SHA256,
		}
	case "pending":
		return collection.Result{Status: collection.AttemptDelayed, Message: cr.Message}
	case "host_offline":
		return collection.Result{Status: collection.AttemptHostOffline, Message: cr.Message}
	case "not_found":
		return collection.Result{Status: collection.AttemptFileNotFound, Message: cr.Message}
	case "failed":
		return collection.Result{Status: collection.AttemptFailed, Message: cr.Message}
	case "cancelled":
		return collection.Result{Status: collection.AttemptCancelled, Message: cr.Message}
	default:
		return collection.Result{
			Status:  collection.AttemptError,
			Message: fmt.Sprintf("unknown edr outcome %q: %s", cr.Outcome, cr.Message),
		}
	}
}
