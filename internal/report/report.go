// Package report delivers unexpected-error notifications to an external
// sink. Reporting is fire-and-forget: it never blocks the caller beyond a
// short timeout and never returns an error.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Reporter interface {
	ReportError(ctx context.Context, action string, err error)
}

// Nop discards all reports. Used when no sink is configured.
type Nop struct{}

func (Nop) ReportError(ctx context.Context, action string, err error) {}

// Client posts error reports as JSON to a webhook endpoint.
type Client struct {
	URL     string
	Timeout time.Duration
	Logger  *zap.Logger

	HTTP *http.Client
}

type errorReport struct {
	Service   string `json:"service"`
	Action    string `json:"action"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func (c *Client) ReportError(ctx context.Context, action string, reported error) {
	if c == nil || strings.TrimSpace(c.URL) == "" || reported == nil {
		return
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(errorReport{
		Service:   "filecollect",
		Action:    action,
		Error:     reported.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Debug("error report delivery failed", zap.Error(err))
		}
		return
	}
	_ = resp.Body.Close()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
