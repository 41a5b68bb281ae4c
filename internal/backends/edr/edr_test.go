package edr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"filecollect/internal/collection"
	"filecollect/internal/config"
)

func newTestBackend(t *testing.T, srvURL string) *Backend {
	t.Helper()
	backend, err := New(config.BackendConfig{
		Name:           "edr-prod",
		Driver:         Driver,
		ObservableType: "file_location",
		Settings: map[string]string{
			"base_url": srvURL,
			"api_key":  "test-key",
		},
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return backend.(*Backend)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(config.BackendConfig{Name: "edr-prod", Settings: map[string]string{}}, zap.NewNop())
	if err == nil {
		t.Fatal("missing base_url should fail")
	}
}

func TestCollectOutcomes(t *testing.T) {
	cases := []struct {
		outcome string
		want    collection.AttemptStatus
	}{
		{"success", collection.AttemptSuccess},
		{"pending", collection.AttemptDelayed},
		{"host_offline", collection.AttemptHostOffline},
		{"not_found", collection.AttemptFileNotFound},
		{"failed", collection.AttemptFailed},
		{"cancelled", collection.AttemptCancelled},
		{"garbage", collection.AttemptError},
	}

	for _, tc := range cases {
		t.Run(tc.outcome, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/collect" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
					t.Errorf("auth = %q", got)
				}
				var req collectRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode request: %v", err)
				}
				if req.Host != "host1" || req.Path != "/tmp/a.exe" {
					t.Errorf("request: %+v", req)
				}
				_ = json.NewEncoder(w).Encode(collectResponse{
					Outcome:  tc.outcome,
					Message:  "msg",
					FilePath: "/collected/a.exe",
					SHA256:   "abc",
				})
			}))
			defer srv.Close()

			backend := newTestBackend(t, srv.URL)
			result, err := backend.Collect(context.Background(), collection.WorkItem{
				ID: 7, Value: "host1@/tmp/a.exe", AlertUUID: "alert-1",
			})
			if err != nil {
				t.Fatalf("collect: %v", err)
			}
			if result.Status != tc.want {
				t.Fatalf("got %s want %s", result.Status, tc.want)
			}
			if tc.want == collection.AttemptSuccess {
				if result.CollectedFilePath != "/collected/a.exe" || result.CollectedFileSHA256 != "abc" {
					t.Errorf("artifact fields: %+v", result)
				}
			}
		})
	}
}

func TestCollectHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	backend := newTestBackend(t, srv.URL)
	result, err := backend.Collect(context.Background(), collection.WorkItem{Value: "h@/p"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != collection.AttemptFailed {
		t.Fatalf("4xx: got %s", result.Status)
	}

	srv5 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv5.Close()

	backend = newTestBackend(t, srv5.URL)
	result, err = backend.Collect(context.Background(), collection.WorkItem{Value: "h@/p"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != collection.AttemptError {
		t.Fatalf("5xx: got %s", result.Status)
	}
}

func TestCollectServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	backend := newTestBackend(t, srv.URL)
	result, err := backend.Collect(context.Background(), collection.WorkItem{Value: "h@/p"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != collection.AttemptError {
		t.Fatalf("got %s", result.Status)
	}
}

func TestCollectMalformedValue(t *testing.T) {
	backend := newTestBackend(t, "http://localhost:1")
	result, err := backend.Collect(context.Background(), collection.WorkItem{Value: "nope"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != collection.AttemptFailed {
		t.Fatalf("got %s", result.Status)
	}
}
