package collection

import (
	"fmt"
	"strings"
)

// RequestStatus is the lifecycle status stored on a collection request row.
type RequestStatus string

const (
	StatusNew        RequestStatus = "NEW"
	StatusInProgress RequestStatus = "IN_PROGRESS"
	StatusCompleted  RequestStatus = "COMPLETED"
)

// AttemptStatus is the outcome of a single backend collection attempt.
type AttemptStatus string

const (
	AttemptSuccess      AttemptStatus = "SUCCESS"
	AttemptFileNotFound AttemptStatus = "FILE_NOT_FOUND"
	AttemptFailed       AttemptStatus = "FAILED"
	AttemptCancelled    AttemptStatus = "CANCELLED"
	AttemptDelayed      AttemptStatus = "DELAYED"
	AttemptHostOffline  AttemptStatus = "HOST_OFFLINE"
	AttemptError        AttemptStatus = "ERROR"
)

// Final reports whether the status terminates the request: no further retries
// regardless of budget.
func (s AttemptStatus) Final() bool {
	switch s {
	case AttemptSuccess, AttemptFileNotFound, AttemptFailed, AttemptCancelled:
		return true
	}
	return false
}

// Retryable reports whether the status indicates the attempt may be retried.
func (s AttemptStatus) Retryable() bool {
	switch s {
	case AttemptDelayed, AttemptHostOffline, AttemptError:
		return true
	}
	return false
}

// CollectionStatus projects the attempt outcome onto the request lifecycle:
// final outcomes complete the request, everything else leaves it in progress.
func (s AttemptStatus) CollectionStatus() RequestStatus {
	if s.Final() {
		return StatusCompleted
	}
	return StatusInProgress
}

// Result is the output of one backend invocation.
type Result struct {
	Status              AttemptStatus
	Message             string
	CollectedFilePath   string
	CollectedFileSHA256 string
}

// WorkItem is a point-in-time snapshot of a claimed collection request,
// joined with the owning alert's storage directory. It has no lifecycle of
// its own and is discarded after the attempt.
type WorkItem struct {
	ID         uint64
	Name       string
	Type       string
	Value      string
	AlertUUID  string
	StorageDir string
	RetryCount int
	MaxRetries int
}

// SplitFileLocation parses a file_location observable value of the form
// "hostname@/path/to/file" into its host and path parts. The path keeps any
// further '@' characters.
func SplitFileLocation(value string) (host, path string, err error) {
	host, path, ok := strings.Cut(value, "@")
	if !ok || host == "" || path == "" {
		return "", "", fmt.Errorf("invalid file location %q: expected host@path", value)
	}
	return host, path, nil
}
