package models

import (
	"time"

	"gorm.io/datatypes"
)

// CollectionRequest is one outstanding or historical file collection job.
//
// The lock/lock_time pair implements the advisory claim: a non-null lock means
// some worker owns an in-flight attempt, and it is cleared whenever an attempt
// finishes regardless of outcome. UpdateTime is null until the first attempt
// completes; the dispatcher treats a null UpdateTime as immediately eligible.
type CollectionRequest struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	// Name of the collector backend that handles this request.
	Name      string `gorm:"type:varchar(100);not null;index"`
	Type      string `gorm:"type:varchar(100);not null"`
	Value     string `gorm:"type:varchar(1024);not null"`
	AlertUUID string `gorm:"type:varchar(64);not null;index"`
	UserID    *int64

	Status string  `gorm:"type:varchar(20);not null;default:'NEW';index"`
	Result *string `gorm:"type:varchar(20)"`

	ResultMessage       *string `gorm:"type:text"`
	CollectedFilePath   *string `gorm:"type:varchar(1024)"`
	CollectedFileSHA256 *string `gorm:"type:varchar(64)"`

	Lock     *string    `gorm:"type:varchar(64);index"`
	LockTime *time.Time `gorm:"type:timestamptz"`

	RetryCount int `gorm:"not null;default:0"`
	// MaxRetries is the retry budget hint checked by the worker after each
	// attempt. The dispatcher's claim query does not filter on it; the
	// age-based cutoff is what ultimately stops claiming.
	MaxRetries int `gorm:"not null;default:10"`

	InsertDate time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdateTime *time.Time `gorm:"type:timestamptz"`
}

func (CollectionRequest) TableName() string {
	return "collection_requests"
}

// CollectionHistory is an append-only record of one collection attempt.
// Rows are never updated and are deleted only when the parent request is.
type CollectionHistory struct {
	ID                  uint64 `gorm:"primaryKey;autoIncrement"`
	CollectionRequestID uint64 `gorm:"not null;index"`

	Result  string         `gorm:"type:varchar(20);not null"`
	Message string         `gorm:"type:text;not null"`
	Status  string         `gorm:"type:varchar(20);not null"`
	Details datatypes.JSON `gorm:"type:jsonb"`

	InsertDate time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (CollectionHistory) TableName() string {
	return "collection_history"
}
