package models

import "time"

// Alert is the minimal projection of an investigation alert that the file
// collection subsystem needs: a stable UUID and the on-disk storage directory
// that collected artifacts are written into. The full alert lifecycle is owned
// elsewhere.
type Alert struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	UUID       string `gorm:"type:varchar(64);uniqueIndex;not null"`
	StorageDir string `gorm:"type:varchar(1024);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Alert) TableName() string {
	return "alerts"
}
