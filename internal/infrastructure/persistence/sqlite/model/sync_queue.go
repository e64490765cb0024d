package model

import (
	"time"

	"gorm.io/datatypes"
)

type SyncQueueEntry struct {
	ID            uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Kind          string         `gorm:"column:kind;type:text;not null;uniqueIndex:idx_sync_queue_kind_ref"`
	Ref           string         `gorm:"column:ref;type:text;not null;uniqueIndex:idx_sync_queue_kind_ref"`
	InspectionID  uint64         `gorm:"column:inspection_id;not null;index"`
	Payload       datatypes.JSON `gorm:"column:payload;not null"`
	Status        string         `gorm:"column:status;type:text;not null;index"`
	Attempts      int            `gorm:"column:attempts;not null;default:0"`
	LastAttemptAt *time.Time     `gorm:"column:last_attempt_at"`
	NextAttemptAt time.Time      `gorm:"column:next_attempt_at;not null;index"`
	LastError     string         `gorm:"column:last_error;type:text;not null;default:''"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null"`
}

func (SyncQueueEntry) TableName() string {
	return "sync_queue"
}
