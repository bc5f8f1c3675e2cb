package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// SyncRun records one per-entity sync job (or one run_all pass) so run
// history is queryable, not only printed.
type SyncRun struct {
	ID          uint       `gorm:"primary_key" json:"id"`
	Entity      string     `gorm:"size:20;index;not null" json:"entity"`
	Status      string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy string     `gorm:"size:20" json:"triggered_by"`
	DryRun      bool       `gorm:"default:false" json:"dry_run"`
	Checked     int        `json:"checked"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Unchanged   int        `json:"unchanged"`
	Skipped     int        `json:"skipped"`
	Errors      int        `json:"errors"`
	FatalError  string     `gorm:"type:text" json:"fatal_error"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	DurationMs  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRunError partitions per-record failures away from the run itself: one
// bad record never aborts the batch, it lands here instead.
type SyncRunError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	EntityKind  string    `gorm:"size:20" json:"entity_kind"`
	RemoteId    string    `gorm:"size:64" json:"remote_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateSyncRun(ctx context.Context, db *gorm.DB, entity string, triggeredBy string, dryRun bool) (*SyncRun, error) {
	run := SyncRun{
		Entity:      entity,
		Status:      SyncRunStatusQueued,
		TriggeredBy: triggeredBy,
		DryRun:      dryRun,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func GetSyncRunById(ctx context.Context, db *gorm.DB, id uint) (*SyncRun, error) {
	var run SyncRun
	err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func ListRecentSyncRuns(ctx context.Context, db *gorm.DB, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []SyncRun
	err := db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func ListSyncRunErrors(ctx context.Context, db *gorm.DB, runId uint) ([]SyncRunError, error) {
	var errs []SyncRunError
	err := db.WithContext(ctx).Where("sync_run_id = ?", runId).Order("id").Find(&errs).Error
	if err != nil {
		return nil, err
	}
	return errs, nil
}

func CreateSyncRunError(ctx context.Context, db *gorm.DB, runId uint, entityKind string, remoteId string, code string, message string, payload []byte, retryable bool) error {
	rec := SyncRunError{
		SyncRunId:   runId,
		EntityKind:  entityKind,
		RemoteId:    remoteId,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
		Retryable:   retryable,
	}
	return db.WithContext(ctx).Create(&rec).Error
}
