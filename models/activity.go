package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Activity mirrors a remote CRM work item. The sync pipeline creates it and
// never mutates it afterwards; the materializer only reads it.
type Activity struct {
	ID              int        `gorm:"primary_key" json:"id"`
	RemoteId        int        `gorm:"uniqueIndex;not null" json:"remote_id"`
	OwnerId         int        `json:"owner_id"`
	OwnerName       string     `gorm:"size:255" json:"owner_name"`
	OwnerUserId     *string    `gorm:"size:36" json:"owner_user_id"`
	CompanyId       *int       `gorm:"index" json:"company_id"`
	CustomerName    string     `gorm:"size:255" json:"customer_name"`
	Subject         string     `gorm:"size:255" json:"subject"`
	Description     string     `gorm:"type:text" json:"description"`
	SubtypeCode     int        `gorm:"index" json:"subtype_code"`
	Closed          bool       `gorm:"default:false" json:"closed"`
	RemoteCreatedAt *time.Time `json:"remote_created_at"`
	RawJSON         []byte     `gorm:"type:json" json:"raw"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func FindActivityByRemoteId(ctx context.Context, db *gorm.DB, remoteId int) (*Activity, error) {
	var activity Activity
	err := db.WithContext(ctx).Where("remote_id = ?", remoteId).Take(&activity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &activity, nil
}

// ListActivitiesWithoutTicket returns activities of the given subtype that
// have not been materialized yet, oldest first.
func ListActivitiesWithoutTicket(ctx context.Context, db *gorm.DB, subtypeCode int, limit int) ([]Activity, error) {
	var activities []Activity
	q := db.WithContext(ctx).
		Where("subtype_code = ?", subtypeCode).
		Where("closed = ?", false).
		Where("id NOT IN (?)", db.Session(&gorm.Session{NewDB: true}).
			Model(&Ticket{}).
			Select("activity_id").
			Where("activity_id IS NOT NULL")).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&activities).Error; err != nil {
		return nil, err
	}
	return activities, nil
}
