package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// HubUser is a platform operator. Tasks are assigned to users; activity
// owners resolve to a user when one matches, otherwise the owner is kept as
// a free-form name.
type HubUser struct {
	ID        string    `gorm:"primary_key;size:36" json:"id"`
	FirstName string    `gorm:"size:100" json:"first_name"`
	LastName  string    `gorm:"size:100" json:"last_name"`
	Email     string    `gorm:"size:255;uniqueIndex" json:"email"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*HubUser, error) {
	var user HubUser
	err := db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func FindUserByNameCI(ctx context.Context, db *gorm.DB, firstName string, lastName string) (*HubUser, error) {
	var user HubUser
	err := db.WithContext(ctx).
		Where("LOWER(first_name) = LOWER(?) AND LOWER(last_name) = LOWER(?)", firstName, lastName).
		Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
