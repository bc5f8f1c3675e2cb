package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Contact struct {
	ID         string    `gorm:"primary_key;size:36" json:"id"`
	CompanyId  *int      `gorm:"index" json:"company_id"`
	RemoteId   *int      `gorm:"uniqueIndex" json:"remote_id"`
	FirstName  string    `gorm:"size:100" json:"first_name"`
	LastName   string    `gorm:"size:100" json:"last_name"`
	Email      string    `gorm:"size:255;index" json:"email"`
	Phone      string    `gorm:"size:50;index" json:"phone"`
	Role       string    `gorm:"size:100" json:"role"`
	OwnersJSON []byte    `gorm:"type:json" json:"owners"`
	Source     string    `gorm:"size:50" json:"source"`
	RawJSON    []byte    `gorm:"type:json" json:"raw"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func FindContactByRemoteId(ctx context.Context, db *gorm.DB, remoteId int) (*Contact, error) {
	var contact Contact
	err := db.WithContext(ctx).Where("remote_id = ?", remoteId).Take(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

func FindContactByEmail(ctx context.Context, db *gorm.DB, email string) (*Contact, error) {
	var contact Contact
	err := db.WithContext(ctx).Where("email = ?", email).Take(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

// FindContactByPhone expects an already-normalized phone number; see
// utils.NormalizePhoneNumber.
func FindContactByPhone(ctx context.Context, db *gorm.DB, phone string) (*Contact, error) {
	var contact Contact
	err := db.WithContext(ctx).Where("phone = ?", phone).Take(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}
