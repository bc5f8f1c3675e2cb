package models

import (
	"context"

	"gorm.io/gorm"
)

// CatalogItem is an "articolo": a named product/service kit whose token,
// when detected in an activity description, selects a ticket template.
type CatalogItem struct {
	ID               int             `gorm:"primary_key" json:"id"`
	Code             string          `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name             string          `gorm:"size:255;not null" json:"name"`
	Description      string          `gorm:"type:text" json:"description"`
	Type             CatalogItemType `gorm:"size:20;not null" json:"type"`
	PartnerId        *int            `gorm:"index" json:"partner_id"`
	IsActive         bool            `gorm:"default:true" json:"is_active"`
	TicketTemplateId *string         `gorm:"size:36" json:"ticket_template_id"`
}

func ListActiveCatalogItems(ctx context.Context, db *gorm.DB) ([]CatalogItem, error) {
	var items []CatalogItem
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
