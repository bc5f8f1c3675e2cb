package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Company shares its primary key with the remote CRM: the remote company id
// IS the local id. The sync pipeline is the only writer.
type Company struct {
	ID              int          `gorm:"primary_key" json:"id"`
	Name            string       `gorm:"size:255;index;not null" json:"name"`
	TaxId           string       `gorm:"size:32;index" json:"tax_id"`
	Address         string       `gorm:"size:255" json:"address"`
	City            string       `gorm:"size:100" json:"city"`
	Region          string       `gorm:"size:100" json:"region"`
	Website         string       `gorm:"size:255" json:"website"`
	Email           string       `gorm:"size:255" json:"email"`
	Phone           string       `gorm:"size:50" json:"phone"`
	Sector          string       `gorm:"size:100" json:"sector"`
	IsPartner       bool         `gorm:"default:false" json:"is_partner"`
	IsSupplier      bool         `gorm:"default:false" json:"is_supplier"`
	PartnerCategory string       `gorm:"size:100" json:"partner_category"`
	ExpertiseJSON   []byte       `gorm:"type:json" json:"expertise"`
	Rating          int          `json:"rating"`
	PartnerStatus   string       `gorm:"size:50" json:"partner_status"`
	LastScrapedAt   *time.Time   `json:"last_scraped_at"`
	ScrapeStatus    ScrapeStatus `gorm:"size:20" json:"scrape_status"`
	AISummary       string       `gorm:"type:text" json:"ai_summary"`
	RawJSON         []byte       `gorm:"type:json" json:"raw"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetCompanyById(ctx context.Context, db *gorm.DB, id int) (*Company, error) {
	var company Company
	err := db.WithContext(ctx).Where("id = ?", id).Take(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &company, nil
}

func FindCompanyByTaxId(ctx context.Context, db *gorm.DB, taxId string) (*Company, error) {
	var company Company
	err := db.WithContext(ctx).Where("tax_id = ?", taxId).Take(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &company, nil
}

func FindCompanyByNameCI(ctx context.Context, db *gorm.DB, name string) (*Company, error) {
	var company Company
	err := db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name).Take(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &company, nil
}

// FindCompaniesByNameSubstring returns every company whose name contains the
// given fragment, case-insensitively. The resolver only accepts the result
// when exactly one candidate comes back.
func FindCompaniesByNameSubstring(ctx context.Context, db *gorm.DB, fragment string) ([]Company, error) {
	var companies []Company
	err := db.WithContext(ctx).
		Where(`LOWER(name) LIKE LOWER(?) ESCAPE '\'`, "%"+escapeLike(fragment)+"%").
		Limit(3).
		Find(&companies).Error
	if err != nil {
		return nil, err
	}
	return companies, nil
}

// escapeLike neutralizes LIKE metacharacters so a fragment like "100%" only
// matches the literal text.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(fragment string) string {
	return likeEscaper.Replace(fragment)
}
