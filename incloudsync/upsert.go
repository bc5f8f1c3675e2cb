package incloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/intellihub/hub_backend/config"
	"bitbucket.org/intellihub/hub_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
)

type SkipReason string

const (
	SkipMissingRequiredFK SkipReason = "missing_required_fk"
	SkipMalformed         SkipReason = "malformed"
	SkipConflict          SkipReason = "conflict"
)

type ApplyResult struct {
	Outcome Outcome
	Reason  SkipReason
}

// Batch commit sizes per entity kind.
const (
	companyBatchSize  = 50
	contactBatchSize  = 50
	activityBatchSize = 100
)

// UpsertEngine applies mapped records with idempotent semantics keyed on the
// remote id. Records accumulate in one transaction that commits every
// batchSize records and on Close; a failing record rolls back to its own
// savepoint and never aborts the batch.
type UpsertEngine struct {
	db        *gorm.DB
	logger    *logrus.Logger
	batchSize int
	tx        *gorm.DB
	pending   int
}

func NewUpsertEngine(db *gorm.DB, batchSize int, logger *logrus.Logger) *UpsertEngine {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &UpsertEngine{db: db, batchSize: batchSize, logger: logger}
}

func BatchSizeFor(kind models.EntityKind) int {
	if kind == models.EntityKindActivity {
		return activityBatchSize
	}
	return companyBatchSize
}

// Close commits whatever is pending. Always call it at the end of a job.
func (e *UpsertEngine) Close() error {
	if e.tx == nil {
		return nil
	}
	err := e.tx.Commit().Error
	e.tx = nil
	e.pending = 0
	return err
}

func (e *UpsertEngine) applyRecord(fn func(tx *gorm.DB) (ApplyResult, error)) (ApplyResult, error) {
	if e.tx == nil {
		e.tx = e.db.Begin()
		if e.tx.Error != nil {
			err := e.tx.Error
			e.tx = nil
			return ApplyResult{}, err
		}
	}

	e.tx.SavePoint("record")
	result, err := fn(e.tx)
	if err != nil {
		e.tx.RollbackTo("record")
		if isUniqueViolation(err) {
			e.logger.WithFields(logrus.Fields{
				"module": "incloudsync",
				"error":  err.Error(),
			}).Warn("unique constraint conflict, record skipped")
			return ApplyResult{Outcome: OutcomeSkipped, Reason: SkipConflict}, nil
		}
		return ApplyResult{}, err
	}

	e.pending++
	if e.pending >= e.batchSize {
		if err := e.Close(); err != nil {
			return ApplyResult{}, err
		}
	}
	return result, nil
}

func (e *UpsertEngine) ApplyCompany(ctx context.Context, rec *MappedCompany) (ApplyResult, error) {
	return e.applyRecord(func(tx *gorm.DB) (ApplyResult, error) {
		var existing models.Company
		err := tx.WithContext(ctx).Where("id = ?", rec.ID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			company := models.Company{
				ID:      rec.ID,
				Name:    rec.Name,
				TaxId:   rec.TaxId,
				Address: rec.Address,
				City:    rec.City,
				Region:  rec.Region,
				Website: rec.Website,
				Email:   rec.Email,
				Phone:   rec.Phone,
				Sector:  rec.Sector,
				RawJSON: rec.Raw,
			}
			if err := tx.WithContext(ctx).Create(&company).Error; err != nil {
				return ApplyResult{}, err
			}
			if err := models.CreateAuditLog(tx.WithContext(ctx), models.AuditActionSyncUpsert,
				string(models.EntityKindCompany), fmt.Sprintf("%d", rec.ID), nil, &company); err != nil {
				return ApplyResult{}, err
			}
			return ApplyResult{Outcome: OutcomeCreated}, nil
		}
		if err != nil {
			return ApplyResult{}, err
		}

		updates := map[string]interface{}{}
		putChanged(updates, "name", existing.Name, rec.Name)
		putChanged(updates, "tax_id", existing.TaxId, rec.TaxId)
		putChanged(updates, "address", existing.Address, rec.Address)
		putChanged(updates, "city", existing.City, rec.City)
		putChanged(updates, "region", existing.Region, rec.Region)
		putChanged(updates, "website", existing.Website, rec.Website)
		putChanged(updates, "email", existing.Email, rec.Email)
		putChanged(updates, "phone", existing.Phone, rec.Phone)
		putChanged(updates, "sector", existing.Sector, rec.Sector)
		if len(updates) == 0 {
			return ApplyResult{Outcome: OutcomeUnchanged}, nil
		}
		updates["raw_json"] = rec.Raw
		if err := tx.WithContext(ctx).Model(&models.Company{}).
			Where("id = ?", rec.ID).
			Updates(updates).Error; err != nil {
			return ApplyResult{}, err
		}
		if err := models.CreateAuditLog(tx.WithContext(ctx), models.AuditActionSyncUpsert,
			string(models.EntityKindCompany), fmt.Sprintf("%d", rec.ID), &existing, updates); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Outcome: OutcomeUpdated}, nil
	})
}

func (e *UpsertEngine) ApplyContact(ctx context.Context, rec *MappedContact) (ApplyResult, error) {
	// A contact without a resolvable company is an orphan, not an error:
	// the company field stays null and the record still lands.
	return e.applyRecord(func(tx *gorm.DB) (ApplyResult, error) {
		adopted := false
		existing, err := models.FindContactByRemoteId(ctx, tx, rec.RemoteId)
		if err != nil {
			return ApplyResult{}, err
		}
		if existing == nil {
			// A contact created locally before the sync saw it is claimed by
			// its normalized email or phone rather than duplicated.
			existing, err = e.adoptableContact(ctx, tx, rec)
			if err != nil {
				return ApplyResult{}, err
			}
			if existing != nil {
				if err := tx.WithContext(ctx).Model(&models.Contact{}).
					Where("id = ?", existing.ID).
					Update("remote_id", rec.RemoteId).Error; err != nil {
					return ApplyResult{}, err
				}
				existing.RemoteId = &rec.RemoteId
				adopted = true
			}
		}
		if existing == nil {
			contact := models.Contact{
				ID:         uuid.NewString(),
				CompanyId:  rec.CompanyId,
				RemoteId:   &rec.RemoteId,
				FirstName:  rec.FirstName,
				LastName:   rec.LastName,
				Email:      rec.Email,
				Phone:      rec.Phone,
				Role:       rec.Role,
				OwnersJSON: encodeStrings(rec.Owners),
				Source:     "incloud",
				RawJSON:    rec.Raw,
			}
			if err := tx.WithContext(ctx).Create(&contact).Error; err != nil {
				return ApplyResult{}, err
			}
			if err := models.CreateAuditLog(tx.WithContext(ctx), models.AuditActionSyncUpsert,
				string(models.EntityKindContact), contact.ID, nil, &contact); err != nil {
				return ApplyResult{}, err
			}
			return ApplyResult{Outcome: OutcomeCreated}, nil
		}

		updates := map[string]interface{}{}
		putChanged(updates, "first_name", existing.FirstName, rec.FirstName)
		putChanged(updates, "last_name", existing.LastName, rec.LastName)
		putChanged(updates, "email", existing.Email, rec.Email)
		putChanged(updates, "phone", existing.Phone, rec.Phone)
		putChanged(updates, "role", existing.Role, rec.Role)
		if rec.CompanyId != nil && (existing.CompanyId == nil || *existing.CompanyId != *rec.CompanyId) {
			updates["company_id"] = *rec.CompanyId
		}
		if len(updates) == 0 {
			if adopted {
				return ApplyResult{Outcome: OutcomeUpdated}, nil
			}
			return ApplyResult{Outcome: OutcomeUnchanged}, nil
		}
		updates["raw_json"] = rec.Raw
		if err := tx.WithContext(ctx).Model(&models.Contact{}).
			Where("id = ?", existing.ID).
			Updates(updates).Error; err != nil {
			return ApplyResult{}, err
		}
		if err := models.CreateAuditLog(tx.WithContext(ctx), models.AuditActionSyncUpsert,
			string(models.EntityKindContact), existing.ID, existing, updates); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Outcome: OutcomeUpdated}, nil
	})
}

func (e *UpsertEngine) ApplyActivity(ctx context.Context, rec *MappedActivity) (ApplyResult, error) {
	return e.applyRecord(func(tx *gorm.DB) (ApplyResult, error) {
		existing, err := models.FindActivityByRemoteId(ctx, tx, rec.RemoteId)
		if err != nil {
			return ApplyResult{}, err
		}
		if existing != nil {
			// Activities are immutable once synced; the materializer and the
			// status hook own everything downstream of them.
			return ApplyResult{Outcome: OutcomeUnchanged}, nil
		}

		activity := models.Activity{
			RemoteId:        rec.RemoteId,
			OwnerId:         rec.OwnerId,
			OwnerName:       rec.OwnerName,
			OwnerUserId:     rec.OwnerUserId,
			CompanyId:       rec.CompanyId,
			CustomerName:    rec.CustomerName,
			Subject:         rec.Subject,
			Description:     rec.Description,
			SubtypeCode:     rec.SubtypeCode,
			Closed:          rec.Closed,
			RemoteCreatedAt: rec.RemoteCreatedAt,
			RawJSON:         rec.Raw,
		}
		if err := tx.WithContext(ctx).Create(&activity).Error; err != nil {
			return ApplyResult{}, err
		}
		if err := models.CreateAuditLog(tx.WithContext(ctx), models.AuditActionSyncUpsert,
			string(models.EntityKindActivity), fmt.Sprintf("%d", rec.RemoteId), nil, &activity); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Outcome: OutcomeCreated}, nil
	})
}

// adoptableContact finds a local contact with no remote id yet that matches
// the record's email or normalized phone.
func (e *UpsertEngine) adoptableContact(ctx context.Context, tx *gorm.DB, rec *MappedContact) (*models.Contact, error) {
	if rec.Email != "" {
		contact, err := models.FindContactByEmail(ctx, tx, rec.Email)
		if err != nil {
			return nil, err
		}
		if contact != nil && contact.RemoteId == nil {
			return contact, nil
		}
	}
	if rec.Phone != "" {
		contact, err := models.FindContactByPhone(ctx, tx, rec.Phone)
		if err != nil {
			return nil, err
		}
		if contact != nil && contact.RemoteId == nil {
			return contact, nil
		}
	}
	return nil, nil
}

func putChanged(updates map[string]interface{}, column string, oldValue string, newValue string) {
	if oldValue != newValue {
		updates[column] = newValue
	}
}

func encodeStrings(values []string) []byte {
	if len(values) == 0 {
		return nil
	}
	b, _ := json.Marshal(values)
	return b
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate entry") || strings.Contains(msg, "unique constraint")
}
