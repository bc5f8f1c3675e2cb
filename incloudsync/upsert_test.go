package incloudsync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"bitbucket.org/intellihub/hub_backend/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func applyOne(t *testing.T, e *UpsertEngine, fn func() (ApplyResult, error)) ApplyResult {
	t.Helper()
	result, err := fn()
	require.NoError(t, err)
	require.NoError(t, e.Close())
	return result
}

func TestApplyCompanyCreateUpdateUnchanged(t *testing.T) {
	db := openSyncTestDB(t)
	ctx := context.Background()
	e := NewUpsertEngine(db, 10, nil)

	rec := &MappedCompany{
		ID:    42,
		Name:  "ACME S.r.l.",
		TaxId: "IT01234567890",
		City:  "Milano",
		Raw:   json.RawMessage(`{"id":42}`),
	}

	result := applyOne(t, e, func() (ApplyResult, error) { return e.ApplyCompany(ctx, rec) })
	require.Equal(t, OutcomeCreated, result.Outcome)

	// Same payload again: no write.
	result = applyOne(t, e, func() (ApplyResult, error) { return e.ApplyCompany(ctx, rec) })
	require.Equal(t, OutcomeUnchanged, result.Outcome)

	// One changed field: update.
	rec.City = "Torino"
	result = applyOne(t, e, func() (ApplyResult, error) { return e.ApplyCompany(ctx, rec) })
	require.Equal(t, OutcomeUpdated, result.Outcome)

	company, err := models.GetCompanyById(ctx, db, 42)
	require.NoError(t, err)
	require.NotNil(t, company)
	require.Equal(t, "Torino", company.City)
}

func TestApplyContactCreateAndAdopt(t *testing.T) {
	db := openSyncTestDB(t)
	ctx := context.Background()
	e := NewUpsertEngine(db, 10, nil)

	// First pass: the company is not synced yet, the contact lands orphaned.
	rec := &MappedContact{
		RemoteId:  9,
		FirstName: "Mario",
		LastName:  "Rossi",
		Email:     "mario@acme.example",
		Orphan:    true,
		Raw:       json.RawMessage(`{"id":9}`),
	}
	result := applyOne(t, e, func() (ApplyResult, error) { return e.ApplyContact(ctx, rec) })
	require.Equal(t, OutcomeCreated, result.Outcome)

	contact, err := models.FindContactByRemoteId(ctx, db, 9)
	require.NoError(t, err)
	require.NotNil(t, contact)
	require.Nil(t, contact.CompanyId)
	require.Equal(t, "incloud", contact.Source)

	// Second pass after the company synced: the reference is adopted.
	require.NoError(t, db.Create(&models.Company{ID: 42, Name: "ACME S.r.l."}).Error)
	companyId := 42
	rec.CompanyId = &companyId
	rec.Orphan = false

	result = applyOne(t, e, func() (ApplyResult, error) { return e.ApplyContact(ctx, rec) })
	require.Equal(t, OutcomeUpdated, result.Outcome)

	contact, err = models.FindContactByRemoteId(ctx, db, 9)
	require.NoError(t, err)
	require.NotNil(t, contact.CompanyId)
	require.Equal(t, 42, *contact.CompanyId)
}

func TestApplyContactAdoptsLocalByEmail(t *testing.T) {
	db := openSyncTestDB(t)
	ctx := context.Background()
	e := NewUpsertEngine(db, 10, nil)

	// A contact that exists locally (manual entry) before the sync ever saw
	// it: same email, no remote id.
	require.NoError(t, db.Create(&models.Contact{
		ID: "local-1", FirstName: "Mario", Email: "mario@acme.example", Source: "manual",
	}).Error)

	rec := &MappedContact{
		RemoteId:  9,
		FirstName: "Mario",
		LastName:  "Rossi",
		Email:     "mario@acme.example",
		Raw:       json.RawMessage(`{"id":9}`),
	}
	result := applyOne(t, e, func() (ApplyResult, error) { return e.ApplyContact(ctx, rec) })
	require.Equal(t, OutcomeUpdated, result.Outcome)

	// No duplicate row; the local contact now carries the remote id.
	var count int64
	require.NoError(t, db.Model(&models.Contact{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	contact, err := models.FindContactByRemoteId(ctx, db, 9)
	require.NoError(t, err)
	require.NotNil(t, contact)
	require.Equal(t, "local-1", contact.ID)
	require.Equal(t, "Rossi", contact.LastName)
}

func TestApplyActivityImmutable(t *testing.T) {
	db := openSyncTestDB(t)
	ctx := context.Background()
	e := NewUpsertEngine(db, 10, nil)

	rec := &MappedActivity{
		RemoteId:    100,
		Subject:     "Richiesta KIT-INT-01",
		SubtypeCode: 63705,
		Raw:         json.RawMessage(`{"id":100}`),
	}
	result := applyOne(t, e, func() (ApplyResult, error) { return e.ApplyActivity(ctx, rec) })
	require.Equal(t, OutcomeCreated, result.Outcome)

	// A changed remote payload never mutates an already-synced activity.
	rec.Subject = "Oggetto cambiato"
	result = applyOne(t, e, func() (ApplyResult, error) { return e.ApplyActivity(ctx, rec) })
	require.Equal(t, OutcomeUnchanged, result.Outcome)

	activity, err := models.FindActivityByRemoteId(ctx, db, 100)
	require.NoError(t, err)
	require.Equal(t, "Richiesta KIT-INT-01", activity.Subject)
}

func TestApplyBatchCommitsAtBatchSize(t *testing.T) {
	db := openSyncTestDB(t)
	ctx := context.Background()
	e := NewUpsertEngine(db, 2, nil)

	for i := 1; i <= 2; i++ {
		rec := &MappedCompany{ID: i, Name: "Azienda", Raw: json.RawMessage(`{}`)}
		_, err := e.ApplyCompany(ctx, rec)
		require.NoError(t, err)
	}
	// Hitting the batch size commits and releases the transaction.
	require.Nil(t, e.tx)
	var count int64
	require.NoError(t, db.Model(&models.Company{}).Count(&count).Error)
	require.EqualValues(t, 2, count)

	rec := &MappedCompany{ID: 3, Name: "Azienda", Raw: json.RawMessage(`{}`)}
	_, err := e.ApplyCompany(ctx, rec)
	require.NoError(t, err)
	require.NotNil(t, e.tx)

	require.NoError(t, e.Close())
	require.NoError(t, db.Model(&models.Company{}).Count(&count).Error)
	require.EqualValues(t, 3, count)
}

func TestFailingRecordRollsBackToSavepointOnly(t *testing.T) {
	db := openSyncTestDB(t)
	ctx := context.Background()
	e := NewUpsertEngine(db, 10, nil)

	good := &MappedCompany{ID: 1, Name: "Azienda Buona", Raw: json.RawMessage(`{}`)}
	_, err := e.ApplyCompany(ctx, good)
	require.NoError(t, err)

	// A unique violation inside the same batch is downgraded to a skip and
	// must not take the earlier record down with it.
	result, err := e.applyRecord(func(tx *gorm.DB) (ApplyResult, error) {
		return ApplyResult{}, fmt.Errorf("UNIQUE constraint failed: activities.remote_id")
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, result.Outcome)
	require.Equal(t, SkipConflict, result.Reason)

	require.NoError(t, e.Close())
	company, err := models.GetCompanyById(ctx, db, 1)
	require.NoError(t, err)
	require.NotNil(t, company)
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	require.True(t, isUniqueViolation(fmt.Errorf("Error 1062: Duplicate entry '42' for key 'PRIMARY'")))
	require.True(t, isUniqueViolation(fmt.Errorf("UNIQUE constraint failed: contacts.remote_id")))
	require.False(t, isUniqueViolation(fmt.Errorf("connection reset by peer")))
}

func TestBatchSizeFor(t *testing.T) {
	require.Equal(t, 100, BatchSizeFor(models.EntityKindActivity))
	require.Equal(t, 50, BatchSizeFor(models.EntityKindCompany))
	require.Equal(t, 50, BatchSizeFor(models.EntityKindContact))
}
