package incloudsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"bitbucket.org/intellihub/hub_backend/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSyncTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.Company{},
		&models.Contact{},
		&models.Activity{},
		&models.Ticket{},
		&models.Task{},
		&models.AuditLog{},
		&models.SyncRun{},
		&models.SyncRunError{},
		&models.HubUser{},
	))
	return db
}

func testMapper(t *testing.T, db *gorm.DB, remote RemoteLookup) *Mapper {
	t.Helper()
	return NewMapper(NewResolver(db, remote), nil)
}

func TestMapCompanyFields(t *testing.T) {
	m := testMapper(t, openSyncTestDB(t), nil)

	payload := json.RawMessage(`{
		"id": 42,
		"companyName": "  ACME S.r.l.  ",
		"taxIdentificationNumber": "IT01234567890",
		"address": "Via Roma 1",
		"city": "Milano",
		"county": "MI",
		"webSite": "https://acme.example",
		"emailAddress": "info@acme.example",
		"phoneNumber": "garbage-phone",
		"industryDescription": "Manifattura"
	}`)

	rec, err := m.MapCompany(payload)
	require.NoError(t, err)
	require.Equal(t, 42, rec.ID)
	require.Equal(t, "ACME S.r.l.", rec.Name)
	require.Equal(t, "IT01234567890", rec.TaxId)
	require.Equal(t, "Milano", rec.City)
	require.Equal(t, "MI", rec.Region)
	require.Equal(t, "garbage-phone", rec.Phone)
	require.JSONEq(t, string(payload), string(rec.Raw))
}

func TestMapCompanyMissingRequired(t *testing.T) {
	m := testMapper(t, openSyncTestDB(t), nil)

	_, err := m.MapCompany(json.RawMessage(`{"companyName":"No Id"}`))
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	require.Equal(t, "id", mapErr.Field)

	_, err = m.MapCompany(json.RawMessage(`{"id":1,"companyName":"   "}`))
	require.ErrorAs(t, err, &mapErr)
	require.Equal(t, "companyName", mapErr.Field)
}

func TestMapContactResolvesCompany(t *testing.T) {
	db := openSyncTestDB(t)
	require.NoError(t, db.Create(&models.Company{ID: 42, Name: "ACME S.r.l."}).Error)
	m := testMapper(t, db, nil)

	rec, err := m.MapContact(context.Background(), json.RawMessage(`{
		"id": 9, "companyId": 42, "firstName": "Mario", "lastName": "Rossi",
		"emailAddress": "mario@acme.example", "jobTitle": "CTO"
	}`))
	require.NoError(t, err)
	require.Equal(t, 9, rec.RemoteId)
	require.NotNil(t, rec.CompanyId)
	require.Equal(t, 42, *rec.CompanyId)
	require.Equal(t, MatchExact, rec.Quality)
	require.False(t, rec.Orphan)
}

func TestMapContactOrphan(t *testing.T) {
	m := testMapper(t, openSyncTestDB(t), nil)

	rec, err := m.MapContact(context.Background(), json.RawMessage(`{
		"id": 9, "companyId": 999, "companyName": "Unknown Co", "firstName": "Mario"
	}`))
	require.NoError(t, err)
	require.Nil(t, rec.CompanyId)
	require.True(t, rec.Orphan)
	require.Equal(t, MatchNone, rec.Quality)
}

func TestMapActivityFields(t *testing.T) {
	db := openSyncTestDB(t)
	require.NoError(t, db.Create(&models.Company{ID: 42, Name: "ACME S.r.l."}).Error)
	m := testMapper(t, db, nil)

	rec, err := m.MapActivity(context.Background(), json.RawMessage(`{
		"id": 100, "ownerId": 7, "ownerName": "Luca Bianchi",
		"companyId": 42, "companyName": "ACME S.r.l.",
		"subject": "Richiesta KIT-INT-01",
		"description": "Attivazione servizio KIT-INT-01",
		"subTypeId": 63705,
		"status": "aperto",
		"createdDate": "15/03/2024 10:30"
	}`))
	require.NoError(t, err)
	require.Equal(t, 100, rec.RemoteId)
	require.Equal(t, 63705, rec.SubtypeCode)
	require.Equal(t, "Luca Bianchi", rec.OwnerName)
	require.Equal(t, "ACME S.r.l.", rec.CustomerName)
	require.False(t, rec.Closed)
	require.NotNil(t, rec.RemoteCreatedAt)
	require.Equal(t, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), rec.RemoteCreatedAt.UTC())
}

func TestMapActivityResolvesOwnerUser(t *testing.T) {
	db := openSyncTestDB(t)
	require.NoError(t, db.Create(&models.HubUser{
		ID: "u-7", FirstName: "Luca", LastName: "Bianchi", Email: "luca@hub.test",
	}).Error)
	m := testMapper(t, db, nil)

	rec, err := m.MapActivity(context.Background(), json.RawMessage(`{
		"id": 100, "subTypeId": 63705, "ownerName": "Luca Bianchi"
	}`))
	require.NoError(t, err)
	require.NotNil(t, rec.OwnerUserId)
	require.Equal(t, "u-7", *rec.OwnerUserId)

	// An owner with no matching user keeps the free-form name only.
	rec, err = m.MapActivity(context.Background(), json.RawMessage(`{
		"id": 101, "subTypeId": 63705, "ownerName": "Anna Verdi"
	}`))
	require.NoError(t, err)
	require.Equal(t, "Anna Verdi", rec.OwnerName)
	require.Nil(t, rec.OwnerUserId)
}

func TestMapActivityMalformedDate(t *testing.T) {
	m := testMapper(t, openSyncTestDB(t), nil)

	_, err := m.MapActivity(context.Background(), json.RawMessage(`{
		"id": 100, "subTypeId": 63705, "createdDate": "domani"
	}`))
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	require.Equal(t, "createdDate", mapErr.Field)
}

func TestMapActivityMissingSubtype(t *testing.T) {
	m := testMapper(t, openSyncTestDB(t), nil)

	_, err := m.MapActivity(context.Background(), json.RawMessage(`{"id": 100}`))
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	require.Equal(t, "subTypeId", mapErr.Field)
}

func TestLegacyClosedSpellings(t *testing.T) {
	cases := []struct {
		raw    string
		closed bool
	}{
		{`"chiuso"`, true},
		{`"CHIUSO"`, true},
		{`"  Chiuso "`, true},
		{`0`, true},
		{`"aperto"`, false},
		{`1`, false},
		{``, false},
		{`null`, false},
	}
	for _, c := range cases {
		got := legacyClosed(json.RawMessage(c.raw))
		if got != c.closed {
			t.Fatalf("legacyClosed(%s) = %v, want %v", c.raw, got, c.closed)
		}
	}
}

func TestMapCompanyClampsOversizedFields(t *testing.T) {
	m := testMapper(t, openSyncTestDB(t), nil)

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	payload, _ := json.Marshal(map[string]any{
		"id":          1,
		"companyName": string(long),
	})
	rec, err := m.MapCompany(payload)
	require.NoError(t, err)
	require.Len(t, rec.Name, 255)
}
