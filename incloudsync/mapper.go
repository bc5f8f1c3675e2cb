package incloudsync

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"bitbucket.org/intellihub/hub_backend/config"
	"bitbucket.org/intellihub/hub_backend/utils"
	"github.com/sirupsen/logrus"
)

// Remote payload shapes. Unknown fields are not modelled as columns; the
// whole payload travels along in the record's Raw blob for later inspection.
type companyPayload struct {
	ID          json.Number `json:"id"`
	CompanyName string      `json:"companyName"`
	TaxNumber   string      `json:"taxIdentificationNumber"`
	Address     string      `json:"address"`
	City        string      `json:"city"`
	County      string      `json:"county"`
	WebSite     string      `json:"webSite"`
	Email       string      `json:"emailAddress"`
	Phone       string      `json:"phoneNumber"`
	Industry    string      `json:"industryDescription"`
}

type contactPayload struct {
	ID          json.Number `json:"id"`
	CompanyId   json.Number `json:"companyId"`
	CompanyName string      `json:"companyName"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	Email       string      `json:"emailAddress"`
	Phone       string      `json:"phoneNumber"`
	JobTitle    string      `json:"jobTitle"`
	Owners      []string    `json:"owners"`
}

type activityPayload struct {
	ID          json.Number     `json:"id"`
	OwnerId     json.Number     `json:"ownerId"`
	OwnerName   string          `json:"ownerName"`
	CompanyId   json.Number     `json:"companyId"`
	CompanyName string          `json:"companyName"`
	Subject     string          `json:"subject"`
	Description string          `json:"description"`
	SubTypeId   json.Number     `json:"subTypeId"`
	Status      json.RawMessage `json:"status"`
	CreatedDate string          `json:"createdDate"`
}

// Mapped records carry exactly the local fields plus the resolution state
// the upsert engine needs. Quality reports how the company reference was
// resolved, for dry-run observability.
type MappedCompany struct {
	ID      int
	Name    string
	TaxId   string
	Address string
	City    string
	Region  string
	Website string
	Email   string
	Phone   string
	Sector  string
	Raw     []byte
}

type MappedContact struct {
	RemoteId  int
	CompanyId *int
	Quality   MatchQuality
	Orphan    bool
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Role      string
	Owners    []string
	Raw       []byte
}

type MappedActivity struct {
	RemoteId        int
	OwnerId         int
	OwnerName       string
	OwnerUserId     *string
	CompanyId       *int
	Quality         MatchQuality
	Orphan          bool
	CustomerName    string
	Subject         string
	Description     string
	SubtypeCode     int
	Closed          bool
	RemoteCreatedAt *time.Time
	Raw             []byte
}

// Column widths the mapper truncates to. Must stay in line with the gorm
// size tags in models.
const (
	maxNameLen    = 255
	maxTaxIdLen   = 32
	maxCityLen    = 100
	maxPhoneLen   = 50
	maxSubjectLen = 255
)

// Mapper translates remote payloads into local records. It performs no I/O
// itself; foreign references go through the Resolver collaborator.
type Mapper struct {
	resolver *Resolver
	logger   *logrus.Logger
}

func NewMapper(resolver *Resolver, logger *logrus.Logger) *Mapper {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Mapper{resolver: resolver, logger: logger}
}

func (m *Mapper) MapCompany(payload json.RawMessage) (*MappedCompany, error) {
	var p companyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &MappingError{Field: "payload", Reason: err.Error()}
	}
	id, err := requireInt(p.ID, "id")
	if err != nil {
		return nil, err
	}
	name := utils.TrimOrEmpty(p.CompanyName)
	if name == "" {
		return nil, &MappingError{Field: "companyName", Reason: "required"}
	}

	rec := &MappedCompany{
		ID:      id,
		Name:    m.clamp("companyName", name, maxNameLen),
		TaxId:   m.clamp("taxIdentificationNumber", utils.TrimOrEmpty(p.TaxNumber), maxTaxIdLen),
		Address: m.clamp("address", utils.TrimOrEmpty(p.Address), maxNameLen),
		City:    m.clamp("city", utils.TrimOrEmpty(p.City), maxCityLen),
		Region:  m.clamp("county", utils.TrimOrEmpty(p.County), maxCityLen),
		Website: m.clamp("webSite", utils.TrimOrEmpty(p.WebSite), maxNameLen),
		Email:   m.clamp("emailAddress", utils.TrimOrEmpty(p.Email), maxNameLen),
		Phone:   m.clamp("phoneNumber", utils.NormalizePhoneNumber(p.Phone, utils.CountryCode), maxPhoneLen),
		Sector:  m.clamp("industryDescription", utils.TrimOrEmpty(p.Industry), maxCityLen),
		Raw:     payload,
	}
	return rec, nil
}

func (m *Mapper) MapContact(ctx context.Context, payload json.RawMessage) (*MappedContact, error) {
	var p contactPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &MappingError{Field: "payload", Reason: err.Error()}
	}
	id, err := requireInt(p.ID, "id")
	if err != nil {
		return nil, err
	}

	rec := &MappedContact{
		RemoteId:  id,
		FirstName: m.clamp("firstName", utils.TrimOrEmpty(p.FirstName), maxCityLen),
		LastName:  m.clamp("lastName", utils.TrimOrEmpty(p.LastName), maxCityLen),
		Email:     m.clamp("emailAddress", utils.TrimOrEmpty(p.Email), maxNameLen),
		Phone:     m.clamp("phoneNumber", utils.NormalizePhoneNumber(p.Phone, utils.CountryCode), maxPhoneLen),
		Role:      m.clamp("jobTitle", utils.TrimOrEmpty(p.JobTitle), maxCityLen),
		Owners:    p.Owners,
		Raw:       payload,
	}

	companyRef := optionalInt(p.CompanyId)
	companyId, quality, err := m.resolver.ResolveCompanyRef(ctx, companyRef, p.CompanyName)
	if err != nil {
		return nil, err
	}
	rec.CompanyId = companyId
	rec.Quality = quality
	rec.Orphan = companyId == nil && (companyRef != 0 || utils.TrimOrEmpty(p.CompanyName) != "")
	return rec, nil
}

func (m *Mapper) MapActivity(ctx context.Context, payload json.RawMessage) (*MappedActivity, error) {
	var p activityPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &MappingError{Field: "payload", Reason: err.Error()}
	}
	id, err := requireInt(p.ID, "id")
	if err != nil {
		return nil, err
	}
	subtype, err := requireInt(p.SubTypeId, "subTypeId")
	if err != nil {
		return nil, err
	}

	rec := &MappedActivity{
		RemoteId:    id,
		OwnerId:     optionalInt(p.OwnerId),
		Subject:     m.clamp("subject", utils.TrimOrEmpty(p.Subject), maxSubjectLen),
		Description: utils.TrimOrEmpty(p.Description),
		SubtypeCode: subtype,
		Closed:      legacyClosed(p.Status),
		Raw:         payload,
	}

	if created := utils.TrimOrEmpty(p.CreatedDate); created != "" {
		t, ok := utils.ParseFlexibleDate(created)
		if !ok {
			return nil, &MappingError{Field: "createdDate", Reason: "unparseable date: " + created}
		}
		rec.RemoteCreatedAt = &t
	}

	rec.OwnerName = m.resolver.ResolveOwnerName(ctx, rec.OwnerId, utils.TrimOrEmpty(p.OwnerName))
	if rec.OwnerName != "" {
		userId, quality, err := m.resolver.ResolveUser(ctx, "", rec.OwnerName)
		if err != nil {
			return nil, err
		}
		if quality != MatchNone {
			rec.OwnerUserId = &userId
		}
	}

	companyRef := optionalInt(p.CompanyId)
	companyId, quality, err := m.resolver.ResolveCompanyRef(ctx, companyRef, p.CompanyName)
	if err != nil {
		return nil, err
	}
	rec.CompanyId = companyId
	rec.Quality = quality
	rec.Orphan = companyId == nil && (companyRef != 0 || utils.TrimOrEmpty(p.CompanyName) != "")
	rec.CustomerName = m.clamp("companyName", utils.TrimOrEmpty(p.CompanyName), maxNameLen)
	if rec.CustomerName == "" && companyId != nil {
		if company, err := m.resolver.companyName(ctx, *companyId); err == nil {
			rec.CustomerName = company
		}
	}
	return rec, nil
}

func (m *Mapper) clamp(field string, value string, max int) string {
	out, truncated := utils.Truncate(value, max)
	if truncated {
		m.logger.WithFields(logrus.Fields{
			"module": "incloudsync",
			"field":  field,
			"max":    max,
		}).Warn("value truncated to column width")
	}
	return out
}

func requireInt(num json.Number, field string) (int, error) {
	s := strings.TrimSpace(num.String())
	if s == "" {
		return 0, &MappingError{Field: field, Reason: "required"}
	}
	n, err := num.Int64()
	if err != nil {
		return 0, &MappingError{Field: field, Reason: "not numeric: " + s}
	}
	return int(n), nil
}

func optionalInt(num json.Number) int {
	n, err := num.Int64()
	if err != nil {
		return 0
	}
	return int(n)
}

// legacyClosed normalizes the two terminal-status spellings observed on the
// remote: the string "chiuso" and the numeric 0. Nothing outside the mapper
// compares legacy literals.
func legacyClosed(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "chiuso")
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n == 0
	}
	return false
}
