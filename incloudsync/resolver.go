package incloudsync

import (
	"context"
	"encoding/json"
	"strings"

	"bitbucket.org/intellihub/hub_backend/models"
	"bitbucket.org/intellihub/hub_backend/utils"
	"gorm.io/gorm"
)

type MatchQuality string

const (
	MatchExact        MatchQuality = "exact"
	MatchCI           MatchQuality = "ci"
	MatchSubstring    MatchQuality = "substring"
	MatchRemoteLookup MatchQuality = "remote_lookup"
	MatchNone         MatchQuality = "none"
)

// RemoteLookup is the slice of the remote client the resolver needs for its
// last tier. Nil disables remote lookups (e.g. in dry runs against fixtures).
type RemoteLookup interface {
	Get(ctx context.Context, kind models.EntityKind, id int) (json.RawMessage, error)
}

// Resolver maps a remote entity's descriptive fields to an existing local
// id. It is a pure function of its inputs plus the read-only database; it
// holds no cache.
type Resolver struct {
	db     *gorm.DB
	remote RemoteLookup
}

func NewResolver(db *gorm.DB, remote RemoteLookup) *Resolver {
	return &Resolver{db: db, remote: remote}
}

// ResolveCompany finds a local company id from descriptive fields. Tiers,
// first hit wins: exact tax id, case-insensitive exact name, case-insensitive
// substring name accepted only when unambiguous.
func (r *Resolver) ResolveCompany(ctx context.Context, taxId string, name string) (int, MatchQuality, error) {
	taxId = utils.TrimOrEmpty(taxId)
	if taxId != "" {
		company, err := models.FindCompanyByTaxId(ctx, r.db, taxId)
		if err != nil {
			return 0, MatchNone, err
		}
		if company != nil {
			return company.ID, MatchExact, nil
		}
	}

	name = utils.TrimOrEmpty(name)
	if name == "" {
		return 0, MatchNone, nil
	}

	company, err := models.FindCompanyByNameCI(ctx, r.db, name)
	if err != nil {
		return 0, MatchNone, err
	}
	if company != nil {
		return company.ID, MatchCI, nil
	}

	candidates, err := models.FindCompaniesByNameSubstring(ctx, r.db, name)
	if err != nil {
		return 0, MatchNone, err
	}
	if len(candidates) == 1 {
		return candidates[0].ID, MatchSubstring, nil
	}
	return 0, MatchNone, nil
}

// ResolveCompanyRef resolves the company reference carried on a contact or
// activity. The remote company id doubles as the local id, so an id that
// exists locally wins outright; otherwise the name tiers run, and as a last
// resort the remote Company/{id} endpoint supplies the name.
func (r *Resolver) ResolveCompanyRef(ctx context.Context, remoteCompanyId int, name string) (*int, MatchQuality, error) {
	if remoteCompanyId > 0 {
		company, err := models.GetCompanyById(ctx, r.db, remoteCompanyId)
		if err != nil {
			return nil, MatchNone, err
		}
		if company != nil {
			return &company.ID, MatchExact, nil
		}
	}

	id, quality, err := r.ResolveCompany(ctx, "", name)
	if err != nil {
		return nil, MatchNone, err
	}
	if quality != MatchNone {
		return &id, quality, nil
	}

	// Activity payloads sometimes carry a company id but no name. Fetch the
	// name from the remote and retry the name tiers once.
	if remoteCompanyId > 0 && utils.TrimOrEmpty(name) == "" && r.remote != nil {
		payload, err := r.remote.Get(ctx, models.EntityKindCompany, remoteCompanyId)
		if err != nil {
			return nil, MatchNone, nil
		}
		var parsed struct {
			CompanyName string `json:"companyName"`
		}
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, MatchNone, nil
		}
		id, quality, err := r.ResolveCompany(ctx, "", parsed.CompanyName)
		if err != nil || quality == MatchNone {
			return nil, MatchNone, err
		}
		return &id, MatchRemoteLookup, nil
	}

	return nil, MatchNone, nil
}

// ResolveUser finds a local user by email, then by case-insensitive
// "first last" name.
func (r *Resolver) ResolveUser(ctx context.Context, email string, fullName string) (string, MatchQuality, error) {
	email = utils.TrimOrEmpty(email)
	if email != "" && utils.IsValidEmail(email) {
		user, err := models.FindUserByEmail(ctx, r.db, email)
		if err != nil {
			return "", MatchNone, err
		}
		if user != nil {
			return user.ID, MatchExact, nil
		}
	}

	first, last, ok := splitFullName(fullName)
	if ok {
		user, err := models.FindUserByNameCI(ctx, r.db, first, last)
		if err != nil {
			return "", MatchNone, err
		}
		if user != nil {
			return user.ID, MatchCI, nil
		}
	}
	return "", MatchNone, nil
}

// ResolveOwnerName produces the free-form owner name stored on activities.
// A known name passes through; otherwise the remote User/{id} endpoint
// supplies one. Owners are not foreign keys.
func (r *Resolver) ResolveOwnerName(ctx context.Context, remoteUserId int, name string) string {
	if name != "" {
		return name
	}
	if remoteUserId <= 0 || r.remote == nil {
		return ""
	}
	payload, err := r.remote.Get(ctx, entityKindUser, remoteUserId)
	if err != nil {
		return ""
	}
	var parsed struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		FullName  string `json:"fullName"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return ""
	}
	if full := utils.TrimOrEmpty(parsed.FullName); full != "" {
		return full
	}
	return utils.TrimOrEmpty(strings.TrimSpace(parsed.FirstName + " " + parsed.LastName))
}

func (r *Resolver) companyName(ctx context.Context, id int) (string, error) {
	company, err := models.GetCompanyById(ctx, r.db, id)
	if err != nil || company == nil {
		return "", err
	}
	return company.Name, nil
}

func splitFullName(fullName string) (string, string, bool) {
	fullName = utils.TrimOrEmpty(fullName)
	first, last, found := strings.Cut(fullName, " ")
	if !found {
		return "", "", false
	}
	return first, strings.TrimSpace(last), true
}
