// Package digest turns closed CRM leads into the daily per-manager revenue
// message: lookups, enrichment, aggregation, formatting and the run driver.
package digest

import (
	"context"
	"strconv"

	"github.com/sells-group/revenue-digest/internal/fault"
	"github.com/sells-group/revenue-digest/internal/model"
	"github.com/sells-group/revenue-digest/pkg/amocrm"
)

// CRM is the subset of amocrm.Client the digest reads from.
type CRM interface {
	FetchPipelines(ctx context.Context) ([]model.Pipeline, error)
	FetchUsers(ctx context.Context) ([]model.User, error)
	FetchLeads(ctx context.Context, filter amocrm.LeadFilter) ([]model.Lead, error)
}

// StatusLookup maps a status id to its display name.
type StatusLookup map[int]string

// UserLookup maps a user id to its display name.
type UserLookup map[int]string

// Placeholders are the names substituted for ids missing from a lookup.
type Placeholders struct {
	User   string
	Status string
}

// DefaultPlaceholders returns the placeholder labels used when none are configured.
func DefaultPlaceholders() Placeholders {
	return Placeholders{User: "unknown", Status: "unknown status"}
}

// NewStatusLookup flattens every pipeline's statuses into one table. Status
// ids are unique across pipelines; the shared won/lost ids map to the same
// name in each.
func NewStatusLookup(pipelines []model.Pipeline) StatusLookup {
	l := make(StatusLookup)
	for _, p := range pipelines {
		for _, s := range p.Statuses {
			if _, ok := l[s.ID]; !ok && s.Name != "" {
				l[s.ID] = s.Name
			}
		}
	}
	return l
}

// NewUserLookup builds the user table.
func NewUserLookup(users []model.User) UserLookup {
	l := make(UserLookup, len(users))
	for _, u := range users {
		if u.Name != "" {
			l[u.ID] = u.Name
		}
	}
	return l
}

// Resolve returns the name for id, or a LookupMiss fault when absent.
func (l StatusLookup) Resolve(id int) (string, *fault.Fault) {
	if name, ok := l[id]; ok {
		return name, nil
	}
	return "", fault.LookupMiss("digest: status", strconv.Itoa(id))
}

// Resolve returns the name for id, or a LookupMiss fault when absent.
func (l UserLookup) Resolve(id int) (string, *fault.Fault) {
	if name, ok := l[id]; ok {
		return name, nil
	}
	return "", fault.LookupMiss("digest: user", strconv.Itoa(id))
}

// BuildLookups fetches pipelines and users and builds both tables. Either
// fetch failing aborts the build; callers must not guess names.
func BuildLookups(ctx context.Context, crm CRM) (StatusLookup, UserLookup, error) {
	pipelines, err := crm.FetchPipelines(ctx)
	if err != nil {
		return nil, nil, err
	}
	users, err := crm.FetchUsers(ctx)
	if err != nil {
		return nil, nil, err
	}
	return NewStatusLookup(pipelines), NewUserLookup(users), nil
}
