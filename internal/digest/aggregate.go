package digest

import (
	"fmt"

	"github.com/sells-group/revenue-digest/internal/fault"
	"github.com/sells-group/revenue-digest/internal/model"
)

// Enrich resolves every lead's status and owner names. A miss is replaced by
// the placeholder and reported in the returned slice; no lead is dropped.
func Enrich(leads []model.Lead, statuses StatusLookup, users UserLookup, ph Placeholders) ([]model.EnrichedLead, []*fault.Fault) {
	out := make([]model.EnrichedLead, 0, len(leads))
	var misses []*fault.Fault

	for _, l := range leads {
		e := model.EnrichedLead{Lead: l}

		if name, miss := statuses.Resolve(l.StatusID); miss != nil {
			e.StatusName = ph.Status
			misses = append(misses, miss)
		} else {
			e.StatusName = name
		}

		if name, miss := users.Resolve(l.ResponsibleUserID); miss != nil {
			e.ResponsibleUserName = ph.User
			misses = append(misses, miss)
		} else {
			e.ResponsibleUserName = name
			e.OwnerResolved = true
		}

		out = append(out, e)
	}
	return out, misses
}

// Aggregate sums revenue and counts leads per owner name. An absent price
// decodes to zero and so contributes nothing. A resolved owner whose name
// equals the placeholder used for unresolved leads is keyed as "name (#id)"
// so the placeholder bucket never absorbs a real user.
func Aggregate(leads []model.EnrichedLead) model.ManagerAggregate {
	placeholders := make(map[string]bool)
	for _, l := range leads {
		if !l.OwnerResolved {
			placeholders[l.ResponsibleUserName] = true
		}
	}

	agg := make(model.ManagerAggregate)
	for _, l := range leads {
		key := l.ResponsibleUserName
		if l.OwnerResolved && placeholders[key] {
			key = fmt.Sprintf("%s (#%d)", key, l.ResponsibleUserID)
		}
		t := agg[key]
		t.LeadCount++
		t.Revenue += l.Price
		agg[key] = t
	}
	return agg
}
