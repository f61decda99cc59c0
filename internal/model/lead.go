package model

// Lead is a CRM deal record as returned by the leads endpoint.
type Lead struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	Price             int64  `json:"price"`
	StatusID          int    `json:"status_id"`
	PipelineID        int    `json:"pipeline_id"`
	ResponsibleUserID int    `json:"responsible_user_id"`
	ClosedAt          int64  `json:"closed_at"` // unix seconds, 0 when open
}

// Status is a single workflow stage inside a pipeline.
type Status struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	PipelineID int    `json:"pipeline_id"`
}

// Pipeline is a CRM sales pipeline with its statuses.
type Pipeline struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	IsMain   bool     `json:"is_main"`
	Statuses []Status `json:"statuses"`
}

// User is a CRM user account that may own leads.
type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// EnrichedLead is a Lead with its status and owner resolved to display
// names. Both names are always non-empty; OwnerResolved is false when
// ResponsibleUserName is the placeholder.
type EnrichedLead struct {
	Lead
	StatusName          string `json:"status_name"`
	ResponsibleUserName string `json:"responsible_user_name"`
	OwnerResolved       bool   `json:"owner_resolved"`
}

// ManagerTotals is the per-owner aggregate.
type ManagerTotals struct {
	LeadCount int   `json:"lead_count"`
	Revenue   int64 `json:"revenue"`
}

// ManagerAggregate maps an owner display name to its totals.
type ManagerAggregate map[string]ManagerTotals

// Revenue returns the sum of revenue across all buckets.
func (a ManagerAggregate) Revenue() int64 {
	var total int64
	for _, t := range a {
		total += t.Revenue
	}
	return total
}

// LeadCount returns the number of leads across all buckets.
func (a ManagerAggregate) LeadCount() int {
	n := 0
	for _, t := range a {
		n += t.LeadCount
	}
	return n
}
