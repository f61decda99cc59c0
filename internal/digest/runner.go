package digest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/revenue-digest/internal/fault"
	"github.com/sells-group/revenue-digest/internal/model"
	"github.com/sells-group/revenue-digest/pkg/amocrm"
)

// Sink delivers the rendered message.
type Sink interface {
	Deliver(ctx context.Context, text string) error
}

// Stage names a step of a run.
type Stage string

const (
	StageFetchLookups Stage = "fetch_lookups"
	StageFetchLeads   Stage = "fetch_leads"
	StageEnrich       Stage = "enrich"
	StageAggregate    Stage = "aggregate"
	StageFormat       Stage = "format"
	StageDeliver      Stage = "deliver"
	StageDone         Stage = "done"
)

// StageResult records one visited stage.
type StageResult struct {
	Stage      Stage  `json:"stage"`
	DurationMs int64  `json:"duration_ms"`
	FaultKind  string `json:"fault_kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunResult is the outcome of a single run. Faults never abort a run; they
// are collected here.
type RunResult struct {
	RunID        string                 `json:"run_id"`
	WindowFrom   time.Time              `json:"window_from"`
	WindowTo     time.Time              `json:"window_to"`
	Stages       []StageResult          `json:"stages"`
	LeadCount    int                    `json:"lead_count"`
	LookupMisses int                    `json:"lookup_misses"`
	Aggregate    model.ManagerAggregate `json:"aggregate"`
	Message      string                 `json:"message"`
	Delivered    bool                   `json:"delivered"`
}

// Failed reports whether any stage recorded a fault.
func (r *RunResult) Failed() bool {
	for _, s := range r.Stages {
		if s.Error != "" {
			return true
		}
	}
	return false
}

// Options configures a Runner. Zero values fall back to defaults.
type Options struct {
	Formatter    Formatter
	Placeholders Placeholders
	WonStatusID  int
	Location     *time.Location
	Now          func() time.Time
}

// Runner drives one digest pass from fetch through delivery.
type Runner struct {
	crm  CRM
	sink Sink
	opts Options
}

// NewRunner creates a Runner.
func NewRunner(crm CRM, sink Sink, opts Options) *Runner {
	def := DefaultFormatter()
	if opts.Formatter.Header == "" {
		opts.Formatter.Header = def.Header
	}
	if opts.Formatter.Currency == "" {
		opts.Formatter.Currency = def.Currency
	}
	ph := DefaultPlaceholders()
	if opts.Placeholders.User == "" {
		opts.Placeholders.User = ph.User
	}
	if opts.Placeholders.Status == "" {
		opts.Placeholders.Status = ph.Status
	}
	if opts.WonStatusID == 0 {
		opts.WonStatusID = 142
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{crm: crm, sink: sink, opts: opts}
}

// Window returns [yesterday 00:00, today 00:00) in loc, relative to now.
func Window(now time.Time, loc *time.Location) (time.Time, time.Time) {
	now = now.In(loc)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return to.AddDate(0, 0, -1), to
}

// Run executes one pass. A fetch fault skips straight to formatting with an
// empty aggregate, so delivery is always attempted.
func (r *Runner) Run(ctx context.Context) *RunResult {
	from, to := Window(r.opts.Now(), r.opts.Location)
	result := &RunResult{
		RunID:      uuid.New().String(),
		WindowFrom: from,
		WindowTo:   to,
		Aggregate:  model.ManagerAggregate{},
	}
	log := zap.L().With(zap.String("run_id", result.RunID))
	log.Info("digest: run starting",
		zap.String("from", from.Format(amocrm.DateLayout)),
		zap.String("to", to.Format(amocrm.DateLayout)),
	)

	track := func(stage Stage, fn func() error) bool {
		start := time.Now()
		err := fn()
		sr := StageResult{Stage: stage, DurationMs: time.Since(start).Milliseconds()}
		if err != nil {
			sr.FaultKind = string(fault.KindOf(err))
			sr.Error = err.Error()
			log.Error("digest: stage failed",
				zap.String("stage", string(stage)),
				zap.String("fault_kind", sr.FaultKind),
				zap.Int("status_code", fault.StatusCode(err)),
				zap.Error(err),
			)
		} else {
			log.Debug("digest: stage complete",
				zap.String("stage", string(stage)),
				zap.Int64("duration_ms", sr.DurationMs),
			)
		}
		result.Stages = append(result.Stages, sr)
		return err == nil
	}

	var (
		statuses StatusLookup
		users    UserLookup
		leads    []model.Lead
		enriched []model.EnrichedLead
	)

	ok := track(StageFetchLookups, func() error {
		var err error
		statuses, users, err = BuildLookups(ctx, r.crm)
		return err
	})

	if ok {
		ok = track(StageFetchLeads, func() error {
			var err error
			leads, err = r.crm.FetchLeads(ctx, amocrm.LeadFilter{
				From:      from,
				To:        to,
				StatusIDs: []int{r.opts.WonStatusID},
			})
			return err
		})
	}

	if ok {
		track(StageEnrich, func() error {
			var misses []*fault.Fault
			enriched, misses = Enrich(leads, statuses, users, r.opts.Placeholders)
			result.LeadCount = len(enriched)
			result.LookupMisses = len(misses)
			for _, m := range misses {
				log.Debug("digest: lookup miss", zap.String("lookup", m.Op), zap.String("id", m.Detail))
			}
			return nil
		})
		track(StageAggregate, func() error {
			result.Aggregate = Aggregate(enriched)
			return nil
		})
	}

	track(StageFormat, func() error {
		result.Message = r.opts.Formatter.Format(result.Aggregate)
		return nil
	})

	track(StageDeliver, func() error {
		if err := r.sink.Deliver(ctx, result.Message); err != nil {
			return err
		}
		result.Delivered = true
		return nil
	})

	result.Stages = append(result.Stages, StageResult{Stage: StageDone})
	log.Info("digest: run complete",
		zap.Int("leads", result.LeadCount),
		zap.Int("managers", len(result.Aggregate)),
		zap.Int64("revenue", result.Aggregate.Revenue()),
		zap.Int("lookup_misses", result.LookupMisses),
		zap.Bool("delivered", result.Delivered),
	)
	return result
}
