// Package gate decides whether a resolved lead may emit a stage event.
package gate

import (
	"time"

	"github.com/sells-group/leadsync/internal/funnel"
	"github.com/sells-group/leadsync/internal/model"
)

// DefaultStaleAfter is how long a synthetic lead may wait for its entry
// event before the entry event is considered late.
const DefaultStaleAfter = 2 * time.Hour

// Config holds the gate policy.
type Config struct {
	StaleAfter time.Duration
}

// Decision is the gate verdict for one lead and stage.
type Decision struct {
	Allow   bool
	Outcome model.Outcome // set when Allow is false
	Reason  string
}

// Gate applies the staleness and idempotency rules.
type Gate struct {
	staleAfter time.Duration
}

// New creates a Gate. A non-positive StaleAfter falls back to the default.
func New(cfg Config) *Gate {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Gate{staleAfter: cfg.StaleAfter}
}

// Evaluate checks, in order:
//
//  1. staleness: the entry stage for a synthetic lead older than StaleAfter
//     is suppressed (native leads are exempt);
//  2. idempotency: a stage equal to the lead's watermark is suppressed.
func (g *Gate) Evaluate(lead *model.Lead, stage funnel.Stage, now time.Time) Decision {
	if stage.Entry && lead.Lineage == model.LineageSynthetic && lead.Age(now) > g.staleAfter {
		return Decision{
			Outcome: model.OutcomeSuppressedStale,
			Reason:  "entry event arrived " + lead.Age(now).Truncate(time.Second).String() + " after capture",
		}
	}
	if lead.LastDispatchedStage == stage.Event {
		return Decision{
			Outcome: model.OutcomeSuppressedDuplicate,
			Reason:  "stage " + stage.Event + " already dispatched",
		}
	}
	return Decision{Allow: true}
}
