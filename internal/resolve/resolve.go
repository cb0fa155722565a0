// Package resolve matches a CRM contact to a stored lead.
package resolve

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/pii"
	"github.com/sells-group/leadsync/internal/resilience"
)

// ErrNotFound means no lead matched after every pass. It is a discard, not
// a fault.
var ErrNotFound = eris.New("resolve: no matching lead")

// errNotYet is the only error the contact poll retries on.
var errNotYet = errors.New("resolve: lead not visible yet")

// Method records which pass produced the match.
type Method string

const (
	MethodContact    Method = "contact"
	MethodNameRescue Method = "name_rescue"
)

// LeadFinder is the slice of the lead store the resolver reads.
type LeadFinder interface {
	SearchByContact(ctx context.Context, email, phoneFull, phoneSuffix string) (*model.Lead, error)
	SearchByNameWindow(ctx context.Context, first, last string, window time.Duration) (*model.Lead, error)
}

// Config controls polling and the name fallback.
type Config struct {
	MaxAttempts  int           // contact lookups before giving up, >= 1
	RetryDelay   time.Duration // fixed wait between contact lookups
	RescueWindow time.Duration // look-back for the name fallback
	NameRescue   bool          // enable the name fallback
}

// DefaultConfig polls five times three seconds apart, then tries a
// same-day name match.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		RetryDelay:   3 * time.Second,
		RescueWindow: 24 * time.Hour,
		NameRescue:   true,
	}
}

// Result is a successful resolution.
type Result struct {
	Lead     *model.Lead
	Method   Method
	Attempts int // contact lookups performed
}

// Resolver runs the resolution cascade.
type Resolver struct {
	store LeadFinder
	cfg   Config
}

// New creates a Resolver.
func New(store LeadFinder, cfg Config) *Resolver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Resolver{store: store, cfg: cfg}
}

// Resolve finds the lead for c using a two-pass cascade:
//  1. Contact match (exact email, or phone ending in the comparable number
//     or its suffix), polled with a fixed delay because the web capture for
//     the same person may still be in flight. Oldest match wins.
//  2. Name rescue: case-insensitive first (and last, if known) name within
//     the rescue window. Newest match wins.
//
// Store errors abort immediately. ErrNotFound is returned when both passes
// come up empty.
func (r *Resolver) Resolve(ctx context.Context, c model.NormalizedContact) (*Result, error) {
	attempts := 0
	if c.HasKey() {
		poll := resilience.FixedDelay(r.cfg.MaxAttempts, r.cfg.RetryDelay)
		poll.ShouldRetry = func(err error) bool { return errors.Is(err, errNotYet) }
		poll.OnRetry = resilience.RetryLogger("resolve", "search_by_contact",
			zap.Duration("delay", r.cfg.RetryDelay),
			zap.String("email", pii.RedactEmail(c.Email)),
		)

		lead, err := resilience.DoVal(ctx, poll, func(ctx context.Context) (*model.Lead, error) {
			attempts++
			l, err := r.store.SearchByContact(ctx, c.Email, c.Search, c.Suffix)
			if err != nil {
				return nil, eris.Wrap(err, "resolve: search by contact")
			}
			if l == nil {
				return nil, errNotYet
			}
			return l, nil
		})
		switch {
		case err == nil:
			zap.L().Debug("resolve: matched by contact",
				zap.String("identity_id", lead.IdentityID),
				zap.Int("attempts", attempts),
			)
			return &Result{Lead: lead, Method: MethodContact, Attempts: attempts}, nil
		case !errors.Is(err, errNotYet):
			return nil, err
		}
	}

	if r.cfg.NameRescue && c.FirstName != "" {
		lead, err := r.store.SearchByNameWindow(ctx, c.FirstName, c.LastName, r.cfg.RescueWindow)
		if err != nil {
			return nil, eris.Wrap(err, "resolve: search by name")
		}
		if lead != nil {
			zap.L().Warn("resolve: matched by name rescue",
				zap.String("identity_id", lead.IdentityID),
				zap.String("email", pii.RedactEmail(c.Email)),
				zap.String("phone", pii.RedactPhone(c.Phone)),
				zap.Int("attempts", attempts),
			)
			return &Result{Lead: lead, Method: MethodNameRescue, Attempts: attempts}, nil
		}
	}

	return nil, eris.Wrapf(ErrNotFound, "after %d contact lookups", attempts)
}
