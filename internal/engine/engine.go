// Package engine runs a CRM stage event through resolution, gating and
// dispatch.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/dispatch"
	"github.com/sells-group/leadsync/internal/distlock"
	"github.com/sells-group/leadsync/internal/funnel"
	"github.com/sells-group/leadsync/internal/gate"
	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/normalize"
	"github.com/sells-group/leadsync/internal/pii"
	"github.com/sells-group/leadsync/internal/resolve"
	"github.com/sells-group/leadsync/pkg/meta"
)

// Store is the slice of the lead store the engine reads and writes.
type Store interface {
	resolve.LeadFinder
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	WriteDispatchedStage(ctx context.Context, id, stage string) error
}

// Sender delivers one built event to the sink.
type Sender interface {
	Send(ctx context.Context, event meta.Event) (*meta.Response, error)
}

// Deps wires the engine's collaborators.
type Deps struct {
	Store    Store
	Funnel   *funnel.Funnel
	Resolver *resolve.Resolver
	Gate     *gate.Gate
	Builder  *dispatch.Builder
	Sender   Sender
	Locker   distlock.Locker
	Phone    normalize.PhoneRules
	Now      func() time.Time
}

// Engine handles CRM stage events. It is safe for concurrent use.
type Engine struct {
	store    Store
	funnel   *funnel.Funnel
	resolver *resolve.Resolver
	gate     *gate.Gate
	builder  *dispatch.Builder
	sender   Sender
	locker   distlock.Locker
	phone    normalize.PhoneRules
	now      func() time.Time

	// sendBudget bounds the work done under an expiring claim; zero means
	// the claim never lapses.
	sendBudget time.Duration
}

// New creates an Engine. Nil optional collaborators and zero phone rules
// get defaults.
func New(d Deps) *Engine {
	e := &Engine{
		store:    d.Store,
		funnel:   d.Funnel,
		resolver: d.Resolver,
		gate:     d.Gate,
		builder:  d.Builder,
		sender:   d.Sender,
		locker:   d.Locker,
		phone:    d.Phone,
		now:      d.Now,
	}
	if e.funnel == nil {
		e.funnel = funnel.Default()
	}
	if e.resolver == nil {
		e.resolver = resolve.New(d.Store, resolve.DefaultConfig())
	}
	if e.gate == nil {
		e.gate = gate.New(gate.Config{})
	}
	if e.builder == nil {
		e.builder = dispatch.NewBuilder(dispatch.BuilderConfig{})
	}
	if e.locker == nil {
		e.locker = distlock.NewLocal()
	}
	if exp, ok := e.locker.(distlock.Expiring); ok {
		e.sendBudget = exp.TTL() - distlock.ExpiryMargin
		if e.sendBudget <= 0 {
			e.sendBudget = exp.TTL() / 2
		}
	}
	if e.phone == (normalize.PhoneRules{}) {
		e.phone = normalize.DefaultPhoneRules()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// HandleStageEvent maps, resolves, gates and dispatches ev. Discards are
// reported through the result's Outcome with a nil error; a non-nil error
// is a fault (store or sink) and leaves the watermark unwritten.
func (e *Engine) HandleStageEvent(ctx context.Context, ev model.CrmStageEvent) (*model.StageResult, error) {
	if err := ev.Validate(); err != nil {
		return e.discard(&model.StageResult{Outcome: model.OutcomeUnroutable, Reason: err.Error()}), nil
	}

	stage, ok := e.funnel.Lookup(ev.TagName)
	if !ok {
		return e.discard(&model.StageResult{
			Outcome: model.OutcomeUnroutable,
			Reason:  "no funnel stage for tag " + ev.TagName,
		}), nil
	}
	res := &model.StageResult{Stage: stage.Event}

	contact := normalize.Contact(ev.Contact, e.phone)
	if !contact.HasKey() {
		res.Outcome = model.OutcomeUnroutable
		res.Reason = "contact has no usable email or phone"
		return e.discard(res), nil
	}

	log := zap.L().With(
		zap.String("stage", stage.Event),
		zap.String("email", pii.RedactEmail(contact.Email)),
		zap.String("phone", pii.RedactPhone(contact.Phone)),
	)

	found, err := e.resolver.Resolve(ctx, contact)
	if errors.Is(err, resolve.ErrNotFound) {
		res.Outcome = model.OutcomeNotFound
		res.Reason = err.Error()
		log.Warn("engine: no lead for stage event", zap.Error(err))
		return res, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "engine: resolve %s", stage.Event)
	}

	lead := found.Lead
	res.IdentityID = lead.IdentityID
	res.Method = string(found.Method)
	res.Attempts = found.Attempts
	res.EventID = dispatch.EventID(lead.IdentityID, stage.Event)
	log = log.With(zap.String("identity_id", lead.IdentityID), zap.String("event_id", res.EventID))

	if d := e.gate.Evaluate(lead, stage, e.now()); !d.Allow {
		res.Outcome, res.Reason = d.Outcome, d.Reason
		return e.discard(res), nil
	}

	unlock, claimed, err := e.locker.TryLock(ctx, "dispatch:"+res.EventID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: claim %s", res.EventID)
	}
	if !claimed {
		res.Outcome = model.OutcomeSuppressedInFlight
		res.Reason = "another dispatch of " + res.EventID + " is in progress"
		return e.discard(res), nil
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn("engine: release claim failed", zap.Error(err))
		}
	}()

	// The claim lapses after its TTL, so the reload and send must finish in
	// time to write the watermark while the claim is still held.
	claimCtx, cancel := e.withinClaim(ctx)
	defer cancel()

	// A concurrent winner may have written the watermark before our claim.
	current, err := e.store.GetLead(claimCtx, lead.IdentityID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: reload %s", lead.IdentityID)
	}
	if current != nil {
		lead = current
	}
	now := e.now()
	if d := e.gate.Evaluate(lead, stage, now); !d.Allow {
		res.Outcome, res.Reason = d.Outcome, d.Reason
		return e.discard(res), nil
	}

	event := e.builder.Build(lead, stage, now)
	resp, err := e.sender.Send(claimCtx, event)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: dispatch %s", res.EventID)
	}

	if err := e.store.WriteDispatchedStage(ctx, lead.IdentityID, stage.Event); err != nil {
		return nil, eris.Wrapf(err, "engine: write watermark %s", res.EventID)
	}

	res.Outcome = model.OutcomeDispatched
	log.Info("engine: stage dispatched",
		zap.String("method", res.Method),
		zap.Int("attempts", res.Attempts),
		zap.String("fbtrace_id", resp.FBTraceID),
	)
	return res, nil
}

func (e *Engine) withinClaim(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.sendBudget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.sendBudget)
}

func (e *Engine) discard(res *model.StageResult) *model.StageResult {
	zap.L().Info("engine: stage event discarded",
		zap.String("outcome", string(res.Outcome)),
		zap.String("stage", res.Stage),
		zap.String("identity_id", res.IdentityID),
		zap.String("reason", res.Reason),
	)
	return res
}
