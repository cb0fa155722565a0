// Package capture records leads arriving from the site form and from the ad
// platform's native lead form.
package capture

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/normalize"
	"github.com/sells-group/leadsync/internal/pii"
	"github.com/sells-group/leadsync/internal/store"
)

// DefaultDedupWindow is how far back a web capture looks for an existing
// lead with the same email or phone.
const DefaultDedupWindow = 24 * time.Hour

// ErrEmptyCapture is returned for a web capture with nothing to store.
var ErrEmptyCapture = eris.New("capture: no identity, email or phone")

// Store is the subset of store.LeadStore used by captures.
type Store interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	FindCandidate(ctx context.Context, window time.Duration, email, phone string) (*model.Lead, error)
	UpsertByIdentity(ctx context.Context, id string, lineage model.Lineage, fields store.LeadFields) (*model.Lead, error)
}

// Config controls web-capture dedup and insert defaults.
type Config struct {
	DedupWindow time.Duration
	Platform    string // stamped on newly created web leads
	FormName    string // stamped on newly created web leads
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{DedupWindow: DefaultDedupWindow, Platform: "site_smartcred", FormName: "Formulario Site"}
}

// Service writes captured leads to the store.
type Service struct {
	store Store
	cfg   Config
	newID func() string
}

// New creates a Service.
func New(st Store, cfg Config) *Service {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	return &Service{
		store: st,
		cfg:   cfg,
		newID: func() string { return model.SyntheticPrefix + uuid.NewString() },
	}
}

// CaptureWeb merges a site-form submission into the lead it belongs to. A
// caller-supplied key that names an existing lead wins; otherwise a recent
// lead with the same email or phone is reused; otherwise a synthetic
// identity is created.
func (s *Service) CaptureWeb(ctx context.Context, ev model.WebCaptureEvent) (*model.Lead, error) {
	email := normalize.Email(ev.Email)
	phone := normalize.Phone(ev.Phone)
	key := ev.Key()
	if key == "" && email == "" && phone == "" {
		return nil, ErrEmptyCapture
	}

	first, last := normalize.SplitName(ev.Name)
	fields := store.LeadFields{
		Email:     store.Str(email),
		Phone:     store.Str(phone),
		FirstName: store.Str(first),
		LastName:  store.Str(last),
		FBC:       store.Str(ev.FBC),
		FBP:       store.Str(ev.FBP),
		ClientIP:  store.Str(ev.ClientIP),
		UserAgent: store.Str(ev.UserAgent),
	}

	id, reused, err := s.resolveWebIdentity(ctx, key, email, phone)
	if err != nil {
		return nil, err
	}
	if !reused {
		organic := false
		fields.Platform = store.Str(s.cfg.Platform)
		fields.FormName = store.Str(s.cfg.FormName)
		fields.IsOrganic = &organic
	}

	lead, err := s.store.UpsertByIdentity(ctx, id, model.LineageSynthetic, fields)
	if err != nil {
		return nil, eris.Wrapf(err, "capture: web lead %s", id)
	}

	zap.L().Info("capture: web lead stored",
		zap.String("identity_id", lead.IdentityID),
		zap.Bool("reused", reused),
		zap.String("email", pii.RedactEmail(email)),
		zap.String("phone", pii.RedactPhone(phone)),
	)
	return lead, nil
}

func (s *Service) resolveWebIdentity(ctx context.Context, key, email, phone string) (string, bool, error) {
	if key != "" {
		existing, err := s.store.GetLead(ctx, key)
		if err != nil {
			return "", false, eris.Wrapf(err, "capture: get lead %s", key)
		}
		if existing != nil {
			return existing.IdentityID, true, nil
		}
	}

	if email != "" || phone != "" {
		candidate, err := s.store.FindCandidate(ctx, s.cfg.DedupWindow, email, phone)
		if err != nil {
			return "", false, eris.Wrap(err, "capture: find candidate")
		}
		if candidate != nil {
			return candidate.IdentityID, true, nil
		}
	}

	if key != "" {
		return key, false, nil
	}
	return s.newID(), false, nil
}

// CaptureNative stores a lead delivered by the ad platform's native form
// under the platform-issued id.
func (s *Service) CaptureNative(ctx context.Context, ev model.NativeLeadEvent) (*model.Lead, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(ev.LeadID)

	first, last := normalize.Name(ev.FirstName), normalize.Name(ev.LastName)
	if first == "" && last == "" {
		first, last = normalize.SplitName(ev.FullName)
	}

	fields := store.LeadFields{
		CreatedAt:    ev.CreatedTime,
		Email:        store.Str(normalize.Email(ev.Email)),
		Phone:        store.Str(normalize.Phone(ev.Phone)),
		FirstName:    store.Str(first),
		LastName:     store.Str(last),
		City:         store.Str(ev.City),
		State:        store.Str(ev.State),
		ZipCode:      store.Str(ev.ZipCode),
		BirthDate:    store.Str(ev.BirthDate),
		AdID:         store.Str(ev.AdID),
		AdName:       store.Str(ev.AdName),
		AdsetID:      store.Str(ev.AdsetID),
		AdsetName:    store.Str(ev.AdsetName),
		CampaignID:   store.Str(ev.CampaignID),
		CampaignName: store.Str(ev.CampaignName),
		FormID:       store.Str(ev.FormID),
		FormName:     store.Str(ev.FormName),
		Platform:     store.Str(ev.Platform),
		LeadStatus:   store.Str(ev.LeadStatus),
		IsOrganic:    ev.IsOrganic,
	}

	lead, err := s.store.UpsertByIdentity(ctx, id, model.LineageNative, fields)
	if err != nil {
		return nil, eris.Wrapf(err, "capture: native lead %s", id)
	}

	zap.L().Info("capture: native lead stored",
		zap.String("identity_id", id),
		zap.String("campaign", ev.CampaignName),
	)
	return lead, nil
}
