// Package dispatch turns a gated lead and stage into a conversion event and
// delivers it to the ad platform.
package dispatch

import (
	"time"

	"github.com/sells-group/leadsync/internal/funnel"
	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/pii"
	"github.com/sells-group/leadsync/pkg/meta"
)

// Action sources reported with each event.
const (
	ActionSourceWebsite = "website"
	ActionSourceSystem  = "system_generated"
)

// ConvertedStatus is the stage status label that carries a monetary value.
const ConvertedStatus = "CONVERTED"

// BuilderConfig holds the constant parts of every event's custom_data.
type BuilderConfig struct {
	LeadEventSource string  // e.g. the CRM product name
	Currency        string  // ISO 4217, e.g. "BRL"
	ConversionValue float64 // sent only with the converted stage
}

// Builder assembles outbound events.
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	return &Builder{cfg: cfg}
}

// EventID is the integration-level dedup key for a lead's stage.
func EventID(identityID, event string) string {
	return identityID + "_" + event
}

// Build assembles the event for lead reaching stage at now.
func (b *Builder) Build(lead *model.Lead, stage funnel.Stage, now time.Time) meta.Event {
	source := ActionSourceSystem
	if stage.Website {
		source = ActionSourceWebsite
	}

	custom := map[string]any{
		"event_source": "crm",
	}
	setIf(custom, "lead_event_source", b.cfg.LeadEventSource)
	setIf(custom, "campaign_name", lead.CampaignName)
	setIf(custom, "form_name", lead.FormName)

	status := stage.Status
	if status == "" {
		status = lead.LeadStatus
	}
	setIf(custom, "lead_status", status)

	if b.cfg.Currency != "" {
		custom["currency"] = b.cfg.Currency
		if stage.Status == ConvertedStatus {
			custom["value"] = b.cfg.ConversionValue
		}
	}

	return meta.Event{
		EventName:    stage.Event,
		EventTime:    now.Unix(),
		EventID:      EventID(lead.IdentityID, stage.Event),
		ActionSource: source,
		UserData:     pii.BuildUserData(lead),
		CustomData:   custom,
	}
}

func setIf(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
