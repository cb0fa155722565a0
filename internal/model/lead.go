package model

import (
	"time"
)

// Lineage records where a lead's identity id was issued.
type Lineage string

const (
	// LineageSynthetic ids are generated locally for web-form captures.
	LineageSynthetic Lineage = "synthetic"
	// LineageNative ids are issued by the ad platform's native lead form.
	LineageNative Lineage = "native"
)

// Valid reports whether l is a known lineage.
func (l Lineage) Valid() bool {
	return l == LineageSynthetic || l == LineageNative
}

// SyntheticPrefix tags generated identity ids so they are recognizable in
// logs and exports. Policy decisions read Lead.Lineage, never the prefix.
const SyntheticPrefix = "WEB-"

// Lead is one distinguishable human or session, keyed by IdentityID.
type Lead struct {
	IdentityID string  `json:"identity_id"`
	Lineage    Lineage `json:"lineage"`
	CreatedAt  int64   `json:"created_at"` // epoch seconds, set once

	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	ZipCode   string `json:"zip_code,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`

	Attribution

	FBC       string `json:"fbc,omitempty"`
	FBP       string `json:"fbp,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	LastDispatchedStage string    `json:"last_dispatched_stage,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Attribution holds opaque campaign metadata. None of it is used for matching.
type Attribution struct {
	AdID         string `json:"ad_id,omitempty"`
	AdName       string `json:"ad_name,omitempty"`
	AdsetID      string `json:"adset_id,omitempty"`
	AdsetName    string `json:"adset_name,omitempty"`
	CampaignID   string `json:"campaign_id,omitempty"`
	CampaignName string `json:"campaign_name,omitempty"`
	FormID       string `json:"form_id,omitempty"`
	FormName     string `json:"form_name,omitempty"`
	Platform     string `json:"platform,omitempty"`
	IsOrganic    *bool  `json:"is_organic,omitempty"`
	LeadStatus   string `json:"lead_status,omitempty"`
}

// Created returns CreatedAt as a time.Time.
func (l *Lead) Created() time.Time {
	return time.Unix(l.CreatedAt, 0).UTC()
}

// Age returns how long ago the lead was first observed, relative to now.
func (l *Lead) Age(now time.Time) time.Duration {
	return now.Sub(l.Created())
}
