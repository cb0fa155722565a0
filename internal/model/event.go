package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnroutable marks an inbound event that cannot take part in the funnel:
// no stage tag, or no contact key to resolve on. It is traffic noise, not a fault.
var ErrUnroutable = eris.New("event is unroutable")

// Contact is the raw contact payload carried by inbound events.
type Contact struct {
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Name      string `json:"name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// NormalizedContact holds comparable keys derived from a Contact.
type NormalizedContact struct {
	Email     string
	Phone     string // digits only, as stored
	Search    string // Phone with the local country code stripped
	Suffix    string // trailing digits used for the loose match
	FirstName string
	LastName  string
}

// HasKey reports whether the contact carries an email or phone to match on.
func (c NormalizedContact) HasKey() bool {
	return c.Email != "" || c.Phone != ""
}

// WebCaptureEvent is a partial or complete submission from the site form.
type WebCaptureEvent struct {
	CustomID  string `json:"custom_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	FBC       string `json:"fbc,omitempty"`
	FBP       string `json:"fbp,omitempty"`
	ClientIP  string `json:"-"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Key returns the caller-supplied identity, preferring custom_id.
func (e WebCaptureEvent) Key() string {
	if id := strings.TrimSpace(e.CustomID); id != "" {
		return id
	}
	return strings.TrimSpace(e.SessionID)
}

// NativeLeadEvent is a single lead delivered by the ad platform's own form.
type NativeLeadEvent struct {
	LeadID      string `json:"id"`
	CreatedTime int64  `json:"created_time,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone_number,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	ZipCode     string `json:"zip_code,omitempty"`
	BirthDate   string `json:"date_of_birth,omitempty"`
	Attribution
}

// Validate rejects native leads without an ad-platform id.
func (e NativeLeadEvent) Validate() error {
	if strings.TrimSpace(e.LeadID) == "" {
		return eris.New("native lead: id is required")
	}
	return nil
}

// CrmStageEvent is a stage change reported by the CRM.
type CrmStageEvent struct {
	TagName string  `json:"tag_name"`
	Contact Contact `json:"contact"`
}

// Validate returns ErrUnroutable when the event has no tag or no contact key.
func (e CrmStageEvent) Validate() error {
	if strings.TrimSpace(e.TagName) == "" {
		return eris.Wrap(ErrUnroutable, "missing stage tag")
	}
	if strings.TrimSpace(e.Contact.Email) == "" && strings.TrimSpace(e.Contact.Phone) == "" {
		return eris.Wrap(ErrUnroutable, "missing email and phone")
	}
	return nil
}
