package model

// Outcome is the terminal state of one CRM stage event.
type Outcome string

const (
	OutcomeDispatched          Outcome = "dispatched"
	OutcomeUnroutable          Outcome = "unroutable"
	OutcomeNotFound            Outcome = "not_found"
	OutcomeSuppressedStale     Outcome = "suppressed_stale"
	OutcomeSuppressedDuplicate Outcome = "suppressed_duplicate"
	OutcomeSuppressedInFlight  Outcome = "suppressed_in_flight"
)

// Discarded reports whether the outcome ended without an outbound event.
func (o Outcome) Discarded() bool {
	return o != OutcomeDispatched
}

// StageResult describes what happened to a CRM stage event.
type StageResult struct {
	Outcome    Outcome `json:"status"`
	Stage      string  `json:"stage,omitempty"`
	IdentityID string  `json:"identity_id,omitempty"`
	EventID    string  `json:"event_id,omitempty"`
	Method     string  `json:"method,omitempty"`
	Attempts   int     `json:"attempts,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}
