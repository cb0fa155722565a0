package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/model"
)

// ErrLeadNotFound is returned by writes that target a missing identity.
var ErrLeadNotFound = eris.New("lead not found")

// ErrUnknownLineage is returned when a stored row carries a lineage this
// build does not know how to gate.
var ErrUnknownLineage = eris.New("unknown lead lineage")

// LeadStore defines the persistence interface for lead identities.
type LeadStore interface {
	// Writes
	UpsertByIdentity(ctx context.Context, id string, lineage model.Lineage, fields LeadFields) (*model.Lead, error)
	WriteDispatchedStage(ctx context.Context, id, stage string) error

	// Lookups. A missing lead is (nil, nil), never an error.
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	FindCandidate(ctx context.Context, window time.Duration, email, phone string) (*model.Lead, error)
	SearchByContact(ctx context.Context, email, phoneFull, phoneSuffix string) (*model.Lead, error)
	SearchByNameWindow(ctx context.Context, first, last string, window time.Duration) (*model.Lead, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// LeadFields is the merge payload for UpsertByIdentity. A nil field leaves
// the stored value untouched.
type LeadFields struct {
	// CreatedAt is epoch seconds, used only when the row is inserted.
	// Zero means "now".
	CreatedAt int64

	Email     *string
	Phone     *string
	FirstName *string
	LastName  *string
	City      *string
	State     *string
	ZipCode   *string
	BirthDate *string

	AdID         *string
	AdName       *string
	AdsetID      *string
	AdsetName    *string
	CampaignID   *string
	CampaignName *string
	FormID       *string
	FormName     *string
	Platform     *string
	LeadStatus   *string
	IsOrganic    *bool

	FBC       *string
	FBP       *string
	ClientIP  *string
	UserAgent *string
}

// Str returns nil for blank input so empty strings never overwrite data.
func Str(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// textColumns are the nullable text columns merged on upsert, in the order
// used by LeadFields.textValues and leadTextTargets.
var textColumns = []string{
	"email", "phone", "first_name", "last_name",
	"city", "state", "zip_code", "birth_date",
	"ad_id", "ad_name", "adset_id", "adset_name",
	"campaign_id", "campaign_name", "form_id", "form_name",
	"platform", "lead_status",
	"fbc", "fbp", "client_ip", "user_agent",
}

func (f LeadFields) textValues() []*string {
	return []*string{
		f.Email, f.Phone, f.FirstName, f.LastName,
		f.City, f.State, f.ZipCode, f.BirthDate,
		f.AdID, f.AdName, f.AdsetID, f.AdsetName,
		f.CampaignID, f.CampaignName, f.FormID, f.FormName,
		f.Platform, f.LeadStatus,
		f.FBC, f.FBP, f.ClientIP, f.UserAgent,
	}
}

func leadTextTargets(l *model.Lead) []*string {
	return []*string{
		&l.Email, &l.Phone, &l.FirstName, &l.LastName,
		&l.City, &l.State, &l.ZipCode, &l.BirthDate,
		&l.AdID, &l.AdName, &l.AdsetID, &l.AdsetName,
		&l.CampaignID, &l.CampaignName, &l.FormID, &l.FormName,
		&l.Platform, &l.LeadStatus,
		&l.FBC, &l.FBP, &l.ClientIP, &l.UserAgent,
	}
}

// mergeColumns may be filled in by later writes.
func mergeColumns() []string {
	cols := append([]string{}, textColumns...)
	return append(cols, "is_organic")
}

// insertColumns lists upsert columns in argument order.
func insertColumns() []string {
	cols := []string{"identity_id", "lineage", "created_at"}
	cols = append(cols, mergeColumns()...)
	return append(cols, "updated_at")
}

// selectColumns lists the columns read by scanLead, in scan order.
func selectColumns() []string {
	cols := []string{"identity_id", "lineage", "created_at"}
	cols = append(cols, textColumns...)
	return append(cols, "is_organic", "last_dispatched_stage", "updated_at")
}

var leadSelect = strings.Join(selectColumns(), ", ")

// upsertArgs returns the bind values matching insertColumns.
func upsertArgs(id string, lineage model.Lineage, f LeadFields, now time.Time) []any {
	created := f.CreatedAt
	if created <= 0 {
		created = now.Unix()
	}
	args := []any{id, string(lineage), created}
	for _, v := range f.textValues() {
		args = append(args, nullable(v))
	}
	var organic any
	if f.IsOrganic != nil {
		organic = *f.IsOrganic
	}
	return append(args, organic, now.Unix())
}

// nullable turns a nil pointer into an untyped nil bind value.
func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanLead reads one row laid out as selectColumns. Both backends store
// timestamps as epoch seconds so the same scan serves both.
func scanLead(row rowScanner) (*model.Lead, error) {
	var (
		l       model.Lead
		lineage string
		organic sql.NullBool
		stage   sql.NullString
		updated int64
	)
	text := make([]sql.NullString, len(textColumns))

	dest := make([]any, 0, len(textColumns)+6)
	dest = append(dest, &l.IdentityID, &lineage, &l.CreatedAt)
	for i := range text {
		dest = append(dest, &text[i])
	}
	dest = append(dest, &organic, &stage, &updated)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	for i, target := range leadTextTargets(&l) {
		*target = text[i].String
	}
	l.Lineage = model.Lineage(lineage)
	if !l.Lineage.Valid() {
		return nil, eris.Wrapf(ErrUnknownLineage, "lead %s: %q", l.IdentityID, lineage)
	}
	if organic.Valid {
		v := organic.Bool
		l.IsOrganic = &v
	}
	l.LastDispatchedStage = stage.String
	l.UpdatedAt = time.Unix(updated, 0).UTC()
	return &l, nil
}

// cutoff returns the epoch second that opens a look-back window.
func cutoff(now time.Time, window time.Duration) int64 {
	return now.Add(-window).Unix()
}
