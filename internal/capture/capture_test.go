package capture

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, DefaultConfig()), st
}

func TestCaptureWeb_CreatesSyntheticLead(t *testing.T) {
	svc, _ := newTestService(t)

	lead, err := svc.CaptureWeb(context.Background(), model.WebCaptureEvent{
		Name:      "Ana Maria Souza",
		Email:     " Ana@Mail.com ",
		Phone:     "+55 (11) 98888-7777",
		FBC:       "fb.1.1.click",
		ClientIP:  "10.0.0.1",
		UserAgent: "Mozilla/5.0",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(lead.IdentityID, model.SyntheticPrefix))
	assert.Equal(t, model.LineageSynthetic, lead.Lineage)
	assert.Equal(t, "ana@mail.com", lead.Email)
	assert.Equal(t, "5511988887777", lead.Phone)
	assert.Equal(t, "Ana", lead.FirstName)
	assert.Equal(t, "Maria Souza", lead.LastName)
	assert.Equal(t, "fb.1.1.click", lead.FBC)
	assert.Equal(t, "10.0.0.1", lead.ClientIP)
	assert.Equal(t, "site_smartcred", lead.Platform)
	assert.Equal(t, "Formulario Site", lead.FormName)
	require.NotNil(t, lead.IsOrganic)
	assert.False(t, *lead.IsOrganic)
}

func TestCaptureWeb_SessionKeyMergesPartialSubmissions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CaptureWeb(ctx, model.WebCaptureEvent{SessionID: "WEB-s1", Email: "ana@mail.com"})
	require.NoError(t, err)
	assert.Equal(t, "WEB-s1", first.IdentityID)

	second, err := svc.CaptureWeb(ctx, model.WebCaptureEvent{SessionID: "WEB-s1", Phone: "11 98888-7777", FBP: "fb.1.2.browser"})
	require.NoError(t, err)

	assert.Equal(t, "WEB-s1", second.IdentityID)
	assert.Equal(t, "ana@mail.com", second.Email, "earlier field survives")
	assert.Equal(t, "11988887777", second.Phone)
	assert.Equal(t, "fb.1.2.browser", second.FBP)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestCaptureWeb_CustomIDWinsOverSessionID(t *testing.T) {
	svc, _ := newTestService(t)

	lead, err := svc.CaptureWeb(context.Background(), model.WebCaptureEvent{CustomID: "WEB-c1", SessionID: "WEB-s1", Email: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, "WEB-c1", lead.IdentityID)
}

func TestCaptureWeb_ReusesRecentCandidate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	native, err := st.UpsertByIdentity(ctx, "9001", model.LineageNative, store.LeadFields{
		Email:    store.Str("ana@mail.com"),
		Platform: store.Str("fb"),
	})
	require.NoError(t, err)

	lead, err := svc.CaptureWeb(ctx, model.WebCaptureEvent{Email: "ANA@mail.com", FBC: "fb.1.1.click"})
	require.NoError(t, err)

	assert.Equal(t, native.IdentityID, lead.IdentityID)
	assert.Equal(t, model.LineageNative, lead.Lineage, "lineage is never rewritten")
	assert.Equal(t, "fb", lead.Platform, "insert defaults are not applied to a reused lead")
	assert.Equal(t, "fb.1.1.click", lead.FBC)
}

func TestCaptureWeb_IgnoresCandidateOutsideWindow(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := st.UpsertByIdentity(ctx, "WEB-old", model.LineageSynthetic, store.LeadFields{
		CreatedAt: time.Now().Add(-48 * time.Hour).Unix(),
		Email:     store.Str("ana@mail.com"),
	})
	require.NoError(t, err)

	lead, err := svc.CaptureWeb(ctx, model.WebCaptureEvent{Email: "ana@mail.com"})
	require.NoError(t, err)
	assert.NotEqual(t, "WEB-old", lead.IdentityID)
}

func TestCaptureWeb_Empty(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CaptureWeb(context.Background(), model.WebCaptureEvent{Name: "Ana", FBC: "x"})
	assert.ErrorIs(t, err, ErrEmptyCapture)
}

type failingStore struct{ Store }

func (failingStore) GetLead(context.Context, string) (*model.Lead, error) {
	return nil, errors.New("db down")
}

func TestCaptureWeb_StoreError(t *testing.T) {
	svc := New(failingStore{}, DefaultConfig())

	_, err := svc.CaptureWeb(context.Background(), model.WebCaptureEvent{SessionID: "WEB-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture: get lead WEB-1")
}

func TestCaptureNative(t *testing.T) {
	svc, _ := newTestService(t)
	organic := true
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).Unix()

	lead, err := svc.CaptureNative(context.Background(), model.NativeLeadEvent{
		LeadID:      " 120210000000001 ",
		CreatedTime: created,
		Email:       "Bia@Mail.com",
		Phone:       "+55 21 97777-6666",
		FullName:    "Bia Lima",
		City:        "Rio",
		Attribution: model.Attribution{
			CampaignName: "spring",
			FormName:     "instant form",
			Platform:     "ig",
			IsOrganic:    &organic,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "120210000000001", lead.IdentityID)
	assert.Equal(t, model.LineageNative, lead.Lineage)
	assert.Equal(t, created, lead.CreatedAt)
	assert.Equal(t, "bia@mail.com", lead.Email)
	assert.Equal(t, "5521977776666", lead.Phone)
	assert.Equal(t, "Bia", lead.FirstName)
	assert.Equal(t, "Lima", lead.LastName)
	assert.Equal(t, "Rio", lead.City)
	assert.Equal(t, "spring", lead.CampaignName)
	assert.Equal(t, "ig", lead.Platform)
	require.NotNil(t, lead.IsOrganic)
	assert.True(t, *lead.IsOrganic)
}

func TestCaptureNative_ExplicitNames(t *testing.T) {
	svc, _ := newTestService(t)

	lead, err := svc.CaptureNative(context.Background(), model.NativeLeadEvent{
		LeadID:    "1",
		FullName:  "ignored full",
		FirstName: "Bia",
		LastName:  "Lima Costa",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bia", lead.FirstName)
	assert.Equal(t, "Lima Costa", lead.LastName)
}

func TestCaptureNative_RequiresID(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CaptureNative(context.Background(), model.NativeLeadEvent{Email: "a@b.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}
