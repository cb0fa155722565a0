package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/normalize"
)

type fakeFinder struct {
	// visibleAt is the contact lookup (1-based) from which contactLead is
	// returned; 0 means never.
	visibleAt   int
	contactLead *model.Lead
	contactErr  error
	nameLead    *model.Lead
	nameErr     error

	contactCalls int
	nameCalls    int
	contactArgs  [3]string
	nameArgs     [2]string
	window       time.Duration
}

func (f *fakeFinder) SearchByContact(_ context.Context, email, full, suffix string) (*model.Lead, error) {
	f.contactCalls++
	f.contactArgs = [3]string{email, full, suffix}
	if f.contactErr != nil {
		return nil, f.contactErr
	}
	if f.visibleAt > 0 && f.contactCalls >= f.visibleAt {
		return f.contactLead, nil
	}
	return nil, nil
}

func (f *fakeFinder) SearchByNameWindow(_ context.Context, first, last string, window time.Duration) (*model.Lead, error) {
	f.nameCalls++
	f.nameArgs = [2]string{first, last}
	f.window = window
	return f.nameLead, f.nameErr
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func contact(email, phone, name string) model.NormalizedContact {
	return normalize.Contact(model.Contact{Email: email, Phone: phone, Name: name}, normalize.DefaultPhoneRules())
}

func TestResolve_ContactFirstAttempt(t *testing.T) {
	l := &model.Lead{IdentityID: "WEB-1"}
	f := &fakeFinder{visibleAt: 1, contactLead: l}

	res, err := New(f, testConfig()).Resolve(context.Background(), contact("Ana@Mail.com", "+55 (11) 98888-7777", "Ana Silva"))
	require.NoError(t, err)
	assert.Same(t, l, res.Lead)
	assert.Equal(t, MethodContact, res.Method)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, [3]string{"ana@mail.com", "11988887777", "88887777"}, f.contactArgs)
	assert.Zero(t, f.nameCalls)
}

func TestResolve_ContactVisibleDuringPolling(t *testing.T) {
	l := &model.Lead{IdentityID: "WEB-late"}
	f := &fakeFinder{visibleAt: 3, contactLead: l}

	res, err := New(f, testConfig()).Resolve(context.Background(), contact("", "11988887777", ""))
	require.NoError(t, err)
	assert.Equal(t, "WEB-late", res.Lead.IdentityID)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, f.contactCalls)
}

func TestResolve_PollingUsesFixedDelay(t *testing.T) {
	f := &fakeFinder{}
	cfg := testConfig()
	cfg.MaxAttempts = 3
	cfg.RetryDelay = 20 * time.Millisecond
	cfg.NameRescue = false

	start := time.Now()
	_, err := New(f, cfg).Resolve(context.Background(), contact("a@b.com", "", ""))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 3, f.contactCalls)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond, "two waits between three lookups")
}

func TestResolve_StoreErrorAborts(t *testing.T) {
	boom := errors.New("connection refused")
	f := &fakeFinder{contactErr: boom}

	_, err := New(f, testConfig()).Resolve(context.Background(), contact("a@b.com", "", "Ana"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.contactCalls, "persistence errors are not retried")
	assert.Zero(t, f.nameCalls)
}

func TestResolve_NameRescue(t *testing.T) {
	rescued := &model.Lead{IdentityID: "WEB-name"}
	f := &fakeFinder{nameLead: rescued}

	res, err := New(f, testConfig()).Resolve(context.Background(), contact("other@mail.com", "", "Ana Maria Silva"))
	require.NoError(t, err)
	assert.Equal(t, MethodNameRescue, res.Method)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 5, f.contactCalls)
	assert.Equal(t, [2]string{"Ana", "Maria Silva"}, f.nameArgs)
	assert.Equal(t, 24*time.Hour, f.window)
}

func TestResolve_NameRescueDisabled(t *testing.T) {
	f := &fakeFinder{nameLead: &model.Lead{IdentityID: "WEB-name"}}
	cfg := testConfig()
	cfg.NameRescue = false

	_, err := New(f, cfg).Resolve(context.Background(), contact("a@b.com", "", "Ana"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.nameCalls)
}

func TestResolve_NoFirstNameSkipsRescue(t *testing.T) {
	f := &fakeFinder{}

	_, err := New(f, testConfig()).Resolve(context.Background(), contact("a@b.com", "", ""))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.nameCalls)
}

func TestResolve_NameSearchError(t *testing.T) {
	f := &fakeFinder{nameErr: errors.New("timeout")}

	_, err := New(f, testConfig()).Resolve(context.Background(), contact("a@b.com", "", "Ana"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "search by name")
}

func TestResolve_NoContactKeyGoesStraightToRescue(t *testing.T) {
	f := &fakeFinder{nameLead: &model.Lead{IdentityID: "WEB-name"}}

	res, err := New(f, testConfig()).Resolve(context.Background(), contact("", "", "Ana"))
	require.NoError(t, err)
	assert.Equal(t, MethodNameRescue, res.Method)
	assert.Zero(t, res.Attempts)
	assert.Zero(t, f.contactCalls)
}

func TestNew_ClampsAttempts(t *testing.T) {
	f := &fakeFinder{}
	cfg := testConfig()
	cfg.MaxAttempts = 0
	cfg.NameRescue = false

	_, err := New(f, cfg).Resolve(context.Background(), contact("a@b.com", "", ""))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.contactCalls)
}

func TestResolve_LogsEachRetry(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	undo := zap.ReplaceGlobals(zap.New(core))
	defer undo()

	f := &fakeFinder{visibleAt: 3, contactLead: &model.Lead{IdentityID: "WEB-late"}}
	_, err := New(f, testConfig()).Resolve(context.Background(), contact("ana@mail.com", "", ""))
	require.NoError(t, err)

	retries := logs.FilterMessage("retrying operation").All()
	require.Len(t, retries, 2)
	fields := retries[1].ContextMap()
	assert.Equal(t, "resolve", fields["component"])
	assert.Equal(t, "search_by_contact", fields["operation"])
	assert.Equal(t, int64(2), fields["attempt"])
	assert.NotContains(t, fields["email"], "ana@mail.com")
}
