package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadsync/internal/funnel"
	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/pii"
	"github.com/sells-group/leadsync/internal/resilience"
	"github.com/sells-group/leadsync/pkg/meta"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func stage(t *testing.T, tag string) funnel.Stage {
	t.Helper()
	s, ok := funnel.Default().Lookup(tag)
	require.True(t, ok)
	return s
}

func testBuilder() *Builder {
	return NewBuilder(BuilderConfig{LeadEventSource: "Greenn Sales", Currency: "BRL", ConversionValue: 1500})
}

func TestBuild_EntryStage(t *testing.T) {
	lead := &model.Lead{
		IdentityID:  "WEB-1",
		Lineage:     model.LineageSynthetic,
		Email:       "ana@mail.com",
		FBC:         "fb.1.1.click",
		Attribution: model.Attribution{CampaignName: "spring", FormName: "site"},
	}

	ev := testBuilder().Build(lead, stage(t, "NOVOS"), now)

	assert.Equal(t, "Lead", ev.EventName)
	assert.Equal(t, now.Unix(), ev.EventTime)
	assert.Equal(t, "WEB-1_Lead", ev.EventID)
	assert.Equal(t, ActionSourceWebsite, ev.ActionSource)
	assert.Equal(t, []string{pii.Hash("ana@mail.com")}, ev.UserData.Email)
	assert.Equal(t, "fb.1.1.click", ev.UserData.FBC)
	assert.Equal(t, map[string]any{
		"event_source":      "crm",
		"lead_event_source": "Greenn Sales",
		"campaign_name":     "spring",
		"form_name":         "site",
		"currency":          "BRL",
	}, ev.CustomData)
}

func TestBuild_StatusLabelsAndValue(t *testing.T) {
	lead := &model.Lead{IdentityID: "L1", Lineage: model.LineageNative, Attribution: model.Attribution{LeadStatus: "stored"}}
	b := testBuilder()

	video := b.Build(lead, stage(t, "VIDEO"), now)
	assert.Equal(t, ActionSourceSystem, video.ActionSource)
	assert.Equal(t, "QUALIFIED", video.CustomData["lead_status"])
	assert.NotContains(t, video.CustomData, "value")
	assert.Equal(t, "L1", video.UserData.LeadID)

	won := b.Build(lead, stage(t, "VENCEMOS"), now)
	assert.Equal(t, "CONVERTED", won.CustomData["lead_status"])
	assert.Equal(t, 1500.0, won.CustomData["value"])
	assert.Equal(t, "L1_Vencemos", won.EventID)

	called := b.Build(lead, stage(t, "ATENDEU"), now)
	assert.Equal(t, "stored", called.CustomData["lead_status"], "falls back to the stored status")
}

func TestBuild_NoCurrencyNoValue(t *testing.T) {
	ev := NewBuilder(BuilderConfig{}).Build(&model.Lead{IdentityID: "L1"}, stage(t, "VENCEMOS"), now)
	assert.NotContains(t, ev.CustomData, "currency")
	assert.NotContains(t, ev.CustomData, "value")
	assert.NotContains(t, ev.CustomData, "lead_event_source")
}

type fakeClient struct {
	resp  *meta.Response
	err   error
	calls int
	got   []meta.Event
}

func (f *fakeClient) SendEvents(_ context.Context, events []meta.Event) (*meta.Response, error) {
	f.calls++
	f.got = events
	return f.resp, f.err
}

func TestSender_Success(t *testing.T) {
	fc := &fakeClient{resp: &meta.Response{EventsReceived: 1, FBTraceID: "tr"}}
	s := NewSender(fc, resilience.DefaultCircuitBreakerConfig())

	resp, err := s.Send(context.Background(), meta.Event{EventID: "L1_Lead"})
	require.NoError(t, err)
	assert.Equal(t, "tr", resp.FBTraceID)
	assert.Equal(t, 1, fc.calls)
	require.Len(t, fc.got, 1)
	assert.Equal(t, "L1_Lead", fc.got[0].EventID)
}

func TestSender_NoRetryOnFailure(t *testing.T) {
	fc := &fakeClient{err: resilience.NewTransientError(errors.New("503"), 503)}
	s := NewSender(fc, resilience.DefaultCircuitBreakerConfig())

	_, err := s.Send(context.Background(), meta.Event{EventID: "L1_Lead"})
	require.Error(t, err)
	assert.Equal(t, 1, fc.calls)
}

func TestSender_ZeroReceivedIsError(t *testing.T) {
	fc := &fakeClient{resp: &meta.Response{EventsReceived: 0}}
	s := NewSender(fc, resilience.DefaultCircuitBreakerConfig())

	_, err := s.Send(context.Background(), meta.Event{EventID: "L1_Lead"})
	assert.ErrorIs(t, err, ErrNotAcknowledged)
}

func TestSender_CircuitOpensOnTransientFailures(t *testing.T) {
	fc := &fakeClient{err: resilience.NewTransientError(errors.New("503"), 503)}
	s := NewSender(fc, resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		_, _ = s.Send(context.Background(), meta.Event{EventID: "x"})
	}
	assert.Equal(t, resilience.CircuitOpen, s.CircuitState())

	_, err := s.Send(context.Background(), meta.Event{EventID: "x"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, fc.calls, "open circuit fails fast")
}

func TestSender_PermanentFailuresKeepCircuitClosed(t *testing.T) {
	fc := &fakeClient{err: &meta.APIError{StatusCode: 400, Message: "Invalid parameter"}}
	s := NewSender(fc, resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := s.Send(context.Background(), meta.Event{EventID: "x"})
		var apiErr *meta.APIError
		assert.True(t, errors.As(err, &apiErr))
	}
	assert.Equal(t, resilience.CircuitClosed, s.CircuitState())
	assert.Equal(t, 3, fc.calls)
}

func TestSender_WithMetaClient(t *testing.T) {
	var body struct {
		Data []meta.Event `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v24.0/PIXEL/events", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"events_received":1,"messages":[],"fbtrace_id":"abc"}`))
	}))
	defer srv.Close()

	client := meta.NewClient("PIXEL", "tok", meta.WithBaseURL(srv.URL))
	s := NewSender(client, resilience.DefaultCircuitBreakerConfig())
	lead := &model.Lead{IdentityID: "WEB-1", Lineage: model.LineageSynthetic, Email: "ana@mail.com"}

	resp, err := s.Send(context.Background(), testBuilder().Build(lead, stage(t, "NOVOS"), now))
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.FBTraceID)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "WEB-1_Lead", body.Data[0].EventID)
	assert.Equal(t, "website", body.Data[0].ActionSource)
}
