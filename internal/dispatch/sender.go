package dispatch

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/resilience"
	"github.com/sells-group/leadsync/pkg/meta"
)

// ErrNotAcknowledged is returned when the sink accepts the request but
// reports no received events.
var ErrNotAcknowledged = eris.New("dispatch: event not acknowledged")

// Sender delivers one event per call. It never retries: the CRM redelivers
// a webhook that fails, and the watermark stays unwritten until a send
// succeeds.
type Sender struct {
	client  meta.Client
	breaker *resilience.CircuitBreaker
}

// NewSender wraps client with a circuit breaker. Only transient failures
// count toward opening it.
func NewSender(client meta.Client, cbCfg resilience.CircuitBreakerConfig) *Sender {
	if cbCfg.ShouldTrip == nil {
		cbCfg.ShouldTrip = resilience.IsTransient
	}
	if cbCfg.OnStateChange == nil {
		cbCfg.OnStateChange = resilience.StateLogger("meta")
	}
	return &Sender{client: client, breaker: resilience.NewCircuitBreaker(cbCfg)}
}

// Send posts event and returns the sink acknowledgement.
func (s *Sender) Send(ctx context.Context, event meta.Event) (*meta.Response, error) {
	resp, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*meta.Response, error) {
		return s.client.SendEvents(ctx, []meta.Event{event})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: send %s", event.EventID)
	}
	if resp == nil || resp.EventsReceived < 1 {
		return nil, eris.Wrapf(ErrNotAcknowledged, "dispatch: send %s", event.EventID)
	}

	zap.L().Debug("dispatch: event acknowledged",
		zap.String("event_id", event.EventID),
		zap.String("fbtrace_id", resp.FBTraceID),
	)
	return resp, nil
}

// CircuitState reports the sink circuit state for health checks.
func (s *Sender) CircuitState() resilience.CircuitState {
	return s.breaker.State()
}
