// Package meta sends server-side conversion events to the Meta Conversions API.
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v24.0"
)

// Client sends events to a single pixel.
type Client interface {
	SendEvents(ctx context.Context, events []Event) (*Response, error)
}

// Event is one server event. Only the fields this service produces are modelled.
type Event struct {
	EventName    string         `json:"event_name"`
	EventTime    int64          `json:"event_time"`
	EventID      string         `json:"event_id"`
	ActionSource string         `json:"action_source"`
	UserData     UserData       `json:"user_data"`
	CustomData   map[string]any `json:"custom_data,omitempty"`
}

// UserData carries hashed identifiers plus the plaintext fields the API
// requires unhashed (click cookies, client IP and user agent).
type UserData struct {
	Email           []string `json:"em,omitempty"`
	Phone           []string `json:"ph,omitempty"`
	FirstName       []string `json:"fn,omitempty"`
	LastName        []string `json:"ln,omitempty"`
	City            []string `json:"ct,omitempty"`
	State           []string `json:"st,omitempty"`
	ZipCode         []string `json:"zp,omitempty"`
	BirthDate       []string `json:"db,omitempty"`
	ExternalID      []string `json:"external_id,omitempty"`
	FBC             string   `json:"fbc,omitempty"`
	FBP             string   `json:"fbp,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	LeadID          string   `json:"lead_id,omitempty"`
}

// Response is the acknowledgement returned for an accepted batch.
type Response struct {
	EventsReceived int      `json:"events_received"`
	Messages       []string `json:"messages"`
	FBTraceID      string   `json:"fbtrace_id"`
}

// APIError is the error envelope returned on rejected requests.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	FBTraceID  string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meta: api error %d (%s, code %d): %s", e.StatusCode, e.Type, e.Code, e.Message)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the Graph API host.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithAPIVersion overrides the Graph API version segment.
func WithAPIVersion(v string) Option {
	return func(c *httpClient) {
		if v != "" {
			c.apiVersion = v
		}
	}
}

// WithTestEventCode routes events to the Events Manager test tool.
func WithTestEventCode(code string) Option {
	return func(c *httpClient) {
		c.testEventCode = code
	}
}

// WithTimeout sets the per-request timeout on the client's http.Client,
// keeping its transport.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	pixelID       string
	accessToken   string
	baseURL       string
	apiVersion    string
	testEventCode string
	http          *http.Client
	limiter       *rate.Limiter
}

// NewClient creates a Conversions API client for pixelID.
func NewClient(pixelID, accessToken string, opts ...Option) Client {
	c := &httpClient{
		pixelID:     pixelID,
		accessToken: accessToken,
		baseURL:     defaultBaseURL,
		apiVersion:  defaultAPIVersion,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type eventsRequest struct {
	Data          []Event `json:"data"`
	TestEventCode string  `json:"test_event_code,omitempty"`
}

func (c *httpClient) endpoint() string {
	q := url.Values{}
	q.Set("access_token", c.accessToken)
	return fmt.Sprintf("%s/%s/%s/events?%s", c.baseURL, c.apiVersion, url.PathEscape(c.pixelID), q.Encode())
}

func (c *httpClient) SendEvents(ctx context.Context, events []Event) (*Response, error) {
	if len(events) == 0 {
		return nil, eris.New("meta: no events to send")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "meta: rate limit")
		}
	}

	body, err := json.Marshal(eventsRequest{Data: events, TestEventCode: c.testEventCode})
	if err != nil {
		return nil, eris.Wrap(err, "meta: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "meta: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "meta: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "meta: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if jsonErr := json.Unmarshal(respBody, &envelope); jsonErr != nil || envelope.Error.Message == "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}
		envelope.Error.StatusCode = resp.StatusCode
		return nil, &envelope.Error
	}

	var result Response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "meta: unmarshal response")
	}
	if result.EventsReceived < len(events) {
		return &result, eris.Errorf("meta: %d of %d events received: %v", result.EventsReceived, len(events), result.Messages)
	}
	return &result, nil
}
