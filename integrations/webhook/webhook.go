package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"rankkit/core"
)

const (
	HeaderEvent   = "X-Rankkit-Event"
	HeaderEventID = "X-Rankkit-Event-Id"
)

// Sink posts domain events to configured HTTP endpoints.
// It is synchronous for determinism; register it on an async event bus to keep
// it off the request path.
type Sink struct {
	client    *http.Client
	endpoints []string
	types     map[core.EventType]bool
	log       *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTimeout sets the timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.client = &http.Client{Timeout: d}
		}
	}
}

// WithEventTypes restricts delivery to the given event types.
func WithEventTypes(types ...core.EventType) Option {
	return func(s *Sink) {
		for _, t := range types {
			s.types[t] = true
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		types:  map[core.EventType]bool{},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Handle posts the event JSON to all endpoints. Delivery failures are logged
// and do not stop delivery to the remaining endpoints.
func (s *Sink) Handle(ctx context.Context, e core.Event) {
	if len(s.endpoints) == 0 {
		return
	}
	if len(s.types) > 0 && !s.types[e.Type] {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		s.log.Error("webhook encode failed", "event_id", e.ID, "error", err)
		return
	}
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, e, body); err != nil {
			s.log.Warn("webhook delivery failed", "endpoint", ep, "event_id", e.ID, "type", e.Type, "error", err)
		}
	}
}

// OnEvent makes the sink usable as an analytics hook.
func (s *Sink) OnEvent(e core.Event) { s.Handle(context.Background(), e) }

func (s *Sink) post(ctx context.Context, endpoint string, e core.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(e.Type))
	req.Header.Set(HeaderEventID, e.ID)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
