/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/events"
	"github.com/friendsincode/loadshed/internal/telemetry"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 10 * time.Second

// EventTest is sent by SendTest.
const EventTest = "test"

const userAgent = "Loadshed-Webhook/1.0"

// DefaultEvents are forwarded when a target names none.
var DefaultEvents = []events.EventType{
	events.EventStageChanged,
	events.EventSlotChanged,
	events.EventRefreshFailed,
}

// Target is one webhook endpoint.
type Target struct {
	URL    string
	Secret string
	Events []events.EventType
}

func (t Target) handles(eventType events.EventType) bool {
	list := t.Events
	if len(list) == 0 {
		list = DefaultEvents
	}
	for _, e := range list {
		if e == eventType {
			return true
		}
	}
	return false
}

// Payload is the JSON body posted to webhook endpoints.
type Payload struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Area      string         `json:"area,omitempty"`
	Data      events.Payload `json:"data,omitempty"`
}

// Subscriber is the part of an event bus the service listens on.
type Subscriber interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// Config configures webhook delivery.
type Config struct {
	Targets []Target
	Timeout time.Duration
	// Gate, when set, must return true for events to be delivered. Instances
	// that are not polling receive remote events but must not forward them.
	Gate func() bool
}

// Service forwards loadshedding events to webhook endpoints.
type Service struct {
	bus     Subscriber
	targets []Target
	gate    func() bool
	client  *http.Client
	logger  zerolog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewService creates a new webhook service.
func NewService(bus Subscriber, cfg Config, logger zerolog.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		bus:     bus,
		targets: cfg.Targets,
		gate:    cfg.Gate,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "webhooks").Logger(),
		now:     time.Now,
	}
}

// Start listens for events until ctx is done, then waits for in-flight
// deliveries.
func (s *Service) Start(ctx context.Context) {
	types := s.eventTypes()
	if len(types) == 0 {
		return
	}

	s.logger.Info().Int("targets", len(s.targets)).Msg("webhook service started")

	var listeners sync.WaitGroup
	for _, eventType := range types {
		sub := s.bus.Subscribe(eventType)
		listeners.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer listeners.Done()
			defer s.bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					s.handleEvent(ctx, eventType, payload)
				}
			}
		}(eventType, sub)
	}

	listeners.Wait()
	s.wg.Wait()
	s.logger.Info().Msg("webhook service stopped")
}

// eventTypes is the union of the event types any target handles.
func (s *Service) eventTypes() []events.EventType {
	seen := make(map[events.EventType]bool)
	var out []events.EventType
	for _, target := range s.targets {
		list := target.Events
		if len(list) == 0 {
			list = DefaultEvents
		}
		for _, e := range list {
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	return out
}

func (s *Service) handleEvent(ctx context.Context, eventType events.EventType, data events.Payload) {
	if s.gate != nil && !s.gate() {
		return
	}

	payload := s.newPayload(string(eventType), data)
	for _, target := range s.targets {
		if !target.handles(eventType) {
			continue
		}
		s.wg.Add(1)
		go func(target Target) {
			defer s.wg.Done()
			if err := s.Deliver(ctx, target, payload); err != nil {
				s.logger.Warn().Err(err).Str("url", target.URL).Str("event", payload.Event).Msg("webhook delivery failed")
			}
		}(target)
	}
}

func (s *Service) newPayload(event string, data events.Payload) Payload {
	area, _ := data["area"].(string)
	return Payload{
		ID:        uuid.NewString(),
		Event:     event,
		Timestamp: s.now().UTC(),
		Area:      area,
		Data:      data,
	}
}

// Deliver posts payload to target. Non-2xx responses are errors.
func (s *Service) Deliver(ctx context.Context, target Target, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		telemetry.WebhookDeliveriesTotal.WithLabelValues(payload.Event, "failed").Inc()
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		telemetry.WebhookDeliveriesTotal.WithLabelValues(payload.Event, "failed").Inc()
		return fmt.Errorf("create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Loadshed-Event", payload.Event)
	req.Header.Set("X-Loadshed-Delivery", payload.ID)
	req.Header.Set("X-Loadshed-Timestamp", fmt.Sprintf("%d", payload.Timestamp.Unix()))
	if target.Secret != "" {
		req.Header.Set("X-Loadshed-Signature", Sign(body, target.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		telemetry.WebhookDeliveriesTotal.WithLabelValues(payload.Event, "failed").Inc()
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		telemetry.WebhookDeliveriesTotal.WithLabelValues(payload.Event, "rejected").Inc()
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	telemetry.WebhookDeliveriesTotal.WithLabelValues(payload.Event, "delivered").Inc()
	s.logger.Debug().Str("url", target.URL).Str("event", payload.Event).Int("status", resp.StatusCode).Msg("webhook delivered")
	return nil
}

// SendTest posts a test payload to target.
func (s *Service) SendTest(ctx context.Context, target Target, area string) error {
	return s.Deliver(ctx, target, s.newPayload(EventTest, events.Payload{
		"area":    area,
		"message": "This is a test webhook delivery",
	}))
}

// Sign returns the HMAC-SHA256 signature header value for body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// TargetsFromConfig builds one target per URL sharing secret and event list.
func TargetsFromConfig(urls []string, secret string, eventNames []string) []Target {
	eventTypes := make([]events.EventType, 0, len(eventNames))
	for _, name := range eventNames {
		eventTypes = append(eventTypes, events.EventType(name))
	}
	targets := make([]Target, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, Target{URL: u, Secret: secret, Events: eventTypes})
	}
	return targets
}
