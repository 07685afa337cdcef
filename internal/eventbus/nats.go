/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/events"
	"github.com/friendsincode/loadshed/internal/telemetry"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	SubjectPrefix string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "loadshed.events",
		MaxReconnects: -1, // unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus publishes events to NATS subjects "<prefix>.<event_type>".
type NATSBus struct {
	conn   *nats.Conn
	logger zerolog.Logger
	local  *events.Bus
	nodeID string
	prefix string

	mu     sync.Mutex
	remote map[events.EventType]*nats.Subscription
}

// NewNATSBus connects to NATS. When the server is unreachable the bus runs
// in-memory only and the error is logged, not returned.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	defaults := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaults.SubjectPrefix
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = defaults.ReconnectWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	nb := &NATSBus{
		logger: logger.With().Str("component", "nats_bus").Logger(),
		local:  events.NewBus(),
		nodeID: nodeID,
		prefix: cfg.SubjectPrefix,
		remote: make(map[events.EventType]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.Name("loadshed-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			nb.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS connection failed, using in-memory event bus")
		return nb, nil
	}
	nb.conn = conn

	nb.logger.Info().Str("url", conn.ConnectedUrl()).Str("prefix", nb.prefix).Msg("NATS event bus initialized")
	return nb, nil
}

// Connected reports whether events leave the process.
func (nb *NATSBus) Connected() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

func (nb *NATSBus) subject(eventType events.EventType) string {
	return nb.prefix + "." + string(eventType)
}

// Subscribe registers a local subscriber. Events published by other nodes
// are delivered to it too.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := nb.local.Subscribe(eventType)
	if nb.conn == nil {
		return sub
	}

	nb.mu.Lock()
	defer nb.mu.Unlock()
	if _, exists := nb.remote[eventType]; exists {
		return sub
	}

	remote, err := nb.conn.Subscribe(nb.subject(eventType), func(m *nats.Msg) {
		msg, err := unmarshalMessage(m.Data)
		if err != nil {
			nb.logger.Error().Err(err).Str("subject", m.Subject).Msg("failed to decode NATS message")
			return
		}
		if msg.NodeID == nb.nodeID {
			return
		}
		nb.local.Publish(msg.EventType, msg.Payload)
	})
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("NATS subscribe failed")
		return sub
	}
	nb.remote[eventType] = remote
	return sub
}

// Publish delivers payload locally and, when connected, to NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)
	telemetry.EventsPublishedTotal.WithLabelValues(string(eventType), "local").Inc()

	if nb.conn == nil {
		return
	}

	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal NATS message")
		return
	}
	if err := nb.conn.Publish(nb.subject(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
		return
	}
	telemetry.EventsPublishedTotal.WithLabelValues(string(eventType), "nats").Inc()
}

// Unsubscribe removes a local subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Close drains the NATS connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	nb.logger.Info().Msg("closing NATS event bus")
	return nb.conn.Drain()
}
