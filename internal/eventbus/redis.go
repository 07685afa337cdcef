/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/events"
	"github.com/friendsincode/loadshed/internal/telemetry"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures int
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		ChannelPrefix: "loadshed.events",
		DialTimeout:   5 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
	}
}

// RedisBus publishes events over Redis pub/sub channels
// "<prefix>.<event_type>". After MaxFailures consecutive publish errors it
// stops talking to Redis and delivers locally only.
type RedisBus struct {
	client *redis.Client
	logger zerolog.Logger
	local  *events.Bus
	nodeID string
	prefix string

	mu          sync.Mutex
	channels    map[events.EventType]*redis.PubSub
	useFallback bool
	failCount   int
	maxFails    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus creates a Redis-backed event bus. An unreachable server
// yields an in-memory bus, not an error.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	defaults := DefaultRedisConfig()
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = defaults.ChannelPrefix
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaults.MaxFailures
	}

	ctx, cancel := context.WithCancel(context.Background())
	rb := &RedisBus{
		logger:   logger.With().Str("component", "redis_bus").Logger(),
		local:    events.NewBus(),
		nodeID:   nodeID,
		prefix:   cfg.ChannelPrefix,
		channels: make(map[events.EventType]*redis.PubSub),
		maxFails: cfg.MaxFailures,
		ctx:      ctx,
		cancel:   cancel,
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis connection failed, using in-memory event bus")
		_ = client.Close()
		rb.useFallback = true
		return rb, nil
	}

	rb.client = client
	rb.logger.Info().Str("addr", cfg.Addr).Msg("Redis event bus initialized")
	return rb, nil
}

func (rb *RedisBus) channel(eventType events.EventType) string {
	return rb.prefix + "." + string(eventType)
}

// Subscribe registers a local subscriber. Events published by other nodes
// are delivered to it too.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := rb.local.Subscribe(eventType)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.useFallback {
		return sub
	}
	if _, exists := rb.channels[eventType]; !exists {
		pubsub := rb.client.Subscribe(rb.ctx, rb.channel(eventType))
		rb.channels[eventType] = pubsub

		rb.wg.Add(1)
		go rb.receiveMessages(eventType, pubsub)
	}
	return sub
}

func (rb *RedisBus) receiveMessages(eventType events.EventType, pubsub *redis.PubSub) {
	defer rb.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Str("event_type", string(eventType)).Msg("Redis channel closed")
				return
			}

			decoded, err := unmarshalMessage([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Msg("failed to decode Redis message")
				continue
			}
			if decoded.NodeID == rb.nodeID {
				continue
			}
			rb.local.Publish(decoded.EventType, decoded.Payload)
		}
	}
}

// Publish delivers payload locally and, unless the breaker is open, to Redis.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)
	telemetry.EventsPublishedTotal.WithLabelValues(string(eventType), "local").Inc()

	rb.mu.Lock()
	fallback := rb.useFallback
	rb.mu.Unlock()
	if fallback {
		return
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal Redis message")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, rb.channel(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
	telemetry.EventsPublishedTotal.WithLabelValues(string(eventType), "redis").Inc()
}

// Unsubscribe removes a local subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Close stops receivers and closes the Redis client.
func (rb *RedisBus) Close() error {
	rb.cancel()

	rb.mu.Lock()
	for eventType, pubsub := range rb.channels {
		_ = pubsub.Close()
		delete(rb.channels, eventType)
	}
	rb.mu.Unlock()
	rb.wg.Wait()

	if rb.client != nil {
		return rb.client.Close()
	}
	return nil
}

func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.useFallback {
		rb.logger.Warn().Int("fail_count", rb.failCount).Msg("Redis failure threshold reached, switching to in-memory delivery")
		rb.useFallback = true
	}
}
