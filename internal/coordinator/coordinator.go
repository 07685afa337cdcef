/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package coordinator polls the refresh service on a fixed interval and owns
// the snapshot served to hosts between refreshes.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/cache"
	"github.com/friendsincode/loadshed/internal/events"
	"github.com/friendsincode/loadshed/internal/loadshedding"
	"github.com/friendsincode/loadshed/internal/telemetry"
)

// Poll interval bounds.
const (
	DefaultInterval = 900 * time.Second
	MinInterval     = 300 * time.Second
)

// Refresher produces a fresh snapshot; *loadshedding.Service implements it.
type Refresher interface {
	Refresh(ctx context.Context) (loadshedding.Snapshot, error)
	Area() string
}

// SnapshotStore persists the last good snapshot; *cache.Cache implements it.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, area string) (*cache.CachedSnapshot, bool)
	SetSnapshot(ctx context.Context, snapshot *cache.CachedSnapshot) error
}

// State is the snapshot as served to hosts.
type State struct {
	loadshedding.Snapshot
	Area              string    `json:"area"`
	LastUpdateSuccess bool      `json:"last_update_success"`
	UpdatedAt         time.Time `json:"updated_at"` // time of the snapshot's refresh
	LastAttemptAt     time.Time `json:"last_attempt_at"`
	Stale             bool      `json:"stale"`
	Error             string    `json:"error,omitempty"`
}

// Config configures a Coordinator. Only Refresher is required.
type Config struct {
	Interval  time.Duration
	Publisher events.Publisher
	Store     SnapshotStore
}

// Coordinator runs refreshes one at a time and keeps the last good snapshot.
type Coordinator struct {
	refresher Refresher
	publisher events.Publisher
	store     SnapshotStore
	area      string
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	refreshMu sync.Mutex // held for the duration of a refresh

	mu      sync.RWMutex
	state   State
	hasData bool
}

// New creates a coordinator. Intervals below MinInterval are raised to it.
func New(refresher Refresher, cfg Config, logger zerolog.Logger) *Coordinator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		logger.Warn().Dur("requested", interval).Dur("minimum", MinInterval).Msg("scan period below minimum, clamping")
		interval = MinInterval
	}

	area := refresher.Area()
	return &Coordinator{
		refresher: refresher,
		publisher: cfg.Publisher,
		store:     cfg.Store,
		area:      area,
		interval:  interval,
		logger:    logger.With().Str("component", "coordinator").Str("area", area).Logger(),
		now:       time.Now,
		state:     State{Area: area},
	}
}

// Interval returns the effective poll interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Snapshot returns the current state and whether any snapshot, fresh or
// restored, is available.
func (c *Coordinator) Snapshot() (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.hasData
}

// Run refreshes immediately and then on every interval until ctx is done.
// Failed refreshes are logged and retried on the next tick.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", c.interval).Msg("coordinator loop started")
	c.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("coordinator loop stopped")
			return ctx.Err()
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	if _, err := c.RefreshNow(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error().Err(err).Msg("refresh failed")
	}
}

// RefreshNow runs one refresh, waiting for any refresh already in flight.
// On failure the previous snapshot is kept and marked stale.
func (c *Coordinator) RefreshNow(ctx context.Context) (State, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	attemptAt := c.now()
	snapshot, err := c.refresher.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return c.current(), err
		}
		state := c.recordFailure(attemptAt, err)
		c.publish(events.EventRefreshFailed, events.Payload{
			"area":  c.area,
			"error": err.Error(),
			"stale": state.Stale,
		})
		return state, err
	}

	previous, hadData := c.Snapshot()
	state := c.recordSuccess(attemptAt, snapshot)
	c.persist(ctx, state)
	c.announce(previous, hadData, state)
	return state, nil
}

func (c *Coordinator) current() State {
	state, _ := c.Snapshot()
	return state
}

func (c *Coordinator) recordSuccess(at time.Time, snapshot loadshedding.Snapshot) State {
	c.mu.Lock()
	c.state = State{
		Snapshot:          snapshot,
		Area:              c.area,
		LastUpdateSuccess: true,
		UpdatedAt:         at,
		LastAttemptAt:     at,
	}
	c.hasData = true
	state := c.state
	c.mu.Unlock()

	telemetry.SnapshotStale.WithLabelValues(c.area).Set(0)
	telemetry.LastSuccessTimestamp.WithLabelValues(c.area).Set(float64(at.Unix()))
	return state
}

func (c *Coordinator) recordFailure(at time.Time, err error) State {
	c.mu.Lock()
	c.state.LastUpdateSuccess = false
	c.state.LastAttemptAt = at
	c.state.Error = err.Error()
	c.state.Stale = c.hasData
	state := c.state
	c.mu.Unlock()

	telemetry.SnapshotStale.WithLabelValues(c.area).Set(1)
	return state
}

// Restore loads the stored snapshot when this instance has none of its own
// newer than it. It reports whether the state changed.
func (c *Coordinator) Restore(ctx context.Context) bool {
	if c.store == nil {
		return false
	}
	cached, ok := c.store.GetSnapshot(ctx, c.area)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasData && !cached.UpdatedAt.After(c.state.UpdatedAt) {
		return false
	}

	c.state = State{
		Snapshot: loadshedding.Snapshot{
			Stage:    cached.Stage,
			Current:  cached.Current,
			Next:     cached.Next,
			Upcoming: cached.Upcoming,
		},
		Area:              c.area,
		LastUpdateSuccess: true,
		UpdatedAt:         cached.UpdatedAt,
		Stale:             c.now().Sub(cached.UpdatedAt) > c.interval,
	}
	c.hasData = true
	c.logger.Info().Time("updated_at", cached.UpdatedAt).Msg("restored snapshot from store")
	return true
}

func (c *Coordinator) persist(ctx context.Context, state State) {
	if c.store == nil {
		return
	}
	err := c.store.SetSnapshot(ctx, &cache.CachedSnapshot{
		Area:      c.area,
		Stage:     state.Stage,
		Current:   state.Current,
		Next:      state.Next,
		Upcoming:  state.Upcoming,
		UpdatedAt: state.UpdatedAt,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn().Err(err).Msg("failed to store snapshot")
	}
}

func (c *Coordinator) announce(previous State, hadData bool, state State) {
	c.publish(events.EventSnapshotUpdated, snapshotPayload(state))

	if !hadData {
		return
	}
	if previous.Stage != state.Stage {
		c.logger.Info().Int("from", previous.Stage).Int("to", state.Stage).Msg("stage changed")
		c.publish(events.EventStageChanged, events.Payload{
			"area":           c.area,
			"previous_stage": previous.Stage,
			"stage":          state.Stage,
		})
	}
	if previous.Current != state.Current || previous.Next != state.Next {
		c.publish(events.EventSlotChanged, snapshotPayload(state))
	}
}

func (c *Coordinator) publish(eventType events.EventType, payload events.Payload) {
	if c.publisher != nil {
		c.publisher.Publish(eventType, payload)
	}
}

func snapshotPayload(state State) events.Payload {
	return events.Payload{
		"area":       state.Area,
		"stage":      state.Stage,
		"current":    state.Current,
		"next":       state.Next,
		"upcoming":   state.Upcoming,
		"updated_at": state.UpdatedAt.Format(time.RFC3339),
	}
}
