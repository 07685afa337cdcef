/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/events"
)

// DefaultFollowInterval is how often a follower reloads the leader's snapshot.
const DefaultFollowInterval = 30 * time.Second

// Elector is the subset of *leadership.Election the wrapper needs.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAware polls only while this instance holds leadership. Followers
// serve the snapshot the leader stored.
type LeaderAware struct {
	coordinator    *Coordinator
	election       Elector
	publisher      events.Publisher
	logger         zerolog.Logger
	followInterval time.Duration

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
	polling    bool
}

// NewLeaderAware wraps coordinator with election.
func NewLeaderAware(coordinator *Coordinator, election Elector, publisher events.Publisher, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		coordinator:    coordinator,
		election:       election,
		publisher:      publisher,
		logger:         logger.With().Str("component", "leader_aware_coordinator").Logger(),
		followInterval: DefaultFollowInterval,
	}
}

// SetFollowInterval changes how often a follower reloads the stored snapshot.
func (la *LeaderAware) SetFollowInterval(d time.Duration) {
	if d > 0 {
		la.followInterval = d
	}
}

// Run campaigns for leadership and switches between polling and following
// until ctx is done. The election is stopped on return.
func (la *LeaderAware) Run(ctx context.Context) error {
	if err := la.election.Start(ctx); err != nil {
		return err
	}
	defer func() {
		la.stopPolling()
		if err := la.election.Stop(); err != nil {
			la.logger.Error().Err(err).Msg("failed to stop leader election")
		}
	}()

	la.logger.Info().Msg("starting leader-aware coordinator")
	if la.election.IsLeader() {
		la.startPolling(ctx)
	}

	follow := time.NewTicker(la.followInterval)
	defer follow.Stop()
	la.coordinator.Restore(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case isLeader := <-la.election.LeaderCh():
			if isLeader {
				la.logger.Info().Msg("became leader, starting refresh loop")
				la.publish(events.EventLeadershipAcquired)
				la.startPolling(ctx)
			} else {
				la.logger.Warn().Msg("lost leadership, stopping refresh loop")
				la.publish(events.EventLeadershipLost)
				la.stopPolling()
			}
		case <-follow.C:
			if !la.IsPolling() {
				la.coordinator.Restore(ctx)
			}
		}
	}
}

// IsPolling reports whether this instance is running the refresh loop.
func (la *LeaderAware) IsPolling() bool {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.polling
}

func (la *LeaderAware) startPolling(ctx context.Context) {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.polling {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	la.cancelFunc = cancel
	la.done = done
	la.polling = true

	go func() {
		defer close(done)
		if err := la.coordinator.Run(pollCtx); err != nil && err != context.Canceled {
			la.logger.Error().Err(err).Msg("coordinator error")
		}
	}()
}

func (la *LeaderAware) stopPolling() {
	la.mu.Lock()
	cancel, done := la.cancelFunc, la.done
	la.cancelFunc, la.done = nil, nil
	la.polling = false
	la.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (la *LeaderAware) publish(eventType events.EventType) {
	if la.publisher != nil {
		la.publisher.Publish(eventType, events.Payload{"area": la.coordinator.area})
	}
}
