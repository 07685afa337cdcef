/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects one poller among several instances sharing a
// Redis server, so the public feeds are fetched once per scan period.
package leadership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/telemetry"
)

const (
	defaultElectionKey = "loadshed:leader:poller"

	// Leader must renew before the lease expires.
	defaultLeaseDuration   = 15 * time.Second
	defaultRenewalInterval = 5 * time.Second
)

// releaseScript deletes the lock only when it is still ours.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// ElectionConfig configures leader election behavior.
type ElectionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ElectionKey is the Redis key holding the leader's instance ID.
	ElectionKey string

	LeaseDuration   time.Duration
	RenewalInterval time.Duration

	// InstanceID uniquely identifies this instance; a UUID when empty.
	InstanceID string
}

// DefaultConfig returns default election configuration.
func DefaultConfig() ElectionConfig {
	return ElectionConfig{
		RedisAddr:       "localhost:6379",
		ElectionKey:     defaultElectionKey,
		LeaseDuration:   defaultLeaseDuration,
		RenewalInterval: defaultRenewalInterval,
		InstanceID:      uuid.NewString(),
	}
}

// Election manages distributed leader election using Redis.
type Election struct {
	client     *redis.Client
	logger     zerolog.Logger
	config     ElectionConfig
	instanceID string

	mu         sync.RWMutex
	isLeader   bool
	cancelFunc context.CancelFunc
	done       chan struct{}
	leaderCh   chan bool
}

// NewElection connects to Redis and returns an election that has not
// started campaigning.
func NewElection(config ElectionConfig, logger zerolog.Logger) (*Election, error) {
	if config.ElectionKey == "" {
		config.ElectionKey = defaultElectionKey
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaultLeaseDuration
	}
	if config.RenewalInterval <= 0 {
		config.RenewalInterval = defaultRenewalInterval
	}
	if config.RenewalInterval >= config.LeaseDuration {
		return nil, fmt.Errorf("renewal interval %s must be shorter than lease %s", config.RenewalInterval, config.LeaseDuration)
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to Redis for leader election: %w", err)
	}

	logger.Info().
		Str("redis_addr", config.RedisAddr).
		Str("instance_id", config.InstanceID).
		Msg("connected to Redis for leader election")

	return &Election{
		client:     client,
		logger:     logger.With().Str("component", "leader_election").Logger(),
		config:     config,
		instanceID: config.InstanceID,
		leaderCh:   make(chan bool, 1),
	}, nil
}

// InstanceID returns this instance's identifier.
func (e *Election) InstanceID() string {
	return e.instanceID
}

// Start campaigns immediately and then on every renewal interval.
func (e *Election) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cancelFunc != nil {
		e.mu.Unlock()
		return fmt.Errorf("leader election already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	e.logger.Info().
		Str("instance_id", e.instanceID).
		Dur("lease_duration", e.config.LeaseDuration).
		Msg("starting leader election")

	go e.campaignLoop(ctx)
	return nil
}

// Stop ends the campaign, releases the lock if held and closes the client.
func (e *Election) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancelFunc, e.done
	e.cancelFunc = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if e.IsLeader() {
		ctx, cancelRelease := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelRelease()
		if err := e.client.Eval(ctx, releaseScript, []string{e.config.ElectionKey}, e.instanceID).Err(); err != nil {
			e.logger.Error().Err(err).Msg("failed to release leadership lock")
		} else {
			e.logger.Info().Msg("released leadership lock")
		}
		e.updateLeadershipStatus(false)
	}

	return e.client.Close()
}

// IsLeader returns whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// LeaderCh receives leadership changes. Sends never block; a slow reader
// may miss intermediate flips and should consult IsLeader.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// GetLeader returns the current leader instance ID, empty when none.
func (e *Election) GetLeader(ctx context.Context) (string, error) {
	leaderID, err := e.client.Get(ctx, e.config.ElectionKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return leaderID, nil
}

func (e *Election) campaignLoop(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.config.RenewalInterval)
	defer ticker.Stop()

	e.attemptLeadership(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.attemptLeadership(ctx)
		}
	}
}

func (e *Election) attemptLeadership(ctx context.Context) {
	acquired, err := e.acquireLock(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Error().Err(err).Msg("failed to acquire leadership lock")
		e.updateLeadershipStatus(false)
		return
	}

	wasLeader := e.IsLeader()
	switch {
	case acquired && !wasLeader:
		e.logger.Info().Str("instance_id", e.instanceID).Msg("acquired leadership")
	case !acquired && wasLeader:
		e.logger.Warn().Str("instance_id", e.instanceID).Msg("lost leadership")
	}
	e.updateLeadershipStatus(acquired)
}

// acquireLock takes the lock with SET NX or renews it when already ours.
func (e *Election) acquireLock(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.config.ElectionKey, e.instanceID, e.config.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("set lock: %w", err)
	}
	if ok {
		return true, nil
	}

	current, err := e.client.Get(ctx, e.config.ElectionKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get current leader: %w", err)
	}
	if current != e.instanceID {
		return false, nil
	}

	if err := e.client.Expire(ctx, e.config.ElectionKey, e.config.LeaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	return true, nil
}

func (e *Election) updateLeadershipStatus(isLeader bool) {
	e.mu.Lock()
	if e.isLeader == isLeader {
		e.mu.Unlock()
		return
	}
	e.isLeader = isLeader
	e.mu.Unlock()

	if isLeader {
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(1)
		telemetry.LeaderElectionChanges.WithLabelValues(e.instanceID, "acquired").Inc()
	} else {
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(0)
		telemetry.LeaderElectionChanges.WithLabelValues(e.instanceID, "lost").Inc()
	}

	// Replace a stale unread value with the latest state.
	select {
	case <-e.leaderCh:
	default:
	}
	select {
	case e.leaderCh <- isLeader:
	default:
	}
}
