/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package loadshedding

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/feed"
	"github.com/friendsincode/loadshed/internal/schedule"
	"github.com/friendsincode/loadshed/internal/telemetry"
)

// SanityPolicy bounds the stage retry loop. An attempt is retried while the
// feed answers with no positive stage for the area; transport retries happen
// inside the feed client and are configured separately.
type SanityPolicy struct {
	MaxAttempts int
	Delay       time.Duration // pause between attempts, 0 retries immediately
}

// DefaultSanityPolicy matches the public feed behavior: five attempts, no pause.
func DefaultSanityPolicy() SanityPolicy {
	return SanityPolicy{MaxAttempts: 5}
}

// StageExtractor determines the active stage from the change-list feed.
type StageExtractor struct {
	fetcher  feed.Fetcher
	url      string
	tag      string
	location *time.Location
	policy   SanityPolicy
	logger   zerolog.Logger
}

// NewStageExtractor creates an extractor reading url and matching records
// tagged with tag. Zoned feed timestamps are converted to loc.
func NewStageExtractor(fetcher feed.Fetcher, url, tag string, loc *time.Location, policy SanityPolicy, logger zerolog.Logger) *StageExtractor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = DefaultSanityPolicy().MaxAttempts
	}
	if tag == "" {
		tag = schedule.DefaultMunicipalityTag
	}
	if loc == nil {
		loc = time.UTC
	}
	return &StageExtractor{
		fetcher:  fetcher,
		url:      url,
		tag:      tag,
		location: loc,
		policy:   policy,
		logger:   logger.With().Str("component", "stage_extractor").Logger(),
	}
}

// Extract returns the stage in force at ref, a naive wall clock instant.
//
// A positive stage is returned as soon as one attempt yields it. A parse
// error ends the loop immediately. Fetch failures count as attempts without
// a response. When at least one attempt got a response the result is 0,
// otherwise an AttemptsExhaustedError is returned.
func (e *StageExtractor) Extract(ctx context.Context, ref time.Time) (int, error) {
	ref = schedule.Naive(ref)
	responded := false
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		body, err := e.fetcher.Fetch(ctx, e.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			lastErr = err
			telemetry.StageAttemptsTotal.WithLabelValues("no_response").Inc()
			e.logger.Warn().Err(err).Int("attempt", attempt).Msg("change feed unavailable")
		} else {
			responded = true

			records, err := schedule.ParseChanges(body, e.location)
			if err != nil {
				telemetry.StageAttemptsTotal.WithLabelValues("parse_error").Inc()
				return 0, err
			}

			stage, err := schedule.StageAt(records, e.tag, ref)
			if err != nil {
				telemetry.StageAttemptsTotal.WithLabelValues("parse_error").Inc()
				return 0, err
			}
			if stage > 0 {
				telemetry.StageAttemptsTotal.WithLabelValues("positive").Inc()
				e.logger.Debug().Int("stage", stage).Int("attempt", attempt).Msg("stage extracted")
				return stage, nil
			}
			telemetry.StageAttemptsTotal.WithLabelValues("zero").Inc()
		}

		if attempt < e.policy.MaxAttempts && e.policy.Delay > 0 {
			timer := time.NewTimer(e.policy.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return 0, ctx.Err()
			case <-timer.C:
			}
		}
	}

	if responded {
		return 0, nil
	}
	return 0, &AttemptsExhaustedError{Attempts: e.policy.MaxAttempts, Err: lastErr}
}
