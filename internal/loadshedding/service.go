/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package loadshedding composes the feed client and schedule interpreter into
// a single refresh producing a Snapshot.
package loadshedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/feed"
	"github.com/friendsincode/loadshed/internal/schedule"
	"github.com/friendsincode/loadshed/internal/telemetry"
)

// Public eskom-calendar feeds.
const (
	DefaultChangesURL = "https://raw.githubusercontent.com/beyarkay/eskom-calendar/main/manually_specified.yaml"
	DefaultSlotsURL   = "https://github.com/beyarkay/eskom-calendar/releases/download/latest/machine_friendly.csv"
	DefaultTimezone   = "Africa/Johannesburg"
)

// Snapshot is the result of one refresh. It is replaced wholesale each cycle.
type Snapshot struct {
	Stage    int    `json:"stage"`
	Current  string `json:"current"`
	Next     string `json:"next"`
	Upcoming string `json:"upcoming"`
}

// Config selects the feeds and the area a Service reports on.
type Config struct {
	ChangesURL      string
	SlotsURL        string
	Area            string // slot table suffix
	MunicipalityTag string // change-list inclusion tag
	Location        *time.Location
	Sanity          SanityPolicy
}

// Service runs refresh cycles. It keeps no state between refreshes.
type Service struct {
	fetcher  feed.Fetcher
	stage    *StageExtractor
	slotsURL string
	area     string
	location *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService creates a refresh service. Empty config fields fall back to the
// public feeds, area 1 and Africa/Johannesburg.
func NewService(fetcher feed.Fetcher, cfg Config, logger zerolog.Logger) *Service {
	if cfg.ChangesURL == "" {
		cfg.ChangesURL = DefaultChangesURL
	}
	if cfg.SlotsURL == "" {
		cfg.SlotsURL = DefaultSlotsURL
	}
	if cfg.Area == "" {
		cfg.Area = schedule.DefaultArea
	}
	if cfg.Location == nil {
		cfg.Location = MustLoadLocation(DefaultTimezone)
	}

	return &Service{
		fetcher:  fetcher,
		stage:    NewStageExtractor(fetcher, cfg.ChangesURL, cfg.MunicipalityTag, cfg.Location, cfg.Sanity, logger),
		slotsURL: cfg.SlotsURL,
		area:     cfg.Area,
		location: cfg.Location,
		now:      time.Now,
		logger:   logger.With().Str("component", "refresh").Str("area", cfg.Area).Logger(),
	}
}

// SetClock replaces the reference clock.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Area returns the configured slot table suffix.
func (s *Service) Area() string {
	return s.area
}

// Refresh fetches both feeds and assembles a snapshot for the current
// instant. Any failure aborts the refresh; no partial snapshot is returned.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "loadshedding.Refresh")
	defer span.End()

	snapshot, err := s.refreshAt(ctx, s.now().In(s.location))

	telemetry.RefreshDuration.WithLabelValues(s.area).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.RefreshTotal.WithLabelValues(s.area, "failure").Inc()
		telemetry.RecordError(span, err)
		return Snapshot{}, err
	}

	telemetry.RefreshTotal.WithLabelValues(s.area, "success").Inc()
	telemetry.CurrentStage.WithLabelValues(s.area).Set(float64(snapshot.Stage))
	telemetry.AddSpanAttributes(span, map[string]any{
		"loadshedding.area":  s.area,
		"loadshedding.stage": snapshot.Stage,
	})
	return snapshot, nil
}

func (s *Service) refreshAt(ctx context.Context, now time.Time) (Snapshot, error) {
	stage, err := s.stage.Extract(ctx, schedule.Naive(now))
	if err != nil {
		return Snapshot{}, fmt.Errorf("extract stage: %w", err)
	}

	status, err := s.Status(ctx, now)
	if err != nil {
		return Snapshot{}, err
	}

	s.logger.Debug().
		Int("stage", stage).
		Str("current", status.Current).
		Str("next", status.Next).
		Msg("refresh complete")

	return Snapshot{
		Stage:    stage,
		Current:  status.Current,
		Next:     status.Next,
		Upcoming: status.Upcoming,
	}, nil
}

// Status fetches the slot table and classifies the area's slots relative
// to ref.
func (s *Service) Status(ctx context.Context, ref time.Time) (schedule.Status, error) {
	body, err := s.fetcher.Fetch(ctx, s.slotsURL, nil)
	if err != nil {
		return schedule.Status{}, fmt.Errorf("fetch slot table: %w", err)
	}
	status, err := schedule.ClassifySlots(body, s.area, ref.In(s.location))
	if err != nil {
		return schedule.Status{}, fmt.Errorf("classify slots: %w", err)
	}
	return status, nil
}

// Calendar fetches the slot table and exports the area's slots that have not
// finished yet as an iCal calendar.
func (s *Service) Calendar(ctx context.Context) (*schedule.ExportICalResult, error) {
	body, err := s.fetcher.Fetch(ctx, s.slotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch slot table: %w", err)
	}
	slots, err := schedule.ParseSlots(body, s.location)
	if err != nil {
		return nil, fmt.Errorf("parse slot table: %w", err)
	}
	now := s.now()
	return schedule.ExportToICal(s.area, schedule.FilterArea(slots, s.area), now.In(s.location), now), nil
}

// LoadLocation resolves a timezone name. Africa/Johannesburg falls back to a
// fixed UTC+2 zone when the host has no timezone database; South Africa does
// not observe daylight saving.
func LoadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == DefaultTimezone {
		return time.FixedZone("SAST", 2*60*60), nil
	}
	return nil, fmt.Errorf("load timezone %q: %w", name, err)
}

// MustLoadLocation is LoadLocation for known-good names.
func MustLoadLocation(name string) *time.Location {
	loc, err := LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}
