/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package loadshedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/feed"
	"github.com/friendsincode/loadshed/internal/schedule"
)

const changesURL = "https://feeds.test/manually_specified.yaml"

var sast = time.FixedZone("SAST", 2*60*60)

func changesWithStage(stage string) string {
	return `changes:
  - stage: ` + stage + `
    start: 2023-02-20T00:00:00
    finsh: 2023-02-20T12:00:00
    include: coct
`
}

const changesOtherMunicipality = `changes:
  - stage: 6
    start: 2023-02-20T00:00:00
    finsh: 2023-02-20T12:00:00
    include: eskom-direct
`

func newTestExtractor(f feed.Fetcher) *StageExtractor {
	return NewStageExtractor(f, changesURL, schedule.DefaultMunicipalityTag, sast, DefaultSanityPolicy(), zerolog.Nop())
}

var stageRef = time.Date(2023, 2, 20, 5, 0, 0, 0, time.UTC)

func TestExtractReturnsFirstPositiveStage(t *testing.T) {
	f := newFakeFetcher().on(changesURL,
		fakeResponse{body: changesOtherMunicipality},
		fakeResponse{body: changesWithStage("3")},
	)

	stage, err := newTestExtractor(f).Extract(context.Background(), stageRef)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if stage != 3 {
		t.Fatalf("Extract() = %d, expected 3", stage)
	}
	if calls := f.callCount(changesURL); calls != 2 {
		t.Fatalf("fetch calls = %d, expected 2", calls)
	}
}

func TestExtractReturnsZeroWhenFeedReachable(t *testing.T) {
	f := newFakeFetcher().on(changesURL, fakeResponse{body: changesWithStage("-1")})

	stage, err := newTestExtractor(f).Extract(context.Background(), stageRef)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if stage != 0 {
		t.Fatalf("Extract() = %d, expected 0", stage)
	}
	if calls := f.callCount(changesURL); calls != 5 {
		t.Fatalf("fetch calls = %d, expected all 5 attempts", calls)
	}
}

func TestExtractNormalizesNonNumericStage(t *testing.T) {
	f := newFakeFetcher().on(changesURL, fakeResponse{body: changesWithStage("high")})

	stage, err := newTestExtractor(f).Extract(context.Background(), stageRef)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if stage != 0 {
		t.Fatalf("Extract() = %d, expected 0", stage)
	}
}

func TestExtractZeroAfterPartialFailures(t *testing.T) {
	f := newFakeFetcher().on(changesURL,
		fakeResponse{err: errors.New("connection reset")},
		fakeResponse{body: changesOtherMunicipality},
	)

	stage, err := newTestExtractor(f).Extract(context.Background(), stageRef)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if stage != 0 {
		t.Fatalf("Extract() = %d, expected 0", stage)
	}
}

func TestExtractFailsWhenNoAttemptResponds(t *testing.T) {
	transportErr := &feed.TransportError{URL: changesURL, Attempts: 50, Err: errors.New("connection refused")}
	f := newFakeFetcher().on(changesURL, fakeResponse{err: transportErr})

	_, err := newTestExtractor(f).Extract(context.Background(), stageRef)

	var exhausted *AttemptsExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected AttemptsExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 5 {
		t.Fatalf("Attempts = %d, expected 5", exhausted.Attempts)
	}
	if !feed.IsTransport(err) {
		t.Fatal("expected the last transport error to be wrapped")
	}
	if calls := f.callCount(changesURL); calls != 5 {
		t.Fatalf("fetch calls = %d, expected 5", calls)
	}
}

func TestExtractDoesNotRetryParseErrors(t *testing.T) {
	f := newFakeFetcher().on(changesURL, fakeResponse{body: "<html>rate limited</html>"})

	_, err := newTestExtractor(f).Extract(context.Background(), stageRef)
	if !schedule.IsParse(err) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if IsAttemptsExhausted(err) {
		t.Fatal("parse errors must not be reported as exhausted attempts")
	}
	if calls := f.callCount(changesURL); calls != 1 {
		t.Fatalf("fetch calls = %d, expected 1", calls)
	}
}

func TestExtractHonorsSanityPolicy(t *testing.T) {
	f := newFakeFetcher().on(changesURL, fakeResponse{body: changesOtherMunicipality})
	policy := SanityPolicy{MaxAttempts: 2, Delay: time.Millisecond}
	extractor := NewStageExtractor(f, changesURL, "", sast, policy, zerolog.Nop())

	if _, err := extractor.Extract(context.Background(), stageRef); err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if calls := f.callCount(changesURL); calls != 2 {
		t.Fatalf("fetch calls = %d, expected 2", calls)
	}
}

func TestExtractStopsOnCanceledContext(t *testing.T) {
	f := newFakeFetcher().on(changesURL, fakeResponse{body: changesWithStage("2")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestExtractor(f).Extract(ctx, stageRef); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls := f.callCount(changesURL); calls != 0 {
		t.Fatalf("fetch calls = %d, expected none", calls)
	}
}

func TestExtractToleratesMalformedRecordForOtherMunicipality(t *testing.T) {
	body := `changes:
  - stage: 6
    start: 2023-02-20T00:00:00
    include: eskom-direct
  - stage: 4
    start: 2023-02-20T00:00:00
    finsh: 2023-02-20T12:00:00
    include: coct
`
	f := newFakeFetcher().on(changesURL, fakeResponse{body: body})

	stage, err := newTestExtractor(f).Extract(context.Background(), stageRef)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if stage != 4 {
		t.Fatalf("Extract() = %d, expected 4", stage)
	}
}

func TestExtractRejectsMalformedApplicableRecord(t *testing.T) {
	body := `changes:
  - stage: 4
    start: 2023-02-20T00:00:00
    include: coct
`
	f := newFakeFetcher().on(changesURL, fakeResponse{body: body})

	_, err := newTestExtractor(f).Extract(context.Background(), stageRef)
	if !schedule.IsParse(err) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if calls := f.callCount(changesURL); calls != 1 {
		t.Fatalf("fetch calls = %d, expected 1", calls)
	}
}
