/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBufferWrapsAtCapacity(t *testing.T) {
	b := New(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Add(LogEntry{Message: msg})
	}

	all := b.GetAll()
	if len(all) != 3 {
		t.Fatalf("len = %d, expected 3", len(all))
	}
	if all[0].Message != "b" || all[2].Message != "d" {
		t.Fatalf("unexpected order: %+v", all)
	}
}

func TestWriterCapturesZerologEvents(t *testing.T) {
	b := New(10)
	var out bytes.Buffer
	logger := zerolog.New(NewWriter(b, &out)).With().Timestamp().Logger()

	logger.Error().
		Err(errors.New("connection refused")).
		Str("component", "coordinator").
		Str("area", "city-of-cape-town-area-1").
		Int("attempt", 3).
		Msg("refresh failed")
	logger.Info().Str("component", "refresh").Msg("refresh complete")

	if out.Len() == 0 {
		t.Fatal("expected output to be forwarded")
	}

	failures := b.Query(QueryParams{Level: "error"})
	if len(failures) != 1 {
		t.Fatalf("expected 1 error entry, got %d", len(failures))
	}
	entry := failures[0]
	if entry.Component != "coordinator" || entry.Area != "city-of-cape-town-area-1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Error != "connection refused" {
		t.Fatalf("Error = %q", entry.Error)
	}
	if entry.Fields["attempt"] != float64(3) {
		t.Fatalf("Fields = %v", entry.Fields)
	}
	if time.Since(entry.Timestamp) > time.Minute {
		t.Fatalf("unexpected timestamp %s", entry.Timestamp)
	}
}

func TestQueryFilters(t *testing.T) {
	b := New(10)
	base := time.Date(2023, 2, 20, 5, 0, 0, 0, time.UTC)
	b.Add(LogEntry{Timestamp: base, Level: "info", Component: "refresh", Message: "refresh complete"})
	b.Add(LogEntry{Timestamp: base.Add(time.Minute), Level: "warn", Component: "feed", Message: "change feed unavailable", Error: "EOF"})
	b.Add(LogEntry{Timestamp: base.Add(2 * time.Minute), Level: "error", Component: "coordinator", Message: "refresh failed"})

	if got := b.Query(QueryParams{Search: "eof"}); len(got) != 1 || got[0].Component != "feed" {
		t.Fatalf("search result = %+v", got)
	}
	if got := b.Query(QueryParams{Since: base.Add(30 * time.Second)}); len(got) != 2 {
		t.Fatalf("since result = %+v", got)
	}
	got := b.Query(QueryParams{Descending: true, Limit: 1})
	if len(got) != 1 || got[0].Component != "coordinator" {
		t.Fatalf("descending result = %+v", got)
	}

	stats := b.Stats()
	if stats.Count != 3 || stats.LevelCount["warn"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
