/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/coordinator"
	"github.com/friendsincode/loadshed/internal/loadshedding"
	"github.com/friendsincode/loadshed/internal/logbuffer"
	"github.com/friendsincode/loadshed/internal/schedule"
)

type fakeSource struct {
	state coordinator.State
	ok    bool
}

func (f *fakeSource) Snapshot() (coordinator.State, bool) { return f.state, f.ok }

type fakeRefresher struct {
	state coordinator.State
	err   error
	calls int
}

func (f *fakeRefresher) RefreshNow(context.Context) (coordinator.State, error) {
	f.calls++
	return f.state, f.err
}

type fakeLeader struct {
	election bool
	leader   bool
	instance string
	holder   string
	err      error
}

func (f fakeLeader) IsLeader() bool       { return f.leader }
func (f fakeLeader) LeaderElection() bool { return f.election }
func (f fakeLeader) InstanceID() string   { return f.instance }

func (f fakeLeader) LeaderID(context.Context) (string, error) {
	return f.holder, f.err
}

type fakeCalendar struct {
	result *schedule.ExportICalResult
	err    error
}

func (f fakeCalendar) Calendar(context.Context) (*schedule.ExportICalResult, error) {
	return f.result, f.err
}

var goodState = coordinator.State{
	Snapshot: loadshedding.Snapshot{
		Stage:    4,
		Current:  "None",
		Next:     "Next loadshedding From 2023-02-20 10:00:00+02:00 to 2023-02-20 12:30:00+02:00 stage 2",
		Upcoming: "",
	},
	Area:              "city-of-cape-town-area-1",
	LastUpdateSuccess: true,
	UpdatedAt:         time.Date(2023, 2, 20, 5, 0, 0, 0, time.UTC),
}

func serve(t *testing.T, h handlers, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestSnapshotEndpointShape(t *testing.T) {
	rr := serve(t, handlers{snapshots: &fakeSource{state: goodState, ok: true}}, http.MethodGet, "/api/v1/snapshot")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}

	body := decode(t, rr)
	for _, key := range []string{"stage", "current", "next", "upcoming", "last_update_success", "updated_at", "area", "stale"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing key %q in %v", key, body)
		}
	}
	if body["stage"] != float64(4) || body["current"] != "None" || body["upcoming"] != "" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSnapshotEndpointUnavailableBeforeFirstSuccess(t *testing.T) {
	source := &fakeSource{state: coordinator.State{Error: "no response received from change feed after 5 attempts"}}
	rr := serve(t, handlers{snapshots: source}, http.MethodGet, "/api/v1/snapshot")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decode(t, rr)
	if !strings.Contains(body["error"].(string), "after 5 attempts") {
		t.Fatalf("unexpected body %v", body)
	}
	if body["last_update_success"] != false {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSnapshotEndpointServesStaleState(t *testing.T) {
	stale := goodState
	stale.LastUpdateSuccess = false
	stale.Stale = true
	stale.Error = "fetch slot table: connection reset"

	rr := serve(t, handlers{snapshots: &fakeSource{state: stale, ok: true}}, http.MethodGet, "/api/v1/snapshot")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decode(t, rr)
	if body["stale"] != true || body["last_update_success"] != false || body["stage"] != float64(4) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "success", status: http.StatusOK},
		{name: "not leader", err: errNotLeader, status: http.StatusConflict},
		{name: "feed failure", err: errors.New("fetch slot table: EOF"), status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := &fakeRefresher{state: goodState, err: tt.err}
			h := handlers{snapshots: &fakeSource{}, refresher: refresher, logger: zerolog.Nop()}

			rr := serve(t, h, http.MethodPost, "/api/v1/refresh")
			if rr.Code != tt.status {
				t.Fatalf("status = %d, expected %d", rr.Code, tt.status)
			}
			if refresher.calls != 1 {
				t.Fatalf("calls = %d", refresher.calls)
			}
		})
	}
}

func TestHealthReportsLeadership(t *testing.T) {
	h := handlers{
		snapshots: &fakeSource{state: goodState, ok: true},
		leader:    fakeLeader{election: true, leader: false},
	}
	body := decode(t, serve(t, h, http.MethodGet, "/healthz"))
	if body["status"] != "ok" || body["ready"] != true || body["leader"] != false {
		t.Fatalf("unexpected body %v", body)
	}

	h.leader = fakeLeader{}
	body = decode(t, serve(t, h, http.MethodGet, "/healthz"))
	if _, ok := body["leader"]; ok {
		t.Fatalf("leader key without election: %v", body)
	}
}

func TestHealthReportsLeaseHolder(t *testing.T) {
	h := handlers{
		snapshots: &fakeSource{state: goodState, ok: true},
		leader:    fakeLeader{election: true, instance: "node-b", holder: "node-a"},
	}
	body := decode(t, serve(t, h, http.MethodGet, "/healthz"))
	if body["instance_id"] != "node-b" || body["leader_id"] != "node-a" {
		t.Fatalf("unexpected body %v", body)
	}

	h.leader = fakeLeader{election: true, instance: "node-b", err: errors.New("redis down")}
	body = decode(t, serve(t, h, http.MethodGet, "/healthz"))
	if body["status"] != "ok" {
		t.Fatalf("status = %v", body["status"])
	}
	if _, ok := body["leader_id"]; ok {
		t.Fatalf("leader_id reported despite lookup error: %v", body)
	}
}

func TestRecentLogsEndpoint(t *testing.T) {
	logs := logbuffer.New(10)
	logs.Add(logbuffer.LogEntry{Level: "info", Component: "refresh", Message: "refresh complete"})
	logs.Add(logbuffer.LogEntry{Level: "error", Component: "coordinator", Message: "refresh failed", Error: "EOF"})

	h := handlers{snapshots: &fakeSource{}, logs: logs}

	body := decode(t, serve(t, h, http.MethodGet, "/api/v1/logs?level=error"))
	entries := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %v", entries)
	}
	if entries[0].(map[string]any)["component"] != "coordinator" {
		t.Fatalf("unexpected entry %v", entries[0])
	}

	if rr := serve(t, h, http.MethodGet, "/api/v1/logs?limit=zero"); rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, expected 400", rr.Code)
	}
	if rr := serve(t, h, http.MethodGet, "/api/v1/logs?since=yesterday"); rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, expected 400", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rr := serve(t, handlers{snapshots: &fakeSource{}}, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "loadshed_api_") {
		t.Fatal("expected loadshed metrics in exposition")
	}
}

func TestCalendarEndpoint(t *testing.T) {
	cal := fakeCalendar{result: &schedule.ExportICalResult{
		Data:        []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"),
		Filename:    "city-of-cape-town-area-1-2023-02-20.ics",
		ContentType: "text/calendar; charset=utf-8",
	}}
	rr := serve(t, handlers{snapshots: &fakeSource{}, calendar: cal}, http.MethodGet, "/api/v1/calendar.ics")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/calendar; charset=utf-8" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "city-of-cape-town-area-1-2023-02-20.ics") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	if !strings.HasPrefix(rr.Body.String(), "BEGIN:VCALENDAR") {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestCalendarEndpointFeedFailure(t *testing.T) {
	cal := fakeCalendar{err: errors.New("fetch slot table: connection refused")}
	rr := serve(t, handlers{snapshots: &fakeSource{}, calendar: cal, logger: zerolog.Nop()}, http.MethodGet, "/api/v1/calendar.ics")

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decode(t, rr); body["error"] != "fetch slot table: connection refused" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestCalendarEndpointAbsentWithoutSource(t *testing.T) {
	rr := serve(t, handlers{snapshots: &fakeSource{}}, http.MethodGet, "/api/v1/calendar.ics")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}
