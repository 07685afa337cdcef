/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/coordinator"
	"github.com/friendsincode/loadshed/internal/logbuffer"
	"github.com/friendsincode/loadshed/internal/schedule"
)

var errNotLeader = errors.New("this instance is not polling; refresh on the leader")

type snapshotSource interface {
	Snapshot() (coordinator.State, bool)
}

type manualRefresher interface {
	RefreshNow(ctx context.Context) (coordinator.State, error)
}

type calendarSource interface {
	Calendar(ctx context.Context) (*schedule.ExportICalResult, error)
}

type leaderStatus interface {
	IsLeader() bool
	LeaderElection() bool
	InstanceID() string
	LeaderID(ctx context.Context) (string, error)
}

type handlers struct {
	snapshots snapshotSource
	refresher manualRefresher
	leader    leaderStatus
	calendar  calendarSource
	logs      *logbuffer.Buffer
	logger    zerolog.Logger
}

type errorResponse struct {
	Error             string `json:"error"`
	LastUpdateSuccess bool   `json:"last_update_success"`
}

func (h handlers) health(w http.ResponseWriter, r *http.Request) {
	state, ok := h.snapshots.Snapshot()

	resp := map[string]any{
		"status":              "ok",
		"ready":               ok,
		"last_update_success": state.LastUpdateSuccess,
	}
	if h.leader != nil && h.leader.LeaderElection() {
		resp["leader"] = h.leader.IsLeader()
		resp["instance_id"] = h.leader.InstanceID()
		leaderID, err := h.leader.LeaderID(r.Context())
		if err != nil {
			h.logger.Warn().Err(err).Msg("leader lookup failed")
		} else if leaderID != "" {
			resp["leader_id"] = leaderID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	state, ok := h.snapshots.Snapshot()
	if !ok {
		msg := state.Error
		if msg == "" {
			msg = "no snapshot available yet"
		}
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h handlers) refresh(w http.ResponseWriter, r *http.Request) {
	state, err := h.refresher.RefreshNow(r.Context())
	switch {
	case errors.Is(err, errNotLeader):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case err != nil:
		h.logger.Warn().Err(err).Msg("manual refresh failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, state)
	}
}

func (h handlers) exportCalendar(w http.ResponseWriter, r *http.Request) {
	result, err := h.calendar.Calendar(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("calendar export failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (h handlers) recentLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		Area:       q.Get("area"),
		Search:     q.Get("search"),
		Limit:      100,
		Descending: true,
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		params.Limit = limit
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "since must be an RFC3339 timestamp"})
			return
		}
		params.Since = since
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": h.logs.Query(params),
		"stats":   h.logs.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
