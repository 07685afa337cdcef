/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// DefaultArea is the slot table suffix for City of Cape Town area 1.
const DefaultArea = "city-of-cape-town-area-1"

// NoSlot is reported for current and next when no slot qualifies.
const NoSlot = "None"

// AreaSuffix returns the slot table suffix for a City of Cape Town area number.
func AreaSuffix(number int) string {
	return fmt.Sprintf("city-of-cape-town-area-%d", number)
}

// SlotRecord is one row of the slot table.
type SlotRecord struct {
	Area   string
	Start  time.Time
	Finish time.Time
	Stage  int
}

// Status classifies the slots of one area relative to a reference instant.
type Status struct {
	Current  string
	Next     string
	Upcoming string
}

var requiredSlotColumns = []string{"area_name", "start", "finsh", "stage"}

// ParseSlots decodes the slot table. Zone-less timestamps are read in loc.
// Rows keep their delivered order.
func ParseSlots(body []byte, loc *time.Location) ([]SlotRecord, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, newParseError(DocumentSlots, 0, fmt.Errorf("empty document"))
	}
	if err != nil {
		return nil, newParseError(DocumentSlots, 0, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if _, ok := columns["finsh"]; !ok {
		if idx, ok := columns["finish"]; ok {
			columns["finsh"] = idx
		}
	}
	for _, name := range requiredSlotColumns {
		if _, ok := columns[name]; !ok {
			return nil, newParseError(DocumentSlots, 0, fmt.Errorf("missing column %q", name))
		}
	}

	var slots []SlotRecord
	for row := 1; ; row++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, newParseError(DocumentSlots, row, err)
		}

		slot, err := parseSlot(fields, columns, loc)
		if err != nil {
			return nil, newParseError(DocumentSlots, row, err)
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func parseSlot(fields []string, columns map[string]int, loc *time.Location) (SlotRecord, error) {
	field := func(name string) (string, error) {
		idx := columns[name]
		if idx >= len(fields) {
			return "", fmt.Errorf("missing %s field", name)
		}
		return fields[idx], nil
	}

	area, err := field("area_name")
	if err != nil {
		return SlotRecord{}, err
	}
	rawStart, err := field("start")
	if err != nil {
		return SlotRecord{}, err
	}
	rawFinish, err := field("finsh")
	if err != nil {
		return SlotRecord{}, err
	}
	rawStage, err := field("stage")
	if err != nil {
		return SlotRecord{}, err
	}

	start, _, err := parseTimestamp(rawStart, loc)
	if err != nil {
		return SlotRecord{}, fmt.Errorf("start: %w", err)
	}
	finish, _, err := parseTimestamp(rawFinish, loc)
	if err != nil {
		return SlotRecord{}, fmt.Errorf("finsh: %w", err)
	}

	return SlotRecord{
		Area:   area,
		Start:  start,
		Finish: finish,
		Stage:  ParseStage(rawStage),
	}, nil
}

// FilterArea keeps the slots whose area name ends with area.
func FilterArea(slots []SlotRecord, area string) []SlotRecord {
	filtered := make([]SlotRecord, 0, len(slots))
	for _, slot := range slots {
		if strings.HasSuffix(slot.Area, area) {
			filtered = append(filtered, slot)
		}
	}
	return filtered
}

// Classify walks slots (already filtered and start-ascending) and reports the
// current, next and upcoming slots relative to ref.
//
// The walk tracks the previous row's start, seeded with ref. Next is claimed
// only by the row where that previous start is still in the past while the
// row itself starts in the future, so a first row already in the future is
// never reported as next. Upcoming collects rows once the previous start has
// moved past ref. The final row is never visited.
func Classify(slots []SlotRecord, ref time.Time) Status {
	status := Status{Current: NoSlot, Next: NoSlot}
	var upcoming strings.Builder

	prevStart := ref
	for i := 0; i < len(slots)-1; i++ {
		slot := slots[i]

		if ref.After(slot.Start) && ref.Before(slot.Finish) {
			status.Current = describeSlot("In", slot)
		}
		if prevStart.Before(ref) && slot.Start.After(ref) {
			status.Next = describeSlot("Next", slot)
		}
		if slot.Start.After(ref) && prevStart.After(ref) {
			upcoming.WriteString(describeSlot("Upcoming", slot))
		}
		prevStart = slot.Start
	}

	status.Upcoming = upcoming.String()
	return status
}

// ClassifySlots parses body, keeps the rows for area and classifies them
// relative to ref. Zone-less timestamps are read in ref's location.
func ClassifySlots(body []byte, area string, ref time.Time) (Status, error) {
	slots, err := ParseSlots(body, ref.Location())
	if err != nil {
		return Status{}, err
	}
	return Classify(FilterArea(slots, area), ref), nil
}

func describeSlot(kind string, slot SlotRecord) string {
	return fmt.Sprintf("%s loadshedding From %s to %s stage %d",
		kind,
		slot.Start.Format(DisplayLayout),
		slot.Finish.Format(DisplayLayout),
		slot.Stage,
	)
}
