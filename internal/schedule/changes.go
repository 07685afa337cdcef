/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMunicipalityTag marks change records that apply to the City of Cape Town.
const DefaultMunicipalityTag = "coct"

// ChangeRecord is one entry of the change-list document.
type ChangeRecord struct {
	// Tags holds every string (or string list) valued key of the record,
	// such as include, exclude or include_regional_eskom.
	Tags  map[string][]string
	Start time.Time // naive wall clock
	End   time.Time // naive wall clock
	Stage int

	// Row is the 1-based position in the document. Err holds a start or
	// finsh decoding failure; it only matters for records that apply.
	Row int
	Err error
}

// AppliesTo reports whether any inclusion key names tag.
func (r ChangeRecord) AppliesTo(tag string) bool {
	for key, values := range r.Tags {
		if !strings.Contains(key, "include") {
			continue
		}
		for _, v := range values {
			if strings.Contains(v, tag) {
				return true
			}
		}
	}
	return false
}

// Contains reports whether ref lies strictly inside the record interval.
func (r ChangeRecord) Contains(ref time.Time) bool {
	return r.Start.Before(ref) && r.End.After(ref)
}

type changeDocument struct {
	Changes *[]map[string]any `yaml:"changes"`
}

// ParseChanges decodes the change-list document. Timestamps that carry an
// offset are converted to loc before their wall clock is kept. A record with
// bad times is kept with Err set; StageAt reports it if the record applies.
func ParseChanges(body []byte, loc *time.Location) ([]ChangeRecord, error) {
	var doc changeDocument
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, newParseError(DocumentChanges, 0, err)
	}
	if doc.Changes == nil {
		return nil, newParseError(DocumentChanges, 0, fmt.Errorf("missing top-level changes list"))
	}

	records := make([]ChangeRecord, 0, len(*doc.Changes))
	for i, raw := range *doc.Changes {
		record := parseChange(raw, loc)
		record.Row = i + 1
		records = append(records, record)
	}
	return records, nil
}

func parseChange(raw map[string]any, loc *time.Location) ChangeRecord {
	record := ChangeRecord{Tags: make(map[string][]string)}

	for key, value := range raw {
		switch v := value.(type) {
		case string:
			record.Tags[key] = []string{v}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					record.Tags[key] = append(record.Tags[key], s)
				}
			}
		}
	}

	record.Stage = NormalizeStage(raw["stage"])

	start, err := changeTime(raw, "start", loc)
	if err != nil {
		record.Err = err
		return record
	}
	end, err := changeTime(raw, "finsh", loc)
	if err != nil {
		record.Err = err
		return record
	}
	record.Start = start
	record.End = end
	return record
}

func changeTime(raw map[string]any, key string, loc *time.Location) (time.Time, error) {
	value, ok := raw[key]
	if !ok || value == nil {
		return time.Time{}, fmt.Errorf("missing %s", key)
	}

	switch v := value.(type) {
	case time.Time:
		return Naive(v.In(locOrUTC(loc))), nil
	case string:
		t, zoned, err := parseTimestamp(v, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s: %w", key, err)
		}
		if zoned {
			t = t.In(locOrUTC(loc))
		}
		return Naive(t), nil
	default:
		return time.Time{}, fmt.Errorf("%s: unsupported value %v", key, value)
	}
}

// NormalizeStage converts a feed stage value into a stage number. Negative,
// missing and non-numeric values become 0; fractional values are truncated.
func NormalizeStage(value any) int {
	var stage int
	switch v := value.(type) {
	case int:
		stage = v
	case int64:
		stage = int(v)
	case uint64:
		if v > math.MaxInt32 {
			return 0
		}
		stage = int(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		stage = int(v)
	case string:
		return ParseStage(v)
	default:
		return 0
	}
	if stage < 0 {
		return 0
	}
	return stage
}

// ParseStage is NormalizeStage for textual values.
func ParseStage(value string) int {
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		return NormalizeStage(n)
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return NormalizeStage(f)
	}
	return 0
}

// StageAt returns the stage of the last record, in document order, that
// applies to tag and strictly contains ref. ref is compared by wall clock.
// An applicable record with unreadable times is a ParseError; records for
// other tags are never inspected beyond their tags.
func StageAt(records []ChangeRecord, tag string, ref time.Time) (int, error) {
	ref = Naive(ref)
	stage := 0
	for _, record := range records {
		if !record.AppliesTo(tag) {
			continue
		}
		if record.Err != nil {
			return 0, newParseError(DocumentChanges, record.Row, record.Err)
		}
		if record.Contains(ref) {
			stage = record.Stage
		}
	}
	return stage, nil
}

func locOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
