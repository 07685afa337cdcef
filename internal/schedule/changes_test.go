/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"testing"
	"time"
)

var sast = time.FixedZone("SAST", 2*60*60)

const changesFixture = `
changes:
  - stage: 4
    start: 2023-02-19T05:00:00
    finsh: 2023-02-19T16:00:00
    source: https://twitter.com/CityofCT/status/1
    include: coct
  - stage: 2
    start: 2023-02-19T10:00:00
    finsh: 2023-02-19T12:00:00
    include: coct
  - stage: 6
    start: 2023-02-19T00:00:00
    finsh: 2023-02-20T00:00:00
    exclude: coct
  - stage: 8
    start: 2023-02-19T13:00:00
    finsh: 2023-02-19T14:00:00
    include_regional_eskom: [eskom-direct, coct]
`

func naiveAt(hour, minute int) time.Time {
	return time.Date(2023, 2, 19, hour, minute, 0, 0, time.UTC)
}

func TestStageAtLastApplicableRecordWins(t *testing.T) {
	records, err := ParseChanges([]byte(changesFixture), sast)
	if err != nil {
		t.Fatalf("ParseChanges() error: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("ParseChanges() returned %d records, expected 4", len(records))
	}

	tests := []struct {
		name string
		ref  time.Time
		want int
	}{
		{name: "inside first record only", ref: naiveAt(8, 0), want: 4},
		{name: "later lower stage overrides", ref: naiveAt(11, 0), want: 2},
		{name: "list valued include tag", ref: naiveAt(13, 30), want: 8},
		{name: "start boundary is excluded", ref: naiveAt(5, 0), want: 0},
		{name: "end boundary is excluded", ref: naiveAt(16, 0), want: 0},
		{name: "excluded record ignored", ref: naiveAt(20, 0), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StageAt(records, DefaultMunicipalityTag, tt.ref)
			if err != nil {
				t.Fatalf("StageAt() error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("StageAt(%s) = %d, expected %d", tt.ref.Format(time.RFC3339), got, tt.want)
			}
		})
	}
}

func TestStageAtComparesWallClock(t *testing.T) {
	records, err := ParseChanges([]byte(changesFixture), sast)
	if err != nil {
		t.Fatalf("ParseChanges() error: %v", err)
	}

	// 08:00 in Johannesburg is 06:00 UTC; only the wall clock reading counts.
	ref := time.Date(2023, 2, 19, 8, 0, 0, 0, sast)
	got, err := StageAt(records, DefaultMunicipalityTag, ref)
	if err != nil {
		t.Fatalf("StageAt() error: %v", err)
	}
	if got != 4 {
		t.Fatalf("StageAt() = %d, expected 4", got)
	}
}

func TestParseChangesConvertsZonedTimestamps(t *testing.T) {
	body := `
changes:
  - stage: 3
    start: "2023-02-19T03:00:00Z"
    finsh: "2023-02-19T05:00:00+00:00"
    include: coct
`
	records, err := ParseChanges([]byte(body), sast)
	if err != nil {
		t.Fatalf("ParseChanges() error: %v", err)
	}
	if !records[0].Start.Equal(naiveAt(5, 0)) {
		t.Fatalf("Start = %v, expected 05:00 wall clock", records[0].Start)
	}
	if !records[0].End.Equal(naiveAt(7, 0)) {
		t.Fatalf("End = %v, expected 07:00 wall clock", records[0].End)
	}
}

func TestParseChangesNormalizesStage(t *testing.T) {
	body := `
changes:
  - stage: unknown
    start: 2023-02-19T00:00:00
    finsh: 2023-02-19T02:00:00
    include: coct
  - stage: -1
    start: 2023-02-19T00:00:00
    finsh: 2023-02-19T02:00:00
    include: coct
  - stage: "5"
    start: 2023-02-19T00:00:00
    finsh: 2023-02-19T02:00:00
    include: coct
  - start: 2023-02-19T00:00:00
    finsh: 2023-02-19T02:00:00
    include: coct
`
	records, err := ParseChanges([]byte(body), sast)
	if err != nil {
		t.Fatalf("ParseChanges() error: %v", err)
	}

	want := []int{0, 0, 5, 0}
	for i, record := range records {
		if record.Stage != want[i] {
			t.Errorf("record %d stage = %d, expected %d", i, record.Stage, want[i])
		}
	}
}

func TestParseChangesRejectsMalformedDocuments(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing changes", body: "other: []\n"},
		{name: "not yaml", body: "changes: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChanges([]byte(tt.body), sast)
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !IsParse(err) {
				t.Fatalf("expected ParseError, got %T: %v", err, err)
			}
		})
	}
}

func TestNormalizeStage(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{in: 3, want: 3},
		{in: -2, want: 0},
		{in: 4.9, want: 4},
		{in: " 6 ", want: 6},
		{in: "stage six", want: 0},
		{in: nil, want: 0},
		{in: true, want: 0},
	}
	for _, tt := range tests {
		if got := NormalizeStage(tt.in); got != tt.want {
			t.Errorf("NormalizeStage(%#v) = %d, expected %d", tt.in, got, tt.want)
		}
	}
}

func TestStageAtIgnoresMalformedRecordsForOtherTags(t *testing.T) {
	body := `changes:
  - stage: 6
    start: 2023-02-19T00:00:00
    include: eskom-direct
  - stage: 3
    start: yesterday
    finsh: 2023-02-20T00:00:00
    exclude: coct
  - stage: 4
    start: 2023-02-19T05:00:00
    finsh: 2023-02-19T16:00:00
    include: coct
`
	records, err := ParseChanges([]byte(body), sast)
	if err != nil {
		t.Fatalf("ParseChanges() error: %v", err)
	}
	if len(records) != 3 || records[0].Err == nil || records[1].Err == nil {
		t.Fatalf("expected three records with the first two malformed, got %+v", records)
	}

	got, err := StageAt(records, DefaultMunicipalityTag, naiveAt(8, 0))
	if err != nil {
		t.Fatalf("StageAt() error: %v", err)
	}
	if got != 4 {
		t.Fatalf("StageAt() = %d, expected 4", got)
	}
}

func TestStageAtRejectsMalformedApplicableRecord(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing finsh", body: "changes:\n  - stage: 2\n    start: 2023-02-19T00:00:00\n    include: coct\n"},
		{name: "bad start", body: "changes:\n  - stage: 4\n    start: 2023-02-19T05:00:00\n    finsh: 2023-02-19T16:00:00\n    include: coct\n  - stage: 2\n    start: yesterday\n    finsh: 2023-02-19T00:00:00\n    include: coct\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ParseChanges([]byte(tt.body), sast)
			if err != nil {
				t.Fatalf("ParseChanges() error: %v", err)
			}
			_, err = StageAt(records, DefaultMunicipalityTag, naiveAt(8, 0))
			if !IsParse(err) {
				t.Fatalf("expected ParseError, got %T: %v", err, err)
			}
		})
	}
}
