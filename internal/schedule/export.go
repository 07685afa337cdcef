/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// ExportICalResult contains the iCal export data.
type ExportICalResult struct {
	Data        []byte
	Filename    string
	ContentType string
	Events      int
}

// ExportToICal renders the slots of one area that have not finished by from
// as an iCal calendar. stamp is written as DTSTAMP on every event.
func ExportToICal(area string, slots []SlotRecord, from, stamp time.Time) *ExportICalResult {
	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:-//Friends Incode//Loadshed Export//EN\r\n")
	buf.WriteString(fmt.Sprintf("X-WR-CALNAME:%s\r\n", escapeICalText(calendarName(area))))
	buf.WriteString("CALSCALE:GREGORIAN\r\n")
	buf.WriteString("METHOD:PUBLISH\r\n")

	count := 0
	for _, slot := range slots {
		if !slot.Finish.After(from) {
			continue
		}

		buf.WriteString("BEGIN:VEVENT\r\n")
		buf.WriteString(fmt.Sprintf("UID:%s@loadshed\r\n", slotUID(slot)))
		buf.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", formatICalTime(stamp)))
		buf.WriteString(fmt.Sprintf("DTSTART:%s\r\n", formatICalTime(slot.Start)))
		buf.WriteString(fmt.Sprintf("DTEND:%s\r\n", formatICalTime(slot.Finish)))
		buf.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICalText(fmt.Sprintf("Loadshedding stage %d", slot.Stage))))
		buf.WriteString(fmt.Sprintf("DESCRIPTION:%s\r\n", escapeICalText(describeSlot("Scheduled", slot))))
		buf.WriteString("TRANSP:OPAQUE\r\n")
		buf.WriteString("END:VEVENT\r\n")
		count++
	}

	buf.WriteString("END:VCALENDAR\r\n")

	return &ExportICalResult{
		Data:        buf.Bytes(),
		Filename:    fmt.Sprintf("%s-%s.ics", slugify(area), from.Format("2006-01-02")),
		ContentType: "text/calendar; charset=utf-8",
		Events:      count,
	}
}

func calendarName(area string) string {
	name := strings.ReplaceAll(area, "-", " ")
	if name == "" {
		return "Loadshedding"
	}
	return "Loadshedding " + name
}

func slotUID(slot SlotRecord) string {
	return fmt.Sprintf("%s-%s-%d", slugify(slot.Area), slot.Start.UTC().Format("20060102T1504"), slot.Stage)
}

func formatICalTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func escapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
