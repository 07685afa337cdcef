/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"errors"
	"fmt"
)

// Document names used in parse errors.
const (
	DocumentChanges = "changes"
	DocumentSlots   = "slots"
)

// ParseError reports a malformed feed document. It is never retried.
type ParseError struct {
	Document string
	Row      int // 1-based record or row number, 0 when not row specific
	Err      error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "parse error"
	}
	base := fmt.Sprintf("parse %s document", e.Document)
	if e.Row > 0 {
		base = fmt.Sprintf("%s (record %d)", base, e.Row)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", base, e.Err)
	}
	return base
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newParseError(document string, row int, err error) error {
	return &ParseError{Document: document, Row: row, Err: err}
}

// IsParse reports whether err is, or wraps, a ParseError.
func IsParse(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}
