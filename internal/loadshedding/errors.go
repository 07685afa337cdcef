/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package loadshedding

import (
	"errors"
	"fmt"
)

// AttemptsExhaustedError is returned when no stage attempt got a response.
type AttemptsExhaustedError struct {
	Attempts int
	Err      error // last fetch error
}

func (e *AttemptsExhaustedError) Error() string {
	if e == nil {
		return "stage attempts exhausted"
	}
	msg := fmt.Sprintf("no response received from change feed after %d attempts", e.Attempts)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AttemptsExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsAttemptsExhausted reports whether err is, or wraps, an AttemptsExhaustedError.
func IsAttemptsExhausted(err error) bool {
	var exhausted *AttemptsExhaustedError
	return errors.As(err, &exhausted)
}
