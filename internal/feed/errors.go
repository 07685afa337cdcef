/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package feed

import (
	"errors"
	"fmt"
)

// TransportError is returned once a fetch has given up on a connection-level
// failure, either because the attempt ceiling was reached or because the
// failure is not retryable (TLS handshake, certificate).
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "feed transport error"
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
