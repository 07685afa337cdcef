/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package feed

import (
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// LegacyTLSConfig accepts older server profiles: TLS 1.0 and the legacy CBC
// and static RSA suites are allowed. RC4 stays disabled and certificates are
// still verified.
func LegacyTLSConfig() *tls.Config {
	suites := make([]uint16, 0, 32)
	for _, suite := range tls.CipherSuites() {
		suites = append(suites, suite.ID)
	}
	for _, suite := range tls.InsecureCipherSuites() {
		if strings.Contains(suite.Name, "RC4") {
			continue
		}
		suites = append(suites, suite.ID)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS10,
		CipherSuites: suites,
	}
}

// NewHTTPClient returns a traced HTTP client using LegacyTLSConfig. timeout
// bounds a single attempt, not the whole retry sequence.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = LegacyTLSConfig()

	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}
