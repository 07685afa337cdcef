/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

// Name is the human-readable product name.
const Name = "City of Cape Town Loadshedding"

// Version is the current version of loadshed.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/loadshed/internal/version.Version=X.Y.Z
var Version = "1.0.0"

// IssueURL is where problems with the poller should be reported.
const IssueURL = "https://github.com/friendsincode/loadshed/issues"
