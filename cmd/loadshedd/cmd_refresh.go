/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/loadshed/internal/feed"
	"github.com/friendsincode/loadshed/internal/loadshedding"
	"github.com/friendsincode/loadshed/internal/schedule"
)

var (
	refreshAreaNumber int
	refreshPretty     bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch both feeds once and print the snapshot as JSON",
	Long: `Run a single refresh and print the snapshot.

The feeds, area and retry limits come from the same LOADSHED_* environment
variables as serve.

Examples:
  # Snapshot for the configured area
  loadshedd refresh

  # Snapshot for area 11, indented
  loadshedd refresh --area-number=11 --pretty
`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().IntVar(&refreshAreaNumber, "area-number", 0, "City of Cape Town area number (overrides LOADSHED_AREA_NUMBER)")
	refreshCmd.Flags().BoolVar(&refreshPretty, "pretty", false, "Indent the JSON output")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	// Keep stdout for the JSON document.
	logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	area := cfg.Area
	if refreshAreaNumber > 0 {
		area = schedule.AreaSuffix(refreshAreaNumber)
	}

	loc, err := loadshedding.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	fetcher := feed.NewClient(logger,
		feed.WithHTTPClient(feed.NewHTTPClient(cfg.FetchTimeout)),
		feed.WithRetryPolicy(feed.RetryPolicy{MaxAttempts: cfg.FetchAttempts}),
		feed.WithUserAgent(cfg.UserAgent),
	)
	svc := loadshedding.NewService(fetcher, loadshedding.Config{
		ChangesURL:      cfg.ChangesURL,
		SlotsURL:        cfg.SlotsURL,
		Area:            area,
		MunicipalityTag: cfg.MunicipalityTag,
		Location:        loc,
		Sanity:          loadshedding.SanityPolicy{MaxAttempts: cfg.StageAttempts},
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshot, err := svc.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", area, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if refreshPretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(snapshot)
}
