/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/friendsincode/loadshed/internal/cache"
	"github.com/friendsincode/loadshed/internal/schedule"
)

var (
	cacheClearAll        bool
	cacheClearAreaNumber int
)

var cacheClearCmd = &cobra.Command{
	Use:   "cache-clear",
	Short: "Remove stored snapshots from Redis",
	Long: `Remove the stored snapshot for the configured area so the next instance
to start does not restore it. Run this after changing LOADSHED_AREA_NUMBER or
LOADSHED_AREA.

Examples:
  # Drop the snapshot for area 11
  loadshedd cache-clear --area-number=11

  # Drop every stored snapshot
  loadshedd cache-clear --all
`,
	RunE: runCacheClear,
}

func init() {
	cacheClearCmd.Flags().BoolVar(&cacheClearAll, "all", false, "Remove snapshots for every area")
	cacheClearCmd.Flags().IntVar(&cacheClearAreaNumber, "area-number", 0, "City of Cape Town area number (overrides LOADSHED_AREA_NUMBER)")
	rootCmd.AddCommand(cacheClearCmd)
}

type snapshotInvalidator interface {
	IsAvailable() bool
	InvalidateSnapshot(ctx context.Context, area string) error
	InvalidateAll(ctx context.Context) error
}

var errStoreUnavailable = errors.New("snapshot store unavailable; check LOADSHED_REDIS_ADDR")

func runCacheClear(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = cfg.RedisAddr
	cacheCfg.RedisPassword = cfg.RedisPassword
	cacheCfg.RedisDB = cfg.RedisDB
	store, err := cache.New(cacheCfg, logger)
	if err != nil {
		return fmt.Errorf("connect snapshot store: %w", err)
	}
	defer store.Close()

	area := cfg.Area
	if cacheClearAreaNumber > 0 {
		area = schedule.AreaSuffix(cacheClearAreaNumber)
	}
	return clearSnapshots(cmd.Context(), cmd.OutOrStdout(), store, area, cacheClearAll)
}

func clearSnapshots(ctx context.Context, out io.Writer, store snapshotInvalidator, area string, all bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !store.IsAvailable() {
		return errStoreUnavailable
	}
	if all {
		if err := store.InvalidateAll(ctx); err != nil {
			return fmt.Errorf("clear snapshots: %w", err)
		}
		fmt.Fprintln(out, "cleared all snapshots")
		return nil
	}
	if err := store.InvalidateSnapshot(ctx, area); err != nil {
		return fmt.Errorf("clear snapshot for %s: %w", area, err)
	}
	fmt.Fprintf(out, "cleared snapshot for %s\n", area)
	return nil
}
