/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/loadshed/internal/events"
	"github.com/friendsincode/loadshed/internal/webhooks"
)

var webhookTestURL string

var webhookTestCmd = &cobra.Command{
	Use:   "webhook-test",
	Short: "Send a test payload to the configured webhooks",
	Long: `Send a signed test payload to every URL in LOADSHED_WEBHOOK_URLS, or to
--url when given.`,
	RunE: runWebhookTest,
}

func init() {
	webhookTestCmd.Flags().StringVar(&webhookTestURL, "url", "", "Single webhook URL to test instead of LOADSHED_WEBHOOK_URLS")
	rootCmd.AddCommand(webhookTestCmd)
}

func runWebhookTest(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	urls := cfg.WebhookURLs
	if webhookTestURL != "" {
		urls = []string{webhookTestURL}
	}
	if len(urls) == 0 {
		return fmt.Errorf("no webhook URLs configured; set LOADSHED_WEBHOOK_URLS or pass --url")
	}

	svc := webhooks.NewService(events.NewBus(), webhooks.Config{Timeout: cfg.WebhookTimeout}, logger)

	failed := 0
	for _, target := range webhooks.TargetsFromConfig(urls, cfg.WebhookSecret, cfg.WebhookEvents) {
		if err := svc.SendTest(context.Background(), target, cfg.Area); err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", target.URL, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK   %s\n", target.URL)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d webhooks failed", failed, len(urls))
	}
	return nil
}
