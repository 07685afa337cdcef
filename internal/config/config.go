/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/loadshed/internal/loadshedding"
	"github.com/friendsincode/loadshed/internal/schedule"
)

// Scan period bounds in seconds.
const (
	DefaultScanPeriodSeconds = 900
	MinScanPeriodSeconds     = 300
)

var webhookEvents = map[string]bool{
	"snapshot.updated": true,
	"stage.changed":    true,
	"slot.changed":     true,
	"refresh.failed":   true,
}

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	// Polling
	ScanPeriod      time.Duration
	AreaNumber      int
	Area            string // slot table suffix, derived from AreaNumber unless set
	MunicipalityTag string
	Timezone        string

	// Feeds
	ChangesURL    string
	SlotsURL      string
	FetchAttempts int
	StageAttempts int
	FetchTimeout  time.Duration
	UserAgent     string // overrides the feed client's default when set

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Snapshot store and multi-instance configuration
	SnapshotStoreEnabled  bool
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	// Event publishing: memory, nats or redis
	EventTransport    string
	NATSURL           string
	NATSToken         string
	NATSSubjectPrefix string

	// Outbound notifications
	WebhookURLs    []string
	WebhookSecret  string
	WebhookEvents  []string
	WebhookTimeout time.Duration

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"LOADSHED_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"LOADSHED_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"LOADSHED_HTTP_PORT"}, 8080),

		ScanPeriod:      time.Duration(getEnvIntAny([]string{"LOADSHED_SCAN_PERIOD"}, DefaultScanPeriodSeconds)) * time.Second,
		AreaNumber:      getEnvIntAny([]string{"LOADSHED_AREA_NUMBER"}, 1),
		Area:            getEnvAny([]string{"LOADSHED_AREA"}, ""),
		MunicipalityTag: getEnvAny([]string{"LOADSHED_MUNICIPALITY_TAG"}, schedule.DefaultMunicipalityTag),
		Timezone:        getEnvAny([]string{"LOADSHED_TIMEZONE"}, loadshedding.DefaultTimezone),

		ChangesURL:    getEnvAny([]string{"LOADSHED_CHANGES_URL"}, loadshedding.DefaultChangesURL),
		SlotsURL:      getEnvAny([]string{"LOADSHED_SLOTS_URL"}, loadshedding.DefaultSlotsURL),
		FetchAttempts: getEnvIntAny([]string{"LOADSHED_FETCH_ATTEMPTS"}, 50),
		StageAttempts: getEnvIntAny([]string{"LOADSHED_STAGE_ATTEMPTS"}, 5),
		FetchTimeout:  time.Duration(getEnvIntAny([]string{"LOADSHED_FETCH_TIMEOUT_SECONDS"}, 30)) * time.Second,
		UserAgent:     getEnvAny([]string{"LOADSHED_USER_AGENT"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"LOADSHED_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"LOADSHED_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"LOADSHED_TRACING_SAMPLE_RATE"}, 1.0),

		SnapshotStoreEnabled:  getEnvBoolAny([]string{"LOADSHED_SNAPSHOT_STORE_ENABLED"}, false),
		LeaderElectionEnabled: getEnvBoolAny([]string{"LOADSHED_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"LOADSHED_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"LOADSHED_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"LOADSHED_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"LOADSHED_INSTANCE_ID"}, ""),

		EventTransport:    getEnvAny([]string{"LOADSHED_EVENT_TRANSPORT"}, ""),
		NATSURL:           getEnvAny([]string{"LOADSHED_NATS_URL", "NATS_URL"}, ""),
		NATSToken:         getEnvAny([]string{"LOADSHED_NATS_TOKEN"}, ""),
		NATSSubjectPrefix: getEnvAny([]string{"LOADSHED_NATS_SUBJECT_PREFIX"}, "loadshed.events"),

		WebhookURLs:    splitList(getEnvAny([]string{"LOADSHED_WEBHOOK_URLS"}, "")),
		WebhookSecret:  getEnvAny([]string{"LOADSHED_WEBHOOK_SECRET"}, ""),
		WebhookEvents:  splitList(getEnvAny([]string{"LOADSHED_WEBHOOK_EVENTS"}, "stage.changed,slot.changed,refresh.failed")),
		WebhookTimeout: time.Duration(getEnvIntAny([]string{"LOADSHED_WEBHOOK_TIMEOUT_SECONDS"}, 10)) * time.Second,
	}

	if cfg.ScanPeriod < MinScanPeriodSeconds*time.Second {
		return nil, fmt.Errorf("LOADSHED_SCAN_PERIOD must be at least %d seconds, got %d", MinScanPeriodSeconds, int(cfg.ScanPeriod/time.Second))
	}

	if cfg.Area == "" {
		if cfg.AreaNumber < 1 {
			return nil, fmt.Errorf("LOADSHED_AREA_NUMBER must be positive, got %d", cfg.AreaNumber)
		}
		cfg.Area = fmt.Sprintf("city-of-cape-town-area-%d", cfg.AreaNumber)
	}

	if cfg.MunicipalityTag == "" {
		return nil, fmt.Errorf("LOADSHED_MUNICIPALITY_TAG must not be empty")
	}

	for key, raw := range map[string]string{"LOADSHED_CHANGES_URL": cfg.ChangesURL, "LOADSHED_SLOTS_URL": cfg.SlotsURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return nil, fmt.Errorf("%s must be an absolute https URL, got %q", key, raw)
		}
	}

	if cfg.FetchAttempts < 1 {
		return nil, fmt.Errorf("LOADSHED_FETCH_ATTEMPTS must be at least 1, got %d", cfg.FetchAttempts)
	}
	if cfg.StageAttempts < 1 {
		return nil, fmt.Errorf("LOADSHED_STAGE_ATTEMPTS must be at least 1, got %d", cfg.StageAttempts)
	}
	if cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("LOADSHED_FETCH_TIMEOUT_SECONDS must be positive")
	}

	if cfg.EventTransport == "" {
		cfg.EventTransport = "memory"
		if cfg.NATSURL != "" {
			cfg.EventTransport = "nats"
		}
	}
	switch cfg.EventTransport {
	case "memory", "nats", "redis":
	default:
		return nil, fmt.Errorf("unsupported LOADSHED_EVENT_TRANSPORT %q", cfg.EventTransport)
	}

	for _, raw := range cfg.WebhookURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("LOADSHED_WEBHOOK_URLS entries must be absolute http(s) URLs, got %q", raw)
		}
	}
	for _, event := range cfg.WebhookEvents {
		if !webhookEvents[event] {
			return nil, fmt.Errorf("unsupported LOADSHED_WEBHOOK_EVENTS entry %q", event)
		}
	}
	if cfg.WebhookTimeout <= 0 {
		return nil, fmt.Errorf("LOADSHED_WEBHOOK_TIMEOUT_SECONDS must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.LeaderElectionEnabled && cfg.InstanceID == "" {
		return nil, fmt.Errorf("LOADSHED_INSTANCE_ID is required when leader election is enabled in production")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"SCAN_PERIOD":        "use LOADSHED_SCAN_PERIOD",
		"COCT_AREA":          "use LOADSHED_AREA_NUMBER (or LOADSHED_AREA)",
		"LOADSHED_INTERVAL":  "use LOADSHED_SCAN_PERIOD",
		"TRACING_ENABLED":    "use LOADSHED_TRACING_ENABLED",
		"OTLP_ENDPOINT":      "use LOADSHED_OTLP_ENDPOINT",
		"LOADSHED_LOG_LEVEL": "log level follows LOADSHED_ENV",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the listen address for the HTTP surface.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// splitList splits a comma separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
