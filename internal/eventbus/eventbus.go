/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Transport names accepted by New.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
	TransportRedis  = "redis"
)

// Config selects and configures a transport.
type Config struct {
	Transport string
	NodeID    string
	NATS      NATSConfig
	Redis     RedisConfig
}

// New builds the Bus for cfg.Transport.
func New(cfg Config, logger zerolog.Logger) (Bus, error) {
	if cfg.NodeID == "" {
		cfg.NodeID = NewNodeID()
	}

	switch cfg.Transport {
	case "", TransportMemory:
		return NewLocal(), nil
	case TransportNATS:
		return NewNATSBus(cfg.NATS, cfg.NodeID, logger)
	case TransportRedis:
		return NewRedisBus(cfg.Redis, cfg.NodeID, logger)
	default:
		return nil, fmt.Errorf("unsupported event transport %q", cfg.Transport)
	}
}
