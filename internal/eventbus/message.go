/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus fans loadshedding events out beyond the process over NATS
// or Redis pub/sub, always delivering to local subscribers as well.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/loadshed/internal/events"
)

// Bus is implemented by the in-memory, NATS and Redis transports.
type Bus interface {
	events.Publisher
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	Close() error
}

// message is the wire envelope shared by the NATS and Redis transports.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("unmarshal event message: missing event_type")
	}
	return &msg, nil
}

// NewNodeID returns hostname plus a random suffix, used to drop echoes of
// our own messages.
func NewNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "loadshed"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// localBus wraps the in-process bus so it satisfies Bus.
type localBus struct {
	*events.Bus
}

// NewLocal returns an in-memory Bus.
func NewLocal() Bus {
	return localBus{Bus: events.NewBus()}
}

func (localBus) Close() error { return nil }
