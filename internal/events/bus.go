/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// EventSnapshotUpdated fires after every successful refresh.
	EventSnapshotUpdated EventType = "snapshot.updated"
	// EventStageChanged fires when a refresh reports a different stage than
	// the previous successful one.
	EventStageChanged EventType = "stage.changed"
	// EventSlotChanged fires when the current or next slot description changes.
	EventSlotChanged EventType = "slot.changed"
	// EventRefreshFailed fires when a refresh returns an error.
	EventRefreshFailed EventType = "refresh.failed"

	EventLeadershipAcquired EventType = "leadership.acquired"
	EventLeadershipLost     EventType = "leadership.lost"
)

// Publisher is satisfied by the in-process Bus and by the distributed buses.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers without blocking; full subscribers
// miss the event. Sends happen under the read lock so Unsubscribe cannot
// close a channel mid-send.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
