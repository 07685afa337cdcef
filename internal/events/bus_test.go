/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusDeliversToSubscribersOfType(t *testing.T) {
	bus := NewBus()
	stage := bus.Subscribe(EventStageChanged)
	failed := bus.Subscribe(EventRefreshFailed)

	bus.Publish(EventStageChanged, Payload{"stage": 4})

	select {
	case payload := <-stage:
		if payload["stage"] != 4 {
			t.Fatalf("unexpected payload %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected stage.changed delivery")
	}

	select {
	case payload := <-failed:
		t.Fatalf("unexpected delivery to refresh.failed subscriber: %v", payload)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventSnapshotUpdated)

	for i := 0; i < cap(sub)+4; i++ {
		bus.Publish(EventSnapshotUpdated, Payload{"i": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("len = %d, expected full buffer of %d", len(sub), cap(sub))
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventSnapshotUpdated)
	bus.Unsubscribe(EventSnapshotUpdated, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	bus.Publish(EventSnapshotUpdated, Payload{})
}

func TestBusConcurrentPublishAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	subs := make([]Subscriber, 64)
	for i := range subs {
		subs[i] = bus.Subscribe(EventSnapshotUpdated)
	}

	start := make(chan struct{})
	stop := make(chan struct{})
	panics := make(chan any, 1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				panics <- r
			}
		}()
		<-start
		for {
			select {
			case <-stop:
				return
			default:
				bus.Publish(EventSnapshotUpdated, Payload{"stage": 2})
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for _, sub := range subs {
			bus.Unsubscribe(EventSnapshotUpdated, sub)
		}
	}()

	close(start)
	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	select {
	case r := <-panics:
		t.Fatalf("Publish panicked: %v", r)
	default:
	}
}
