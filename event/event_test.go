// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/proxyguard/event"
)

func receive(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "event channel closed unexpectedly")
		return evt
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
	return event.Event{}
}

func TestEventBusSingleSubscriber(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, subCh := eb.Subscribe(event.UpgradeExecutedEventType)
	eb.Publish(
		event.UpgradeExecutedEventType,
		event.NewEvent(
			event.UpgradeExecutedEventType,
			event.UpgradeExecutedEvent{
				Previous:   "payments-v1",
				Current:    "payments-v2",
				ProposalID: 1,
				Version:    1,
			},
		),
	)
	evt := receive(t, subCh)
	assert.Equal(t, event.UpgradeExecutedEventType, evt.Type)
	data, ok := evt.Data.(event.UpgradeExecutedEvent)
	require.True(t, ok, "event data was not of expected type, got %T", evt.Data)
	assert.Equal(t, "payments-v2", data.Current)
	assert.Equal(t, uint64(1), data.Version)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, sub1Ch := eb.Subscribe(event.UpgradeProposedEventType)
	_, sub2Ch := eb.Subscribe(event.UpgradeProposedEventType)
	_, otherCh := eb.Subscribe(event.UpgradeRejectedEventType)
	eb.Publish(
		event.UpgradeProposedEventType,
		event.NewEvent(
			event.UpgradeProposedEventType,
			event.ProposalEvent{ProposalID: 7, Candidate: "payments-v2"},
		),
	)
	for _, ch := range []<-chan event.Event{sub1Ch, sub2Ch} {
		evt := receive(t, ch)
		data, ok := evt.Data.(event.ProposalEvent)
		require.True(t, ok)
		assert.Equal(t, uint64(7), data.ProposalID)
	}
	select {
	case <-otherCh:
		t.Fatalf("received event of unrelated type")
	default:
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	subId, subCh := eb.Subscribe(event.UpgradeApprovedEventType)
	eb.Unsubscribe(event.UpgradeApprovedEventType, subId)
	eb.Publish(
		event.UpgradeApprovedEventType,
		event.NewEvent(event.UpgradeApprovedEventType, event.ProposalEvent{}),
	)
	select {
	case _, ok := <-subCh:
		assert.False(t, ok, "received unexpected event")
	case <-time.After(1 * time.Second):
		t.Fatalf("subscriber channel was not closed after Unsubscribe")
	}
}

func TestEventBusStop(t *testing.T) {
	testEvtType := event.MigrationProgressEventType
	eb := event.NewEventBus(nil, nil)

	_, subCh1 := eb.Subscribe(testEvtType)
	doneCh := make(chan bool, 1)
	eb.SubscribeFunc(testEvtType, func(evt event.Event) {
		doneCh <- true
	})

	eb.Publish(testEvtType, event.NewEvent(testEvtType, "before"))
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("SubscribeFunc did not receive event before Stop")
	}

	eb.Stop()

	// The buffered event is drained before the channel reports closed
	_, ok := <-subCh1
	require.True(t, ok)
	_, ok = <-subCh1
	require.False(t, ok, "subscriber channel should be closed after Stop")

	eb.Publish(testEvtType, event.NewEvent(testEvtType, "after"))
	select {
	case <-doneCh:
		t.Fatal("SubscribeFunc should not have received event after Stop")
	case <-time.After(50 * time.Millisecond):
	}

	// The bus can be reused after Stop
	_, subCh3 := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, "new"))
	receive(t, subCh3)

	eb.Stop()
	_, ok = <-subCh3
	assert.False(t, ok, "new subscriber channel should be closed after second Stop")
}

func TestSubscribeFuncPanicRecovery(t *testing.T) {
	testEvtType := event.AccessDeniedEventType
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()

	var received atomic.Int32
	eb.SubscribeFunc(testEvtType, func(evt event.Event) {
		if received.Add(1) == 1 {
			panic("intentional test panic")
		}
	})

	eb.Publish(testEvtType, event.NewEvent(testEvtType, "panic"))
	eb.Publish(testEvtType, event.NewEvent(testEvtType, "after-panic"))

	require.Eventually(t, func() bool {
		return received.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond,
		"handler should continue processing events after a panic",
	)
}

func TestPublishAsync(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()

	var received atomic.Int32
	eb.SubscribeFunc(event.UpgradeRolledBackEventType, func(evt event.Event) {
		received.Add(1)
	})
	for range 5 {
		require.True(t, eb.PublishAsync(
			event.UpgradeRolledBackEventType,
			event.NewEvent(event.UpgradeRolledBackEventType, event.UpgradeRolledBackEvent{}),
		))
	}
	require.Eventually(t, func() bool {
		return received.Load() == 5
	}, 2*time.Second, 10*time.Millisecond)

	// Workers restart after Stop
	eb.Stop()
	eb.SubscribeFunc(event.UpgradeRolledBackEventType, func(evt event.Event) {
		received.Add(1)
	})
	require.True(t, eb.PublishAsync(
		event.UpgradeRolledBackEventType,
		event.NewEvent(event.UpgradeRolledBackEventType, event.UpgradeRolledBackEvent{}),
	))
	require.Eventually(t, func() bool {
		return received.Load() == 6
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventBusMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	eb := event.NewEventBus(registry, nil)
	defer eb.Stop()

	_, ch := eb.Subscribe(event.UpgradeExpiredEventType)
	for range event.EventQueueSize + 2 {
		eb.Publish(
			event.UpgradeExpiredEventType,
			event.NewEvent(event.UpgradeExpiredEventType, event.ProposalEvent{}),
		)
	}
	assert.Len(t, ch, event.EventQueueSize)

	count, err := testutil.GatherAndCount(
		registry,
		"proxyguard_event_published_total",
		"proxyguard_event_subscribers",
		"proxyguard_event_delivery_errors_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
