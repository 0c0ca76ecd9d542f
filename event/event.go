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

// Package event provides the in-process bus that governance publishes domain
// events on once an operation has committed.
package event

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	EventQueueSize      = 20
	AsyncQueueSize      = 1000
	AsyncWorkerPoolSize = 4
)

type EventType string

type EventSubscriberId int

type EventHandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

type asyncEvent struct {
	eventType EventType
	event     Event
}

type EventBus struct {
	subscribers map[EventType]map[EventSubscriberId]Subscriber
	// handlerDone tracks the goroutines started by SubscribeFunc
	handlerDone map[EventSubscriberId]chan struct{}
	metrics     *eventMetrics
	logger      *slog.Logger
	lastSubId   EventSubscriberId
	mu          sync.RWMutex

	// Async workers are started on the first PublishAsync and stopped by Stop
	asyncQueue     chan asyncEvent
	stopCh         chan struct{}
	asyncWg        sync.WaitGroup
	workersRunning bool
	stopMu         sync.Mutex
}

// NewEventBus creates a new EventBus
func NewEventBus(
	promRegistry prometheus.Registerer,
	logger *slog.Logger,
) *EventBus {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e := &EventBus{
		subscribers: make(map[EventType]map[EventSubscriberId]Subscriber),
		handlerDone: make(map[EventSubscriberId]chan struct{}),
		logger:      logger,
	}
	if promRegistry != nil {
		e.initMetrics(promRegistry)
	}
	return e
}

// Subscriber delivers events to a consumer. Close must be idempotent
type Subscriber interface {
	Deliver(Event) error
	Close()
}

// channelSubscriber delivers events into a buffered channel. Events that do
// not fit in the buffer are dropped so that a slow consumer never blocks the
// publisher
type channelSubscriber struct {
	ch     chan Event
	onDrop func()
	mu     sync.RWMutex
	closed bool
}

func newChannelSubscriber(buffer int, onDrop func()) *channelSubscriber {
	return &channelSubscriber{
		ch:     make(chan Event, buffer),
		onDrop: onDrop,
	}
}

func (c *channelSubscriber) Deliver(evt Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	select {
	case c.ch <- evt:
	default:
		if c.onDrop != nil {
			c.onDrop()
		}
	}
	return nil
}

func (c *channelSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Subscribe allows a consumer to receive events of a particular type via a channel
func (e *EventBus) Subscribe(
	eventType EventType,
) (EventSubscriberId, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subId, chSub := e.subscribeLocked(eventType)
	return subId, chSub.ch
}

func (e *EventBus) subscribeLocked(
	eventType EventType,
) (EventSubscriberId, *channelSubscriber) {
	chSub := newChannelSubscriber(
		EventQueueSize,
		func() {
			e.logger.Warn(
				"subscriber queue full, dropping event",
				"component", "event",
				"type", eventType,
			)
			e.observeDeliveryError(eventType, "dropped")
		},
	)
	subId := e.addSubscriberLocked(eventType, chSub)
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType), "in-memory").Inc()
	}
	return subId, chSub
}

func (e *EventBus) addSubscriberLocked(
	eventType EventType,
	sub Subscriber,
) EventSubscriberId {
	e.lastSubId++
	subId := e.lastSubId
	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(map[EventSubscriberId]Subscriber)
	}
	e.subscribers[eventType][subId] = sub
	return subId
}

// SubscribeFunc allows a consumer to receive events of a particular type via
// a callback function. A panicking handler does not stop later deliveries
func (e *EventBus) SubscribeFunc(
	eventType EventType,
	handlerFunc EventHandlerFunc,
) EventSubscriberId {
	e.mu.Lock()
	subId, chSub := e.subscribeLocked(eventType)
	done := make(chan struct{})
	e.handlerDone[subId] = done
	e.mu.Unlock()
	go func() {
		defer close(done)
		for evt := range chSub.ch {
			e.invokeHandler(eventType, handlerFunc, evt)
		}
	}()
	return subId
}

func (e *EventBus) invokeHandler(
	eventType EventType,
	handlerFunc EventHandlerFunc,
	evt Event,
) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(
				"event handler panic",
				"component", "event",
				"type", eventType,
				"panic", r,
			)
		}
	}()
	handlerFunc(evt)
}

// RegisterSubscriber adds an externally implemented subscriber and returns its id
func (e *EventBus) RegisterSubscriber(
	eventType EventType,
	sub Subscriber,
) EventSubscriberId {
	e.mu.Lock()
	defer e.mu.Unlock()
	subId := e.addSubscriberLocked(eventType, sub)
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType), "remote").Inc()
	}
	return subId
}

// Unsubscribe stops delivery of events for a particular type for an existing subscriber
func (e *EventBus) Unsubscribe(eventType EventType, subId EventSubscriberId) {
	e.mu.Lock()
	var subToClose Subscriber
	if evtTypeSubs, ok := e.subscribers[eventType]; ok {
		if sub, ok := evtTypeSubs[subId]; ok {
			subToClose = sub
			delete(evtTypeSubs, subId)
			if len(evtTypeSubs) == 0 {
				delete(e.subscribers, eventType)
			}
			delete(e.handlerDone, subId)
			if e.metrics != nil {
				e.metrics.subscribers.WithLabelValues(
					string(eventType),
					subscriberKind(sub),
				).Dec()
			}
		}
	}
	e.mu.Unlock()
	if subToClose != nil {
		subToClose.Close()
	}
}

// Publish delivers an event to all current subscribers of its type
func (e *EventBus) Publish(eventType EventType, evt Event) {
	type subItem struct {
		sub Subscriber
		id  EventSubscriberId
	}
	e.mu.RLock()
	subs := e.subscribers[eventType]
	subList := make([]subItem, 0, len(subs))
	for id, sub := range subs {
		subList = append(subList, subItem{id: id, sub: sub})
	}
	e.mu.RUnlock()
	for _, item := range subList {
		if err := deliver(item.sub, evt); err != nil {
			e.Unsubscribe(eventType, item.id)
			e.observeDeliveryError(eventType, subscriberKind(item.sub))
			e.logger.Debug(
				"event delivery error",
				"component", "event",
				"type", eventType,
				"error", err,
			)
		}
	}
	if e.metrics != nil {
		e.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
	}
}

func deliver(sub Subscriber, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber deliver panic: %v", r)
		}
	}()
	return sub.Deliver(evt)
}

// PublishAsync enqueues an event for delivery by the worker pool. It returns
// false when the queue is full and the event was dropped
func (e *EventBus) PublishAsync(eventType EventType, evt Event) bool {
	e.stopMu.Lock()
	if !e.workersRunning {
		e.startWorkersLocked()
	}
	queue := e.asyncQueue
	e.stopMu.Unlock()
	select {
	case queue <- asyncEvent{eventType: eventType, event: evt}:
		return true
	default:
		e.logger.Warn(
			"async event queue full, dropping event",
			"component", "event",
			"type", eventType,
		)
		e.observeDeliveryError(eventType, "async-dropped")
		return false
	}
}

func (e *EventBus) startWorkersLocked() {
	e.asyncQueue = make(chan asyncEvent, AsyncQueueSize)
	e.stopCh = make(chan struct{})
	for range AsyncWorkerPoolSize {
		e.asyncWg.Add(1)
		go e.asyncWorker(e.asyncQueue, e.stopCh)
	}
	e.workersRunning = true
}

func (e *EventBus) asyncWorker(queue <-chan asyncEvent, stopCh <-chan struct{}) {
	defer e.asyncWg.Done()
	for {
		select {
		case <-stopCh:
			return
		case ae := <-queue:
			e.Publish(ae.eventType, ae.event)
		}
	}
}

// Stop shuts down the async workers, closes all subscribers and waits for
// SubscribeFunc handlers to return. The bus can be used again afterwards
func (e *EventBus) Stop() {
	e.stopMu.Lock()
	if e.workersRunning {
		close(e.stopCh)
		e.asyncWg.Wait()
		e.workersRunning = false
	}
	e.stopMu.Unlock()

	e.mu.Lock()
	subsCopy := e.subscribers
	doneCopy := e.handlerDone
	e.subscribers = make(map[EventType]map[EventSubscriberId]Subscriber)
	e.handlerDone = make(map[EventSubscriberId]chan struct{})
	e.mu.Unlock()

	for _, evtTypeSubs := range subsCopy {
		for _, sub := range evtTypeSubs {
			sub.Close()
		}
	}
	for _, done := range doneCopy {
		<-done
	}
	if e.metrics != nil {
		e.metrics.subscribers.Reset()
	}
}

func subscriberKind(sub Subscriber) string {
	if _, ok := sub.(*channelSubscriber); ok {
		return "in-memory"
	}
	return "remote"
}
