package server

import (
	"context"
	"sync"
	"time"
)

const (
	// RealtimeEventQueueChanged signals subscribers to re-fetch the roster.
	RealtimeEventQueueChanged = "queue-change"
	realtimeEventHeartbeat    = "heartbeat"
	realtimeSourceBackend     = "waitline-backend"
)

// RealtimeMessage tells a queue's subscribers that members changed. Delivery
// is at-least-once and carries no ordering guarantee; the affected ids are a
// hint, never authoritative state.
type RealtimeMessage struct {
	QueueID     string
	EventType   string
	CustomerIDs []string
	Timestamp   time.Time
}

// RealtimeDispatcher fans change notifications out to the subscribers of
// each queue. Slow subscribers are skipped rather than blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers interest in one queue. The returned cleanup is safe to
// call more than once; cancelling the context also unsubscribes.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, queueID string) (<-chan RealtimeMessage, func()) {
	if queueID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(queueID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(queueID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to every current subscriber of the queue.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.QueueID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.QueueID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(queueID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[queueID]; !ok {
		d.subscribers[queueID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[queueID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(queueID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[queueID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, queueID)
		}
	}
	d.mu.Unlock()
}
