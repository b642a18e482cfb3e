package server

import (
	"context"
	"testing"
	"time"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "queue-1")
	defer cleanup()

	message := RealtimeMessage{
		QueueID:     "queue-1",
		EventType:   RealtimeEventQueueChanged,
		CustomerIDs: []string{"customer-a", "customer-b"},
		Timestamp:   time.Now().UTC(),
	}
	dispatcher.Publish(message)

	select {
	case received := <-stream:
		if received.EventType != RealtimeEventQueueChanged {
			t.Fatalf("expected event type %s, got %s", RealtimeEventQueueChanged, received.EventType)
		}
		if len(received.CustomerIDs) != 2 {
			t.Fatalf("expected 2 customer ids, got %d", len(received.CustomerIDs))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherIsolatedByQueue(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otherCtx, otherCancel := context.WithCancel(context.Background())
	defer otherCancel()

	queueStream, cleanup := dispatcher.Subscribe(ctx, "queue-2")
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(otherCtx, "queue-3")
	defer otherCleanup()

	dispatcher.Publish(RealtimeMessage{
		QueueID:     "queue-3",
		EventType:   RealtimeEventQueueChanged,
		CustomerIDs: []string{"customer-c"},
		Timestamp:   time.Now().UTC(),
	})

	select {
	case <-queueStream:
		t.Fatal("did not expect realtime message for unrelated queue")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.QueueID != "queue-3" {
			t.Fatalf("expected queue-3, received %s", msg.QueueID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed queue")
	}
}

func TestRealtimeDispatcherUnsubscribeLeavesOthersIntact(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstStream, firstCleanup := dispatcher.Subscribe(ctx, "queue-4")
	secondStream, secondCleanup := dispatcher.Subscribe(ctx, "queue-4")
	defer secondCleanup()

	firstCleanup()

	dispatcher.Publish(RealtimeMessage{
		QueueID:   "queue-4",
		EventType: RealtimeEventQueueChanged,
		Timestamp: time.Now().UTC(),
	})

	select {
	case msg := <-secondStream:
		if msg.QueueID != "queue-4" {
			t.Fatalf("expected queue-4, received %s", msg.QueueID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("remaining subscriber must still receive messages")
	}

	select {
	case _, open := <-firstStream:
		if open {
			t.Fatal("unsubscribed stream should not receive messages")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRealtimeDispatcherDropsWhenSubscriberIsFull(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "queue-5")
	defer cleanup()

	// Publish past the buffer without draining; Publish must never block.
	done := make(chan struct{})
	go func() {
		for index := 0; index < 64; index++ {
			dispatcher.Publish(RealtimeMessage{
				QueueID:   "queue-5",
				EventType: RealtimeEventQueueChanged,
				Timestamp: time.Now().UTC(),
			})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
		default:
			if received == 0 {
				t.Fatal("expected at least one buffered message")
			}
			if received > 16 {
				t.Fatalf("expected at most the buffer size, got %d", received)
			}
			return
		}
	}
}

func TestRealtimeDispatcherIgnoresEmptyQueueID(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()

	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()

	if _, open := <-stream; open {
		t.Fatal("expected closed stream for empty queue id")
	}

	// Publishing without a queue id is a no-op rather than a panic.
	dispatcher.Publish(RealtimeMessage{EventType: RealtimeEventQueueChanged})
}
