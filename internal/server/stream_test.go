package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestStreamEmitsQueueChangeEvents(t *testing.T) {
	harness := newTestHarness(t)
	created, _ := harness.createQueue(t, "Streaming Stand", "")

	streamRequest, err := http.NewRequest(http.MethodGet,
		harness.server.URL+"/queues/"+created.QueueID+"/stream", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build stream request: %v", err)
	}
	streamResponse, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	t.Cleanup(func() { streamResponse.Body.Close() })

	if streamResponse.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from stream, got %d", streamResponse.StatusCode)
	}
	if contentType := streamResponse.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("expected event-stream content type, got %s", contentType)
	}

	// The handler subscribes before flushing headers, so once the response
	// arrives the subscription is live and this join's event will be seen.
	joined := harness.join(t, created.QueueID, "Alice")

	type scanResult struct {
		eventType string
		payload   streamEventPayload
		err       error
	}
	results := make(chan scanResult, 1)
	go func() {
		scanner := bufio.NewScanner(streamResponse.Body)
		currentEvent := ""
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "event: ") {
				currentEvent = strings.TrimPrefix(line, "event: ")
				continue
			}
			if strings.HasPrefix(line, "data: ") && currentEvent == RealtimeEventQueueChanged {
				var payload streamEventPayload
				err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload)
				results <- scanResult{eventType: currentEvent, payload: payload, err: err}
				return
			}
		}
		results <- scanResult{err: scanner.Err()}
	}()

	select {
	case result := <-results:
		if result.err != nil {
			t.Fatalf("failed to read stream: %v", result.err)
		}
		if result.eventType != RealtimeEventQueueChanged {
			t.Fatalf("expected %s event, got %s", RealtimeEventQueueChanged, result.eventType)
		}
		if result.payload.QueueID != created.QueueID {
			t.Fatalf("expected event for %s, got %s", created.QueueID, result.payload.QueueID)
		}
		if len(result.payload.CustomerIDs) != 1 || result.payload.CustomerIDs[0] != joined.CustomerID {
			t.Fatalf("expected joined customer id in event, got %v", result.payload.CustomerIDs)
		}
		if result.payload.Source != realtimeSourceBackend {
			t.Fatalf("expected source %s, got %s", realtimeSourceBackend, result.payload.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a queue-change event within deadline")
	}
}

func TestStreamUnknownQueueReturnsNotFound(t *testing.T) {
	harness := newTestHarness(t)

	response, err := http.Get(harness.server.URL + "/queues/missing-0000/stream")
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown queue stream, got %d", response.StatusCode)
	}
}
