package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const streamHeartbeatInterval = 15 * time.Second

type streamEventPayload struct {
	QueueID     string   `json:"queue_id"`
	CustomerIDs []string `json:"customer_ids,omitempty"`
	Source      string   `json:"source"`
	Timestamp   int64    `json:"timestamp_s"`
}

// handleStream serves the per-queue SSE change feed. Events only signal
// "refresh now"; subscribers re-fetch the roster for authoritative state.
// There is no replay across reconnects.
func (h *httpHandler) handleStream(c *gin.Context) {
	queueID := c.Param("queueId")

	if _, err := h.queues.GetQueue(c.Request.Context(), queueID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	// Subscribe before the headers go out so no mutation between the two is missed.
	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context(), queueID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			if err := writeStreamEvent(c.Writer, message.EventType, streamEventPayload{
				QueueID:     message.QueueID,
				CustomerIDs: message.CustomerIDs,
				Source:      realtimeSourceBackend,
				Timestamp:   message.Timestamp.Unix(),
			}); err != nil {
				h.logger.Debug("stream write failed", zap.String("queue_id", queueID), zap.Error(err))
				return
			}
			flusher.Flush()
		case now := <-heartbeat.C:
			if err := writeStreamEvent(c.Writer, realtimeEventHeartbeat, streamEventPayload{
				QueueID:   queueID,
				Source:    realtimeSourceBackend,
				Timestamp: now.UTC().Unix(),
			}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeStreamEvent(writer http.ResponseWriter, eventType string, payload streamEventPayload) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", eventType, encoded)
	return err
}
