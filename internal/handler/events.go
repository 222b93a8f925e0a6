package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adforge/adforge/internal/middleware"
)

const eventReplayLimit = 500

// Events handles SSE event streaming for the caller's identity.
// GET /api/events
// Query parameters:
//   - after: sequence number to replay persisted events after
//
// Without it, only new events from the time of connection are streamed.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	sc := middleware.GetSessionContext(r.Context())
	if sc.UserID == "" && sc.SessionID == "" {
		h.Error(w, http.StatusBadRequest, "No identity: authenticate or send "+middleware.SessionHeader)
		return
	}
	subject := sc.Subject()

	// Check if the client supports SSE
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Subscribe BEFORE replaying history so nothing slips between fetching
	// history and subscribing
	sub := h.eventBroker.Subscribe(subject)
	defer h.eventBroker.Unsubscribe(sub)

	// Send initial connection event
	fmt.Fprintf(w, "event: connected\ndata: {\"subject\":%q}\n\n", subject)
	flusher.Flush()

	// Replay persisted events on reconnect, then dedupe against the live
	// stream by sequence number
	var replayedThrough int64
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		afterSeq, err := strconv.ParseInt(afterStr, 10, 64)
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: {\"error\":\"invalid after parameter, expected a sequence number\"}\n\n")
			flusher.Flush()
		} else {
			events, err := h.eventBroker.EventsAfter(r.Context(), subject, afterSeq, eventReplayLimit)
			if err != nil {
				fmt.Fprintf(w, "event: error\ndata: {\"error\":\"failed to get historical events\"}\n\n")
				flusher.Flush()
			} else {
				for _, event := range events {
					data, err := json.Marshal(event)
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
					replayedThrough = event.Seq
				}
				flusher.Flush()
			}
		}
	}

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	// Stream new events until client disconnects
	for {
		select {
		case <-r.Context().Done():
			// Client disconnected
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-sub.Events:
			if !ok {
				// Channel closed
				return
			}

			// Skip anything already sent during replay
			if event.Seq <= replayedThrough {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				continue
			}

			// Write SSE format: event: <type>\ndata: <json>\n\n
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
