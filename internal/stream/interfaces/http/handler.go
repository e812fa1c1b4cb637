package http

import (
	"log"
	"net/http"
	"time"

	"safesite-cloud/internal/stream"
)

// StreamHandler serves one broker's SSE stream.
type StreamHandler struct {
	broker *stream.Broker
	logger *log.Logger
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *stream.Broker, logger *log.Logger) *StreamHandler {
	return &StreamHandler{broker: broker, logger: logger}
}

// ServeHTTP handles a long-lived SSE subscription.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := h.broker.Subscribe()
	if err != nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Remove(sub.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// absolute connection lifetime; traffic does not extend it, the
	// client reconnects when it expires
	deadline := time.NewTimer(sub.Timeout())
	defer deadline.Stop()

	notify := r.Context().Done()
	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			if err := writeFrame(w, frame); err != nil {
				if h.logger != nil {
					h.logger.Printf("stream: write to %s failed: %v", sub.ID(), err)
				}
				return
			}
			flusher.Flush()
		case <-deadline.C:
			if h.logger != nil {
				h.logger.Printf("stream: subscriber %s reached its lifetime", sub.ID())
			}
			return
		case <-notify:
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, frame stream.Frame) error {
	if _, err := w.Write([]byte("event: " + frame.Event + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(frame.Data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
