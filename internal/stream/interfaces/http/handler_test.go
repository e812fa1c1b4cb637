package http

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"safesite-cloud/internal/stream"
)

func TestStreamDeliversConnectAndBroadcastFrames(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	broker := stream.NewBroker("alarm", time.Minute, logger)
	handler := NewStreamHandler(broker, logger)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse/alarm", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()

	// wait for the subscription to land, then push a frame
	deadline := time.After(2 * time.Second)
	for broker.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	broker.Broadcast("alarm", map[string]int{"construction_sites_id": 42})

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after disconnect")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: connect\ndata: Connected successfully\n\n") {
		t.Errorf("missing connect frame in %q", body)
	}
	if !strings.Contains(body, "event: alarm\ndata: {\"construction_sites_id\":42}\n\n") {
		t.Errorf("missing alarm frame in %q", body)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}
	if broker.Len() != 0 {
		t.Error("subscriber not removed after disconnect")
	}
}

func TestStreamClosesAtSubscriberLifetimeDespiteTraffic(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	broker := stream.NewBroker("alarm", 100*time.Millisecond, logger)
	handler := NewStreamHandler(broker, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/sse/alarm", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()

	// keep frames arriving well inside the lifetime, the way heartbeats
	// do, until the handler returns
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	expired := time.After(600 * time.Millisecond)
	for {
		select {
		case <-ticker.C:
			broker.Broadcast("alarm", map[string]int{"construction_sites_id": 1})
		case <-done:
			return
		case <-expired:
			t.Fatal("handler still open after 6x the subscriber lifetime")
		}
	}
}

func TestStreamRejectsNonGet(t *testing.T) {
	broker := stream.NewBroker("stat", time.Minute, log.New(io.Discard, "", 0))
	handler := NewStreamHandler(broker, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sse/stat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
	if broker.Len() != 0 {
		t.Error("rejected request must not register a subscriber")
	}
}
