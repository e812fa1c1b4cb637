package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"safesite-cloud/internal/observability/metrics"
)

const (
	// HeartbeatInterval bounds how long a half-open connection can
	// linger in the subscriber set.
	HeartbeatInterval = 5 * time.Minute

	frameBuffer = 16
)

// Frame is one named SSE frame.
type Frame struct {
	Event string
	Data  []byte
}

// ErrSubscriberGone is returned when a frame cannot be delivered.
var ErrSubscriberGone = errors.New("stream: subscriber gone")

// Subscription is one live subscriber connection owned by a broker.
type Subscription struct {
	id      string
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	frames chan Frame
}

// ID returns the opaque subscriber id.
func (s *Subscription) ID() string { return s.id }

// Timeout is the idle lifetime granted to this subscriber.
func (s *Subscription) Timeout() time.Duration { return s.timeout }

// Frames is the delivery channel; it is closed when the subscriber is
// removed from the broker.
func (s *Subscription) Frames() <-chan Frame { return s.frames }

// send delivers one frame without blocking. A full buffer means the
// consumer stopped draining; the subscriber is treated as dead.
func (s *Subscription) send(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberGone
	}
	select {
	case s.frames <- frame:
		return nil
	default:
		return ErrSubscriberGone
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
}

// Broker fans serialized events out to its subscribers. One instance
// exists per event class, injected where needed; subscriber lifetime is
// owned entirely by the broker.
type Broker struct {
	name    string
	timeout time.Duration
	logger  *log.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewBroker constructs a broker. The timeout applies per subscriber.
func NewBroker(name string, timeout time.Duration, logger *log.Logger) *Broker {
	return &Broker{
		name:    name,
		timeout: timeout,
		logger:  logger,
		subs:    make(map[string]*Subscription),
	}
}

// Subscribe registers a new subscriber and synchronously delivers the
// initial connect frame. If that delivery fails the subscriber is
// discarded without being registered.
func (b *Broker) Subscribe() (*Subscription, error) {
	sub := &Subscription{
		id:      uuid.NewString(),
		timeout: b.timeout,
		frames:  make(chan Frame, frameBuffer),
	}
	if err := sub.send(Frame{Event: "connect", Data: []byte("Connected successfully")}); err != nil {
		sub.close()
		return nil, err
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	count := len(b.subs)
	b.mu.Unlock()

	metrics.SetStreamSubscribers(b.name, count)
	if b.logger != nil {
		b.logger.Printf("stream[%s]: subscriber %s added, %d active", b.name, sub.id, count)
	}
	return sub, nil
}

// Remove drops a subscriber and closes its channel. Removing an
// already-removed id is a no-op.
func (b *Broker) Remove(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	count := len(b.subs)
	b.mu.Unlock()

	if !ok {
		return
	}
	sub.close()
	metrics.SetStreamSubscribers(b.name, count)
	if b.logger != nil {
		b.logger.Printf("stream[%s]: subscriber %s removed, %d active", b.name, id, count)
	}
}

// Len returns the number of active subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Broadcast serializes the payload once and delivers it to every
// subscriber. A failed delivery removes only that subscriber, after the
// full sweep completes, and never aborts the loop.
func (b *Broker) Broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		if b.logger != nil {
			b.logger.Printf("stream[%s]: cannot serialize %s payload: %v", b.name, event, err)
		}
		return
	}
	metrics.IncBroadcastFrame(b.name)
	b.sweep(Frame{Event: event, Data: data})
}

// Start runs the heartbeat loop until the context is cancelled.
// Subscribers that miss a heartbeat are removed independently of
// application traffic.
func (b *Broker) Start(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ping := fmt.Sprintf("ping_%d", now.UnixMilli())
			b.sweep(Frame{Event: "heartbeat", Data: []byte(ping)})
		}
	}
}

// sweep delivers one frame to a snapshot of the subscriber set and
// removes the failures afterwards (collect-then-remove), so a
// concurrently added subscriber is never double-processed.
func (b *Broker) sweep(frame Frame) {
	b.mu.Lock()
	snapshot := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	var dead []string
	for _, sub := range snapshot {
		if err := sub.send(frame); err != nil {
			dead = append(dead, sub.id)
		}
	}
	for _, id := range dead {
		if b.logger != nil {
			b.logger.Printf("stream[%s]: dropping subscriber %s after failed %s delivery", b.name, id, frame.Event)
		}
		b.Remove(id)
	}
}
