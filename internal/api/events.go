package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/trackheat/internal/db"
	"github.com/banshee-data/trackheat/internal/tracking"
)

// Event types sent on the /api/events stream.
const (
	EventLocation = "location"
	EventError    = "error"
	EventCleared  = "cleared"
)

const (
	eventBuffer       = 32
	keepAliveInterval = 15 * time.Second
)

// Event is one server-sent event.
type Event struct {
	Type    string         `json:"type"`
	Point   *db.TrackPoint `json:"point,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Broker is a tracking.Listener that relays notifications to every open
// event stream. Slow streams lose events rather than hold up the loop.
type Broker struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

var _ tracking.Listener = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]struct{})}
}

func (b *Broker) LocationRecorded(p db.TrackPoint) {
	b.Publish(Event{Type: EventLocation, Point: &p})
}

func (b *Broker) TrackingError(message string) {
	b.Publish(Event{Type: EventError, Message: message})
}

// Publish delivers ev to every subscriber with room for it.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of events and a func that releases it.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Subscribers reports the number of open streams.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every stream. Later subscribers get a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// ServeHTTP streams events as text/event-stream until the client goes away
// or the broker closes.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	events, release := b.Subscribe()
	defer release()

	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
