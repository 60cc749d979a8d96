// Package forward publishes tracking notifications to Kafka so other
// services can follow a session as it is recorded.
package forward

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"github.com/banshee-data/trackheat/internal/db"
	"github.com/banshee-data/trackheat/internal/monitoring"
	"github.com/banshee-data/trackheat/internal/tracking"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 5 * time.Second
)

var logf = monitoring.Prefixed("forward")

var (
	publishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trackheat",
		Subsystem: "forward",
		Name:      "events_published_total",
		Help:      "Number of tracking events written to Kafka, by event type.",
	}, []string{"type"})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trackheat",
		Subsystem: "forward",
		Name:      "events_dropped_total",
		Help:      "Number of tracking events discarded, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(publishedCounter, droppedCounter)
}

// MessageWriter is the part of *kafka.Writer the forwarder uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a synchronous writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Event is the JSON payload of one forwarded notification.
type Event struct {
	Type    string         `json:"type"` // "location" or "error"
	Point   *db.TrackPoint `json:"point,omitempty"`
	Message string         `json:"message,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// Forwarder is a tracking.Listener that queues events and writes them from
// its own goroutine. When the queue is full new events are dropped so the
// sampling loop never waits on the broker.
type Forwarder struct {
	w            MessageWriter
	writeTimeout time.Duration
	now          func() time.Time

	queue     chan kafka.Message
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ tracking.Listener = (*Forwarder)(nil)

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithQueueSize bounds the number of events waiting to be written.
func WithQueueSize(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.queue = make(chan kafka.Message, n)
		}
	}
}

// WithWriteTimeout bounds each write to the broker.
func WithWriteTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.writeTimeout = d
		}
	}
}

// New starts a forwarder writing through w.
func New(w MessageWriter, opts ...Option) *Forwarder {
	f := &Forwarder{
		w:            w,
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
		queue:        make(chan kafka.Message, DefaultQueueSize),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	go f.run()
	return f
}

func (f *Forwarder) LocationRecorded(p db.TrackPoint) {
	f.enqueue(p.SessionID, Event{Type: "location", Point: &p})
}

func (f *Forwarder) TrackingError(message string) {
	f.enqueue("", Event{Type: "error", Message: message})
}

func (f *Forwarder) enqueue(key string, ev Event) {
	ev.SentAt = f.now().UTC()
	value, err := json.Marshal(ev)
	if err != nil {
		droppedCounter.WithLabelValues("encode").Inc()
		logf("failed to encode %s event: %v", ev.Type, err)
		return
	}
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(ev.Type)}},
	}
	if ev.Point != nil {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "point_id", Value: []byte(strconv.FormatInt(ev.Point.ID, 10))})
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		droppedCounter.WithLabelValues("closed").Inc()
		return
	}
	select {
	case f.queue <- msg:
	default:
		droppedCounter.WithLabelValues("queue_full").Inc()
		logf("queue full, dropping %s event", ev.Type)
	}
}

func (f *Forwarder) run() {
	defer close(f.done)
	for msg := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.writeTimeout)
		err := f.w.WriteMessages(ctx, msg)
		cancel()

		eventType := headerValue(msg, "type")
		if err != nil {
			droppedCounter.WithLabelValues("write_failed").Inc()
			logf("failed to publish %s event: %v", eventType, err)
			continue
		}
		publishedCounter.WithLabelValues(eventType).Inc()
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Close stops accepting events, flushes the queue and closes the writer.
func (f *Forwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.queue)
		f.mu.Unlock()

		<-f.done
		err = f.w.Close()
	})
	return err
}
