package tracking

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/trackheat/internal/db"
	"github.com/banshee-data/trackheat/internal/monitoring"
	"github.com/banshee-data/trackheat/internal/timeutil"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

var logf = monitoring.Prefixed("tracking")

// State is the loop's lifecycle state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the loop. Counters cover the current
// session, or the last one once the loop is idle again.
type Status struct {
	State           State      `json:"state"`
	SessionID       string     `json:"session_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	SamplesRecorded int64      `json:"samples_recorded"`
	ErrorsReported  int64      `json:"errors_reported"`
	LastError       string     `json:"last_error,omitempty"`
	LastPointAt     *time.Time `json:"last_point_at,omitempty"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the wait between sampling attempts.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithRequestTimeout bounds each position request.
func WithRequestTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.requestTimeout = d
		}
	}
}

// WithAccuracy sets the accuracy hint passed to the source.
func WithAccuracy(a Accuracy) Option {
	return func(l *Loop) { l.accuracy = a }
}

// WithClock replaces the clock used for interval waits.
func WithClock(c timeutil.Clock) Option {
	return func(l *Loop) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithListener sets the notification listener. Use MultiListener for more
// than one.
func WithListener(ln Listener) Option {
	return func(l *Loop) {
		if ln != nil {
			l.listener = ln
		}
	}
}

// Loop owns at most one sampling cycle at a time.
type Loop struct {
	source         PositionSource
	store          PointStore
	interval       time.Duration
	requestTimeout time.Duration
	accuracy       Accuracy
	clock          timeutil.Clock
	listener       Listener

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	sessionID   string
	startedAt   time.Time
	samples     int64
	errs        int64
	lastErr     string
	lastPointAt time.Time

	// notifyMu keeps listener calls from overlapping.
	notifyMu sync.Mutex
}

// New returns an idle loop reading from source and writing to store.
func New(source PositionSource, store PointStore, opts ...Option) *Loop {
	l := &Loop{
		source:         source,
		store:          store,
		interval:       DefaultInterval,
		requestTimeout: DefaultRequestTimeout,
		accuracy:       AccuracyBest,
		clock:          timeutil.RealClock{},
		listener:       nopListener{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start initialises the store and launches the sampling cycle in the
// background. It is a no-op while a cycle is running. The cycle is not tied
// to ctx's cancellation; use Stop to end it.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return nil
	}
	if err := l.store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize point store: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.sessionID = uuid.NewString()
	l.startedAt = l.clock.Now().UTC()
	l.samples, l.errs = 0, 0
	l.lastErr = ""
	l.lastPointAt = time.Time{}
	setRunning(true)

	logf("session %s started (interval %s, timeout %s, accuracy %s)",
		l.sessionID, l.interval, l.requestTimeout, l.accuracy)
	go l.run(runCtx, l.sessionID, done)
	return nil
}

// Stop cancels the running cycle and waits for it to exit. No sample is
// saved after Stop returns. It is a no-op when idle.
func (l *Loop) Stop() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// IsTracking reports whether a sampling cycle is active.
func (l *Loop) IsTracking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Status returns a snapshot of the loop state.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Status{
		State:           Idle,
		SessionID:       l.sessionID,
		SamplesRecorded: l.samples,
		ErrorsReported:  l.errs,
		LastError:       l.lastErr,
	}
	if l.cancel != nil {
		s.State = Running
	}
	if !l.startedAt.IsZero() {
		t := l.startedAt
		s.StartedAt = &t
	}
	if !l.lastPointAt.IsZero() {
		t := l.lastPointAt
		s.LastPointAt = &t
	}
	return s
}

func (l *Loop) run(ctx context.Context, sessionID string, done chan struct{}) {
	defer close(done)
	defer l.finish(done)

	for {
		stop, fatal := l.sample(ctx, sessionID)
		if fatal != "" {
			// Idle first so the listener can restart from its callback.
			l.finish(done)
			l.notifyError(fatal)
			return
		}
		if stop {
			return
		}
		if !l.wait(ctx) {
			return
		}
	}
}

// finish returns the loop to Idle unless a newer cycle already replaced
// this one.
func (l *Loop) finish(done chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != done {
		return
	}
	l.cancel()
	l.cancel = nil
	l.done = nil
	setRunning(false)
	logf("session %s stopped after %d samples", l.sessionID, l.samples)
}

// sample runs one attempt and reports whether the cycle must end. A fatal
// failure is counted but not yet notified; its message is returned instead.
func (l *Loop) sample(ctx context.Context, sessionID string) (stop bool, fatal string) {
	defer func() {
		if r := recover(); r != nil {
			logf("panic while sampling: %v\n%s", r, debug.Stack())
			l.report(failure{"panic", MessageUnexpected, false}, fmt.Errorf("panic: %v", r))
			stop, fatal = ctx.Err() != nil, ""
		}
	}()

	point, err := l.record(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return true, ""
		}
		f := classify(err)
		if f.fatal {
			l.count(f, err)
			return true, f.message
		}
		l.report(f, err)
		return false, ""
	}
	if point != nil {
		l.notifyRecorded(*point)
	}
	return ctx.Err() != nil, ""
}

// record requests one position and saves it. A nil point with a nil error
// means the source had no fix.
func (l *Loop) record(ctx context.Context, sessionID string) (*db.TrackPoint, error) {
	reqCtx, cancel := context.WithTimeout(ctx, l.requestTimeout)
	defer cancel()

	began := time.Now()
	pos, err := l.source.GetPosition(reqCtx, Request{Accuracy: l.accuracy, Timeout: l.requestTimeout})
	observeRequest(time.Since(began))
	if err != nil {
		if ctx.Err() == nil && reqCtx.Err() != nil {
			return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, l.requestTimeout, err)
		}
		return nil, err
	}
	if pos == nil {
		return nil, nil
	}

	point := &db.TrackPoint{
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		Accuracy:   pos.Accuracy,
		Speed:      pos.Speed,
		RecordedAt: pos.Timestamp.UTC(),
		SessionID:  sessionID,
	}
	if point.RecordedAt.IsZero() {
		point.RecordedAt = l.clock.Now().UTC()
	}
	if err := point.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	if err := l.store.Save(ctx, point); err != nil {
		return nil, err
	}

	recordSample()
	l.mu.Lock()
	l.samples++
	l.lastPointAt = point.RecordedAt
	l.mu.Unlock()
	return point, nil
}

// wait blocks for one interval. It returns false if ctx ended first.
func (l *Loop) wait(ctx context.Context) bool {
	t := l.clock.NewTimer(l.interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}

func (l *Loop) report(f failure, err error) {
	l.count(f, err)
	l.notifyError(f.message)
}

func (l *Loop) count(f failure, err error) {
	recordFailure(f.label)
	logf("%s (%s): %v", f.message, f.label, err)

	l.mu.Lock()
	l.errs++
	l.lastErr = f.message
	l.mu.Unlock()
}

func (l *Loop) notifyRecorded(p db.TrackPoint) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	defer l.recoverListener("LocationRecorded")
	l.listener.LocationRecorded(p)
}

func (l *Loop) notifyError(message string) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	defer l.recoverListener("TrackingError")
	l.listener.TrackingError(message)
}

func (l *Loop) recoverListener(event string) {
	if r := recover(); r != nil {
		logf("listener panicked in %s: %v", event, r)
	}
}
