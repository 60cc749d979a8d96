package gps

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/banshee-data/trackheat/internal/timeutil"
	"github.com/banshee-data/trackheat/internal/tracking"
	"github.com/banshee-data/trackheat/internal/units"
)

const (
	// uereMeters is the user equivalent range error used to turn HDOP into
	// an approximate horizontal accuracy.
	uereMeters = 5.0
)

// LineSource is the subscription side of a Mux.
type LineSource interface {
	Subscribe() (string, chan string)
	Unsubscribe(id string)
}

// Receiver decodes NMEA lines into fixes. It tracks HDOP from GGA sentences
// and emits a fix for every valid RMC sentence.
type Receiver struct {
	lines LineSource
	id    string
	clock timeutil.Clock

	fixes chan tracking.Position
	done  chan struct{}

	mu          sync.Mutex
	hdop        float64
	sentences   int64
	parseErrors int64
}

// NewReceiver subscribes to lines and starts decoding in the background
// until the line channel closes.
func NewReceiver(lines LineSource, clock timeutil.Clock) *Receiver {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	id, ch := lines.Subscribe()
	r := &Receiver{
		lines: lines,
		id:    id,
		clock: clock,
		fixes: make(chan tracking.Position, 1),
		done:  make(chan struct{}),
	}
	go r.consume(ch)
	return r
}

func (r *Receiver) consume(ch <-chan string) {
	defer close(r.done)
	for line := range ch {
		if pos, ok := r.handle(line); ok {
			r.publish(pos)
		}
	}
}

// publish keeps only the newest fix; a fix nobody asked for is replaced.
func (r *Receiver) publish(pos tracking.Position) {
	select {
	case r.fixes <- pos:
		return
	default:
	}
	select {
	case <-r.fixes:
	default:
	}
	r.fixes <- pos
}

func (r *Receiver) handle(line string) (tracking.Position, bool) {
	s, err := nmea.Parse(line)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.parseErrors++
		return tracking.Position{}, false
	}
	r.sentences++

	switch m := s.(type) {
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			r.hdop = 0
		} else {
			r.hdop = m.HDOP
		}
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return tracking.Position{}, false
		}
		return r.positionFromRMC(m), true
	}
	return tracking.Position{}, false
}

func (r *Receiver) positionFromRMC(m nmea.RMC) tracking.Position {
	speed := units.KnotsToMPS(m.Speed)
	pos := tracking.Position{
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Speed:     &speed,
		Timestamp: fixTime(m.Date, m.Time),
	}
	if pos.Timestamp.IsZero() {
		pos.Timestamp = r.clock.Now().UTC()
	}
	if r.hdop > 0 {
		acc := r.hdop * uereMeters
		pos.Accuracy = &acc
	}
	return pos
}

// fixTime combines an RMC date and time into a UTC instant. NMEA carries a
// two digit year, taken to be in this century.
func fixTime(d nmea.Date, t nmea.Time) time.Time {
	if !d.Valid || !t.Valid {
		return time.Time{}
	}
	return time.Date(2000+d.YY, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}

// GetPosition returns the newest unread fix, waiting for one if needed.
// req.Timeout bounds the wait when ctx carries no deadline of its own.
func (r *Receiver) GetPosition(ctx context.Context, req tracking.Request) (*tracking.Position, error) {
	if _, ok := ctx.Deadline(); !ok && req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	select {
	case pos := <-r.fixes:
		return &pos, nil
	default:
	}

	select {
	case pos := <-r.fixes:
		return &pos, nil
	case <-r.done:
		return nil, fmt.Errorf("%w: receiver stream closed", tracking.ErrServiceDisabled)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no valid fix", tracking.ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

// Stats reports how many sentences were decoded and how many were rejected.
func (r *Receiver) Stats() (sentences, parseErrors int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sentences, r.parseErrors
}

// Done is closed once the line stream has ended.
func (r *Receiver) Done() <-chan struct{} { return r.done }

// Close detaches the receiver from its line source.
func (r *Receiver) Close() {
	r.lines.Unsubscribe(r.id)
}
