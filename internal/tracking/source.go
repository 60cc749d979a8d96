// Package tracking runs the background sampling cycle: it pulls positions
// from a PositionSource, appends them to the point store and tells listeners
// what happened.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/trackheat/internal/db"
)

// Errors a PositionSource may return. The first three end the sampling
// cycle; everything else is reported and the cycle carries on.
var (
	ErrServiceDisabled    = errors.New("location service disabled")
	ErrServiceUnsupported = errors.New("location service unsupported")
	ErrPermissionDenied   = errors.New("location permission denied")
	ErrTimeout            = errors.New("location request timed out")
)

// ErrInvalidPosition marks a fix the store would reject, such as NaN or
// out-of-range coordinates.
var ErrInvalidPosition = errors.New("invalid position")

// Accuracy is the precision a caller would like from the source. Sources
// treat it as a hint.
type Accuracy int

const (
	AccuracyDefault Accuracy = iota
	AccuracyLow
	AccuracyMedium
	AccuracyHigh
	AccuracyBest
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyLow:
		return "low"
	case AccuracyMedium:
		return "medium"
	case AccuracyHigh:
		return "high"
	case AccuracyBest:
		return "best"
	default:
		return "default"
	}
}

// ParseAccuracy maps a name as produced by Accuracy.String back to its value.
func ParseAccuracy(s string) (Accuracy, error) {
	for a := AccuracyDefault; a <= AccuracyBest; a++ {
		if strings.EqualFold(strings.TrimSpace(s), a.String()) {
			return a, nil
		}
	}
	return AccuracyDefault, fmt.Errorf("unknown accuracy %q", s)
}

// Request describes one position request.
type Request struct {
	Accuracy Accuracy
	Timeout  time.Duration
}

// Position is a single fix as reported by a source. Timestamp is the time
// the source took the fix, not the time it was delivered.
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64 // metres
	Speed     *float64 // metres per second
	Timestamp time.Time
}

// PositionSource produces position fixes. GetPosition may return (nil, nil)
// when no fix is available; the loop skips such samples. It must return
// promptly once ctx is done.
type PositionSource interface {
	GetPosition(ctx context.Context, req Request) (*Position, error)
}

// PositionSourceFunc adapts a function to PositionSource.
type PositionSourceFunc func(ctx context.Context, req Request) (*Position, error)

func (f PositionSourceFunc) GetPosition(ctx context.Context, req Request) (*Position, error) {
	return f(ctx, req)
}

// PointStore is the part of the store the loop writes through. *db.DB
// satisfies it.
type PointStore interface {
	Initialize(ctx context.Context) error
	Save(ctx context.Context, p *db.TrackPoint) error
}

var _ PointStore = (*db.DB)(nil)
