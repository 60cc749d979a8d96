package tracking

import "github.com/banshee-data/trackheat/internal/db"

// Listener receives loop notifications. Calls made by one Loop never overlap.
// Implementations run on the sampling goroutine, so they should return
// quickly and must not call Stop on the loop that invoked them. A fatal
// TrackingError arrives after the loop is Idle, so Start may be called from it.
type Listener interface {
	LocationRecorded(p db.TrackPoint)
	TrackingError(message string)
}

// ListenerFuncs adapts a pair of functions to Listener. Nil fields are
// skipped.
type ListenerFuncs struct {
	OnLocation func(p db.TrackPoint)
	OnError    func(message string)
}

func (f ListenerFuncs) LocationRecorded(p db.TrackPoint) {
	if f.OnLocation != nil {
		f.OnLocation(p)
	}
}

func (f ListenerFuncs) TrackingError(message string) {
	if f.OnError != nil {
		f.OnError(message)
	}
}

// MultiListener fans each notification out to every listener in order.
type MultiListener []Listener

func (m MultiListener) LocationRecorded(p db.TrackPoint) {
	for _, l := range m {
		l.LocationRecorded(p)
	}
}

func (m MultiListener) TrackingError(message string) {
	for _, l := range m {
		l.TrackingError(message)
	}
}

type nopListener struct{}

func (nopListener) LocationRecorded(db.TrackPoint) {}
func (nopListener) TrackingError(string)           {}
