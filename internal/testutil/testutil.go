// Package testutil provides shared test helpers: a throwaway point store,
// log muting and HTTP response checks.
package testutil

import (
	"context"
	"encoding/json"
	"log"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/trackheat/internal/db"
	"github.com/banshee-data/trackheat/internal/monitoring"
)

// BaseTime is the fixed instant fixtures are recorded relative to.
var BaseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// NewTrackDB opens an initialised store in a temp dir and closes it when the
// test ends.
func NewTrackDB(t *testing.T) *db.DB {
	t.Helper()

	store, err := db.NewDB(filepath.Join(t.TempDir(), "track.db"))
	if err != nil {
		t.Fatalf("failed to open track db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize track db: %v", err)
	}
	return store
}

// SeedPoints saves one point per coordinate pair, a second apart from
// BaseTime, and returns them with IDs assigned.
func SeedPoints(t *testing.T, store *db.DB, coords ...[2]float64) []db.TrackPoint {
	t.Helper()

	out := make([]db.TrackPoint, 0, len(coords))
	for i, c := range coords {
		p := &db.TrackPoint{
			Latitude:   c[0],
			Longitude:  c[1],
			RecordedAt: BaseTime.Add(time.Duration(i) * time.Second),
		}
		if err := store.Save(context.Background(), p); err != nil {
			t.Fatalf("failed to seed point %d: %v", i, err)
		}
		out = append(out, *p)
	}
	return out
}

// MuteLogs silences the monitoring logger for the rest of the test.
func MuteLogs(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// DecodeJSON unmarshals the recorder body into v, failing the test on error.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}
