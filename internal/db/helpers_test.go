package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// newTestDB opens a store in a per-test temporary directory and closes it
// when the test finishes.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	d, err := NewDB(filepath.Join(t.TempDir(), "track.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("failed to close test DB: %v", err)
		}
	})
	return d
}

func ptr(f float64) *float64 {
	return &f
}

var baseTime = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

func pointAt(lat, lon float64, offset time.Duration) *TrackPoint {
	return &TrackPoint{
		Latitude:   lat,
		Longitude:  lon,
		RecordedAt: baseTime.Add(offset),
	}
}

func mustSave(t *testing.T, d *DB, p *TrackPoint) {
	t.Helper()
	if err := d.Save(context.Background(), p); err != nil {
		t.Fatalf("Save(%v) failed: %v", p, err)
	}
}
