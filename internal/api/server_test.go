package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trackheat/internal/db"
	"github.com/banshee-data/trackheat/internal/monitoring"
	"github.com/banshee-data/trackheat/internal/testutil"
	"github.com/banshee-data/trackheat/internal/tracking"
)

type fakeTracker struct {
	mu       sync.Mutex
	running  bool
	startErr error
	starts   int
	stops    int
}

func (f *fakeTracker) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeTracker) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	return nil
}

func (f *fakeTracker) IsTracking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeTracker) Status() tracking.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return tracking.Status{State: tracking.Running, SessionID: "session-1"}
	}
	return tracking.Status{State: tracking.Idle}
}

// failingStore fails every call with err.
type failingStore struct{ err error }

func (s failingStore) AllOrdered(context.Context) ([]db.TrackPoint, error) { return nil, s.err }
func (s failingStore) ClearAll(context.Context) error                      { return s.err }
func (s failingStore) Count(context.Context) (int64, error)                { return 0, s.err }

type statusBody struct {
	Tracking struct {
		State     string `json:"state"`
		SessionID string `json:"session_id"`
	} `json:"tracking"`
	Points  int64 `json:"points"`
	Version struct {
		Version string `json:"version"`
	} `json:"version"`
}

func setupServer(t *testing.T) (*Server, *db.DB, *fakeTracker, *Broker) {
	t.Helper()
	testutil.MuteLogs(t)

	store := testutil.NewTrackDB(t)
	tracker := &fakeTracker{}
	broker := NewBroker()
	t.Cleanup(broker.Close)
	return NewServer(tracker, store, broker, Options{Title: "Test walk", MaxImageSize: 1024}), store, tracker, broker
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	s, store, _, _ := setupServer(t)
	testutil.SeedPoints(t, store, [2]float64{51.5, -0.12}, [2]float64{51.6, -0.13})

	w := do(t, s, http.MethodGet, "/api/status")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var body statusBody
	testutil.DecodeJSON(t, w, &body)
	assert.Equal(t, "idle", body.Tracking.State)
	assert.Equal(t, int64(2), body.Points)
	assert.NotEmpty(t, body.Version.Version)
}

func TestStatusRejectsPost(t *testing.T) {
	s, _, _, _ := setupServer(t)

	w := do(t, s, http.MethodPost, "/api/status")
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	assert.Equal(t, "GET", w.Header().Get("Allow"))
}

func TestStartStopTracking(t *testing.T) {
	s, _, tracker, _ := setupServer(t)

	w := do(t, s, http.MethodPost, "/api/tracking/start")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var body statusBody
	testutil.DecodeJSON(t, w, &body)
	assert.Equal(t, "running", body.Tracking.State)
	assert.Equal(t, "session-1", body.Tracking.SessionID)
	assert.True(t, tracker.IsTracking())

	w = do(t, s, http.MethodPost, "/api/tracking/stop")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body = statusBody{}
	testutil.DecodeJSON(t, w, &body)
	assert.Equal(t, "idle", body.Tracking.State)
	assert.Equal(t, 1, tracker.starts)
	assert.Equal(t, 1, tracker.stops)
}

func TestStartTrackingRejectsGet(t *testing.T) {
	s, _, tracker, _ := setupServer(t)

	w := do(t, s, http.MethodGet, "/api/tracking/start")
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	assert.Zero(t, tracker.starts)
}

func TestStartTrackingErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"storage fault", fmt.Errorf("failed to initialize point store: %w", db.ErrStorageFault), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, tracker, _ := setupServer(t)
			tracker.startErr = tt.err

			w := do(t, s, http.MethodPost, "/api/tracking/start")
			testutil.AssertStatusCode(t, w.Code, tt.want)
			assert.Contains(t, w.Body.String(), "failed to start tracking")
		})
	}
}

func TestPointsListAndClear(t *testing.T) {
	s, store, _, broker := setupServer(t)
	seeded := testutil.SeedPoints(t, store, [2]float64{51.5, -0.12}, [2]float64{51.6, -0.13})

	w := do(t, s, http.MethodGet, "/api/points")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var points []db.TrackPoint
	testutil.DecodeJSON(t, w, &points)
	require.Len(t, points, 2)
	assert.Equal(t, seeded[0].ID, points[0].ID)
	assert.Equal(t, seeded[1].ID, points[1].ID)

	events, release := broker.Subscribe()
	defer release()

	w = do(t, s, http.MethodDelete, "/api/points")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.JSONEq(t, `{"cleared":true}`, w.Body.String())

	select {
	case ev := <-events:
		assert.Equal(t, EventCleared, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no cleared event")
	}

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClearPointsWhileTracking(t *testing.T) {
	s, store, tracker, _ := setupServer(t)
	testutil.SeedPoints(t, store, [2]float64{51.5, -0.12}, [2]float64{51.6, -0.13})
	require.NoError(t, tracker.Start(context.Background()))

	w := do(t, s, http.MethodDelete, "/api/points")
	testutil.AssertStatusCode(t, w.Code, http.StatusConflict)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "stop tracking before clearing points")

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, tracker.Stop())
	w = do(t, s, http.MethodDelete, "/api/points")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	n, err = store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPointsSpeedUnits(t *testing.T) {
	s, store, _, _ := setupServer(t)
	speed := 10.0
	require.NoError(t, store.Save(context.Background(), &db.TrackPoint{
		Latitude: 51.5, Longitude: -0.12, Speed: &speed, RecordedAt: testutil.BaseTime,
	}))
	testutil.SeedPoints(t, store, [2]float64{51.6, -0.13})

	w := do(t, s, http.MethodGet, "/api/points?units=kph")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "kph", w.Header().Get("X-Speed-Units"))

	var points []db.TrackPoint
	testutil.DecodeJSON(t, w, &points)
	require.Len(t, points, 2)
	require.NotNil(t, points[0].Speed)
	assert.InDelta(t, 36.0, *points[0].Speed, 1e-9)
	assert.Nil(t, points[1].Speed)

	w = do(t, s, http.MethodGet, "/api/points")
	assert.Equal(t, "mps", w.Header().Get("X-Speed-Units"))

	w = do(t, s, http.MethodGet, "/api/points?units=furlongs")
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestPointsRejectsPut(t *testing.T) {
	s, _, _, _ := setupServer(t)

	w := do(t, s, http.MethodPut, "/api/points")
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	assert.Equal(t, "GET, DELETE", w.Header().Get("Allow"))
}

func TestStoreFailures(t *testing.T) {
	testutil.MuteLogs(t)
	tracker := &fakeTracker{}
	broker := NewBroker()
	defer broker.Close()

	fault := NewServer(tracker, failingStore{err: fmt.Errorf("read track: %w", db.ErrStorageFault)}, broker, Options{})
	other := NewServer(tracker, failingStore{err: errors.New("closed")}, broker, Options{})

	for _, target := range []string{"/api/status", "/api/points", "/api/heatmap", "/api/heatmap/chart", "/api/heatmap.png"} {
		w := do(t, fault, http.MethodGet, target)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, target)

		w = do(t, other, http.MethodGet, target)
		assert.Equal(t, http.StatusInternalServerError, w.Code, target)
	}

	w := do(t, fault, http.MethodDelete, "/api/points")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHeatmap(t *testing.T) {
	s, store, _, _ := setupServer(t)
	testutil.SeedPoints(t, store,
		[2]float64{51.50001, -0.12001},
		[2]float64{51.50002, -0.12002},
		[2]float64{51.6, -0.2},
	)

	w := do(t, s, http.MethodGet, "/api/heatmap")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var body struct {
		Summary struct {
			Points       int     `json:"points"`
			Regions      int     `json:"regions"`
			LengthMeters float64 `json:"length_meters"`
		} `json:"summary"`
		Regions []struct {
			Count     int     `json:"count"`
			Intensity float64 `json:"intensity"`
			Color     string  `json:"color"`
		} `json:"regions"`
		Scale []string `json:"scale"`
	}
	testutil.DecodeJSON(t, w, &body)

	assert.Equal(t, 3, body.Summary.Points)
	assert.Equal(t, 2, body.Summary.Regions)
	assert.Greater(t, body.Summary.LengthMeters, 0.0)
	require.Len(t, body.Regions, 2)
	assert.Equal(t, 2, body.Regions[0].Count)
	assert.Equal(t, 1.0, body.Regions[0].Intensity)
	assert.Equal(t, "#2346C5FF", body.Regions[0].Color)
	assert.Equal(t, 1, body.Regions[1].Count)
	assert.NotEmpty(t, body.Scale)
}

func TestHeatmapEmpty(t *testing.T) {
	s, _, _, _ := setupServer(t)

	w := do(t, s, http.MethodGet, "/api/heatmap")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), `"regions":[]`)
}

func TestHeatmapChart(t *testing.T) {
	s, store, _, _ := setupServer(t)
	testutil.SeedPoints(t, store, [2]float64{51.5, -0.12})

	w := do(t, s, http.MethodGet, "/api/heatmap/chart")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Test walk")
}

func TestHeatmapPNG(t *testing.T) {
	s, store, _, _ := setupServer(t)
	testutil.SeedPoints(t, store, [2]float64{51.5, -0.12}, [2]float64{51.5001, -0.1201})

	w := do(t, s, http.MethodGet, "/api/heatmap.png?width=200&height=150")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG\r\n\x1a\n"))
}

func TestHeatmapPNGBadSize(t *testing.T) {
	s, _, _, _ := setupServer(t)

	for _, q := range []string{"width=abc", "width=10", "height=4096"} {
		w := do(t, s, http.MethodGet, "/api/heatmap.png?"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _, _ := setupServer(t)

	w := do(t, s, http.MethodGet, "/metrics")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestLoggingMiddleware(t *testing.T) {
	var lines []string
	var mu sync.Mutex
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(log.Printf)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status?x=1", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "418")
	assert.Contains(t, lines[0], "/api/status?x=1")
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"503"+colorReset, statusCodeColor(503))
	assert.Equal(t, "101", statusCodeColor(101))
}
