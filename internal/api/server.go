// Package api serves the tracker's HTTP surface: tracking control, the
// recorded track, the heat-map in three formats and a live event stream.
package api

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/trackheat/internal/db"
	"github.com/banshee-data/trackheat/internal/heatmap"
	"github.com/banshee-data/trackheat/internal/httputil"
	"github.com/banshee-data/trackheat/internal/monitoring"
	"github.com/banshee-data/trackheat/internal/tracking"
	"github.com/banshee-data/trackheat/internal/units"
	"github.com/banshee-data/trackheat/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultImageWidth  = 800
	defaultImageHeight = 800
	minImageSize       = 64
)

// Tracker is the tracking loop as seen by the handlers.
type Tracker interface {
	Start(ctx context.Context) error
	Stop() error
	IsTracking() bool
	Status() tracking.Status
}

// PointStore is the read and clear side of the point store.
type PointStore interface {
	AllOrdered(ctx context.Context) ([]db.TrackPoint, error)
	ClearAll(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// Options tunes the heat-map exports.
type Options struct {
	Title        string
	MaxImageSize int
}

type Server struct {
	tracker Tracker
	store   PointStore
	events  *Broker
	opts    Options
}

func NewServer(tracker Tracker, store PointStore, events *Broker, opts Options) *Server {
	if opts.Title == "" {
		opts.Title = "Visited places"
	}
	if opts.MaxImageSize < minImageSize {
		opts.MaxImageSize = 2048
	}
	return &Server{
		tracker: tracker,
		store:   store,
		events:  events,
		opts:    opts,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/tracking/start", s.startTracking)
	mux.HandleFunc("/api/tracking/stop", s.stopTracking)
	mux.HandleFunc("/api/points", s.points)
	mux.HandleFunc("/api/heatmap", s.showHeatmap)
	mux.HandleFunc("/api/heatmap/chart", s.showHeatmapChart)
	mux.HandleFunc("/api/heatmap.png", s.showHeatmapPNG)
	mux.HandleFunc("/api/events", s.events.ServeHTTP)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Tracking tracking.Status `json:"tracking"`
	Points   int64           `json:"points"`
	Version  version.Info    `json:"version"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	s.writeStatus(w, r, http.StatusOK)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, code int) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		s.storeError(w, "failed to count points", err)
		return
	}
	httputil.WriteJSON(w, code, StatusResponse{
		Tracking: s.tracker.Status(),
		Points:   n,
		Version:  version.Current(),
	})
}

func (s *Server) startTracking(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodPost) {
		return
	}
	if err := s.tracker.Start(r.Context()); err != nil {
		s.storeError(w, "failed to start tracking", err)
		return
	}
	s.writeStatus(w, r, http.StatusOK)
}

func (s *Server) stopTracking(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodPost) {
		return
	}
	if err := s.tracker.Stop(); err != nil {
		httputil.InternalServerError(w, "failed to stop tracking")
		monitoring.Logf("stop tracking: %v", err)
		return
	}
	s.writeStatus(w, r, http.StatusOK)
}

func (s *Server) points(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet, http.MethodDelete) {
		return
	}

	if r.Method == http.MethodDelete {
		if s.tracker.IsTracking() {
			httputil.Conflict(w, "stop tracking before clearing points")
			return
		}
		if err := s.store.ClearAll(r.Context()); err != nil {
			s.storeError(w, "failed to clear points", err)
			return
		}
		s.events.Publish(Event{Type: EventCleared})
		httputil.WriteJSONOK(w, map[string]bool{"cleared": true})
		return
	}

	speedUnits := r.URL.Query().Get("units")
	if speedUnits == "" {
		speedUnits = units.MPS
	}
	if !units.IsValid(speedUnits) {
		httputil.BadRequest(w, "units must be one of: "+units.GetValidUnitsString())
		return
	}

	points, err := s.store.AllOrdered(r.Context())
	if err != nil {
		s.storeError(w, "failed to retrieve points", err)
		return
	}
	if speedUnits != units.MPS {
		for i := range points {
			if points[i].Speed != nil {
				v := units.ConvertSpeed(*points[i].Speed, speedUnits)
				points[i].Speed = &v
			}
		}
	}
	w.Header().Set("X-Speed-Units", speedUnits)
	httputil.WriteJSONOK(w, points)
}

// HeatmapResponse is the body of GET /api/heatmap.
type HeatmapResponse struct {
	Summary heatmap.Summary  `json:"summary"`
	Regions []heatmap.Region `json:"regions"`
	Scale   []string         `json:"scale"`
}

// regions loads the track and aggregates it. On failure it has already
// written the error response.
func (s *Server) regions(w http.ResponseWriter, r *http.Request) ([]db.TrackPoint, []heatmap.Region, bool) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return nil, nil, false
	}
	points, err := s.store.AllOrdered(r.Context())
	if err != nil {
		s.storeError(w, "failed to retrieve points", err)
		return nil, nil, false
	}
	return points, heatmap.Collect(points), true
}

func (s *Server) showHeatmap(w http.ResponseWriter, r *http.Request) {
	points, regions, ok := s.regions(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, HeatmapResponse{
		Summary: heatmap.Summarize(points, regions),
		Regions: regions,
		Scale:   heatmap.StopColors(),
	})
}

func (s *Server) showHeatmapChart(w http.ResponseWriter, r *http.Request) {
	_, regions, ok := s.regions(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := heatmap.RenderChart(&buf, regions, s.opts.Title); err != nil {
		monitoring.Logf("render heat-map chart: %v", err)
		httputil.InternalServerError(w, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) showHeatmapPNG(w http.ResponseWriter, r *http.Request) {
	width, err := httputil.IntQuery(r, "width", defaultImageWidth, minImageSize, s.opts.MaxImageSize)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	height, err := httputil.IntQuery(r, "height", defaultImageHeight, minImageSize, s.opts.MaxImageSize)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	_, regions, ok := s.regions(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := heatmap.RenderPNG(&buf, regions, s.opts.Title, width, height); err != nil {
		monitoring.Logf("render heat-map png: %v", err)
		httputil.InternalServerError(w, "failed to render image")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

// storeError maps a store failure onto a response: storage faults are 503
// because the medium may recover, anything else is a 500.
func (s *Server) storeError(w http.ResponseWriter, msg string, err error) {
	monitoring.Logf("%s: %v", msg, err)
	if errors.Is(err, db.ErrStorageFault) {
		httputil.ServiceUnavailable(w, msg)
		return
	}
	httputil.InternalServerError(w, msg)
}

// ErrorLog adapts the monitoring logger for http.Server.ErrorLog.
func ErrorLog() *log.Logger {
	return log.New(logWriter{}, "http: ", 0)
}

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	monitoring.Logf("%s", bytes.TrimRight(p, "\n"))
	return len(p), nil
}
