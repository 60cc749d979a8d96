package tracking

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	samplesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trackheat",
		Subsystem: "tracking",
		Name:      "samples_recorded_total",
		Help:      "Number of position samples saved to the point store.",
	})

	failuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trackheat",
		Subsystem: "tracking",
		Name:      "sample_failures_total",
		Help:      "Number of failed sampling attempts grouped by failure class.",
	}, []string{"class"})

	requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trackheat",
		Subsystem: "tracking",
		Name:      "position_request_duration_seconds",
		Help:      "Time spent waiting on the position source per request.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	runningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trackheat",
		Subsystem: "tracking",
		Name:      "running",
		Help:      "1 while a sampling cycle is active.",
	})
)

func init() {
	prometheus.MustRegister(samplesCounter, failuresCounter, requestDuration, runningGauge)
}

func recordSample() {
	samplesCounter.Inc()
}

func recordFailure(class string) {
	failuresCounter.WithLabelValues(class).Inc()
}

func observeRequest(d time.Duration) {
	requestDuration.Observe(d.Seconds())
}

func setRunning(running bool) {
	if running {
		runningGauge.Set(1)
		return
	}
	runningGauge.Set(0)
}
