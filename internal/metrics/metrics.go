package metrics

import (
	"sync"

	"uploadflow/internal/upload"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "uploadflow"

// Recorder turns scheduler events into Prometheus metrics. It implements
// upload.Notifier.
type Recorder struct {
	started  *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	parts    prometheus.Counter
	bytes    prometheus.Counter
	active   prometheus.Gauge
	sessions prometheus.Histogram

	mu      sync.Mutex
	running map[*upload.File]struct{}
}

// MustNewRecorder registers the upload collectors with reg, the default
// registerer when nil. Registration errors panic.
func MustNewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_started_total",
			Help:      "Uploads that started transferring, by mode.",
		}, []string{"mode"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Finished uploads by outcome.",
		}, []string{"outcome"}),
		parts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parts_confirmed_total",
			Help:      "Multipart parts acknowledged by the server.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Size of successfully uploaded files.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_uploads",
			Help:      "Uploads currently transferring.",
		}),
		sessions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_parts",
			Help:      "Number of parts per multipart session.",
			Buckets:   prometheus.ExponentialBuckets(2, 4, 8),
		}),
		running: make(map[*upload.File]struct{}),
	}
	reg.MustRegister(r.started, r.outcomes, r.parts, r.bytes, r.active, r.sessions)
	return r
}

func (r *Recorder) Notify(ev upload.Event) {
	switch ev.Type {
	case upload.EventMultipartStarted:
		if ev.Session != nil {
			r.sessions.Observe(float64(ev.Session.PartCount()))
		}
	case upload.EventUploading:
		mode := "direct"
		if ev.Session != nil {
			mode = "multipart"
		}
		r.started.WithLabelValues(mode).Inc()
		r.mu.Lock()
		if _, ok := r.running[ev.File]; !ok {
			r.running[ev.File] = struct{}{}
			r.active.Inc()
		}
		r.mu.Unlock()
	case upload.EventProgressParts:
		r.parts.Inc()
	case upload.EventUploaded:
		r.outcomes.WithLabelValues("uploaded").Inc()
		if ev.File != nil {
			r.bytes.Add(float64(ev.File.Size))
		}
		r.stopped(ev.File)
	case upload.EventFailed:
		r.outcomes.WithLabelValues("failed").Inc()
		r.stopped(ev.File)
	case upload.EventFactoryFailed:
		r.outcomes.WithLabelValues("factory_failed").Inc()
	}
}

func (r *Recorder) stopped(f *upload.File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[f]; ok {
		delete(r.running, f)
		r.active.Dec()
	}
}
