package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Epistemic-Technology/vision-ocr/models"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	FetchTotal        *prometheus.CounterVec
	FetchDuration     prometheus.Histogram
	UnitsTotal        *prometheus.CounterVec
	InferenceTotal    *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec
	DroppedInputs     prometheus.Counter
	BatchesInFlight   prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		FetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vision_ocr_fetch_total",
			Help: "Remote references fetched, by outcome",
		}, []string{"outcome"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vision_ocr_fetch_duration_seconds",
			Help:    "Time spent fetching one remote reference, retries included",
			Buckets: prometheus.DefBuckets,
		}),
		UnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vision_ocr_units_total",
			Help: "Batch units processed, by outcome",
		}, []string{"outcome"}),
		InferenceTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vision_ocr_inference_total",
			Help: "Inference calls, by provider and outcome",
		}, []string{"provider", "outcome"}),
		InferenceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vision_ocr_inference_duration_seconds",
			Help:    "Latency of a single inference call",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"provider"}),
		DroppedInputs: factory.NewCounter(prometheus.CounterOpts{
			Name: "vision_ocr_dropped_inputs_total",
			Help: "Inputs dropped during resolution because they were neither URLs nor existing paths",
		}),
		BatchesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vision_ocr_batches_in_flight",
			Help: "Batches currently running",
		}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func outcomeLabel(kind models.ErrorKind) string {
	if kind == "" {
		return "ok"
	}
	return string(kind)
}

func (m *Metrics) ObserveFetch(kind models.ErrorKind, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(outcomeLabel(kind)).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveInference(provider string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.InferenceTotal.WithLabelValues(provider, outcome).Inc()
	m.InferenceDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) IncUnit(success bool) {
	if m == nil {
		return
	}
	if success {
		m.UnitsTotal.WithLabelValues("success").Inc()
	} else {
		m.UnitsTotal.WithLabelValues("failure").Inc()
	}
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.DroppedInputs.Inc()
}

// TrackBatch marks a batch as running and returns the func that ends it.
func (m *Metrics) TrackBatch() func() {
	if m == nil {
		return func() {}
	}
	m.BatchesInFlight.Inc()
	return m.BatchesInFlight.Dec
}
