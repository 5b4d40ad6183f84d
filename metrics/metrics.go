// Package metrics exports detection metrics to prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvr-ai/marine-detect/inference"
	"github.com/nvr-ai/marine-detect/models/postprocess"
)

const namespace = "marine_detect"

// Failure kinds reported on the failures counter.
const (
	KindInvalidImage = "invalid_image"
	KindRuntime      = "runtime"
	KindCanceled     = "canceled"
	KindOther        = "other"
)

var _ inference.Observer = (*Collector)(nil)

// Collector records per-model inference latency, detection counts and
// failures. It is an inference.Observer.
type Collector struct {
	registry   *prometheus.Registry
	latency    *prometheus.HistogramVec
	detections *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_seconds",
			Help:      "Model runtime latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"model"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detections returned after suppression.",
		}, []string{"model", "class"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Failed decode calls.",
		}, []string{"model", "kind"}),
	}

	c.registry.MustRegister(c.latency, c.detections, c.failures)
	return c
}

// ObserveDecode records one decode call.
func (c *Collector) ObserveDecode(model string, elapsed time.Duration, detections []postprocess.Detection, err error) {
	if err != nil {
		c.failures.WithLabelValues(model, Kind(err)).Inc()
		if elapsed > 0 {
			c.latency.WithLabelValues(model).Observe(elapsed.Seconds())
		}
		return
	}

	c.latency.WithLabelValues(model).Observe(elapsed.Seconds())
	for _, d := range detections {
		c.detections.WithLabelValues(model, d.Class).Inc()
	}
}

// Kind classifies a decode error for the failures counter.
func Kind(err error) string {
	switch {
	case errors.Is(err, inference.ErrInvalidImage):
		return KindInvalidImage
	case inference.IsRuntimeError(err):
		return KindRuntime
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindOther
	}
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
