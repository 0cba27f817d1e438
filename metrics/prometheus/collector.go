// Package prometheus exports fastdna operation metrics to Prometheus.
package prometheus

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/fastdna"
)

var _ fastdna.MetricsCollector = (*Collector)(nil)

// Config holds configuration for the collector.
type Config struct {
	Namespace            string
	Subsystem            string
	EnableProcessMetrics bool
	EnableGoMetrics      bool
	ConstLabels          map[string]string
	// Buckets of the latency histograms, in seconds.
	Buckets []float64
}

// Collector implements fastdna.MetricsCollector on a private registry.
type Collector struct {
	registry *prometheus.Registry

	trainProgress prometheus.Gauge
	trainLoss     prometheus.Gauge
	trainExamples prometheus.Gauge

	predictions     *prometheus.CounterVec
	predictDuration *prometheus.HistogramVec
	quantizations   *prometheus.CounterVec
	quantizeSeconds prometheus.Histogram
}

// NewCollector registers the fastdna metrics on a new registry.
func NewCollector(cfg Config) (*Collector, error) {
	if cfg.Namespace == "" {
		return nil, errors.New("prometheus: namespace is required")
	}
	if cfg.Buckets == nil {
		cfg.Buckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
	}

	registry := prometheus.NewRegistry()
	if cfg.EnableProcessMetrics {
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{
			Namespace: cfg.Namespace,
		}))
	}
	if cfg.EnableGoMetrics {
		registry.MustRegister(prometheus.NewGoCollector())
	}

	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		}
	}
	hist := func(name, help string) prometheus.HistogramOpts {
		return prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}
	}

	c := &Collector{
		registry:      registry,
		trainProgress: prometheus.NewGauge(prometheus.GaugeOpts(opts("train_progress_ratio", "Completed share of the current training schedule."))),
		trainLoss:     prometheus.NewGauge(prometheus.GaugeOpts(opts("train_loss", "Average loss reported by the first worker."))),
		trainExamples: prometheus.NewGauge(prometheus.GaugeOpts(opts("train_examples", "Training examples processed in the current run."))),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts(opts("predictions_total", "Prediction calls by outcome.")),
			[]string{"k", "status"}),
		predictDuration: prometheus.NewHistogramVec(hist("predict_duration_seconds", "Latency of prediction calls."),
			[]string{"status"}),
		quantizations: prometheus.NewCounterVec(prometheus.CounterOpts(opts("quantizations_total", "Quantize calls by outcome.")),
			[]string{"status"}),
		quantizeSeconds: prometheus.NewHistogram(hist("quantize_duration_seconds", "Latency of Quantize calls.")),
	}
	registry.MustRegister(
		c.trainProgress, c.trainLoss, c.trainExamples,
		c.predictions, c.predictDuration,
		c.quantizations, c.quantizeSeconds,
	)
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTrainProgress implements fastdna.MetricsCollector.
func (c *Collector) RecordTrainProgress(progress float64, loss float32, examples int64) {
	c.trainProgress.Set(progress)
	c.trainLoss.Set(float64(loss))
	c.trainExamples.Set(float64(examples))
}

// RecordPredict implements fastdna.MetricsCollector.
func (c *Collector) RecordPredict(k int, duration time.Duration, err error) {
	s := status(err)
	c.predictions.WithLabelValues(strconv.Itoa(k), s).Inc()
	c.predictDuration.WithLabelValues(s).Observe(duration.Seconds())
}

// RecordQuantize implements fastdna.MetricsCollector.
func (c *Collector) RecordQuantize(duration time.Duration, err error) {
	c.quantizations.WithLabelValues(status(err)).Inc()
	c.quantizeSeconds.Observe(duration.Seconds())
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
