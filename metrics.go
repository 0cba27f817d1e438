package fastdna

import (
	"math"
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; package
// metrics/prometheus ships a Prometheus implementation.
type MetricsCollector interface {
	// RecordTrainProgress is called on every monitor tick of a training run
	// and once at the end with progress 1.
	RecordTrainProgress(progress float64, loss float32, examples int64)

	// RecordPredict is called after each Predict or PredictPaired call.
	// k is the number of labels requested.
	RecordPredict(k int, duration time.Duration, err error)

	// RecordQuantize is called after each Quantize call.
	RecordQuantize(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTrainProgress(float64, float32, int64) {}
func (NoopMetricsCollector) RecordPredict(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordQuantize(time.Duration, error)         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TrainProgress     atomic.Uint64 // float64 bits
	TrainLoss         atomic.Uint32 // float32 bits
	TrainExamples     atomic.Int64
	PredictCount      atomic.Int64
	PredictErrors     atomic.Int64
	PredictTotalNanos atomic.Int64
	QuantizeCount     atomic.Int64
	QuantizeErrors    atomic.Int64
}

// RecordTrainProgress implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrainProgress(progress float64, loss float32, examples int64) {
	b.TrainProgress.Store(math.Float64bits(progress))
	b.TrainLoss.Store(math.Float32bits(loss))
	b.TrainExamples.Store(examples)
}

// RecordPredict implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPredict(k int, duration time.Duration, err error) {
	b.PredictCount.Add(1)
	b.PredictTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PredictErrors.Add(1)
	}
}

// RecordQuantize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuantize(duration time.Duration, err error) {
	b.QuantizeCount.Add(1)
	if err != nil {
		b.QuantizeErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TrainProgress:   math.Float64frombits(b.TrainProgress.Load()),
		TrainLoss:       math.Float32frombits(b.TrainLoss.Load()),
		TrainExamples:   b.TrainExamples.Load(),
		PredictCount:    b.PredictCount.Load(),
		PredictErrors:   b.PredictErrors.Load(),
		PredictAvgNanos: b.getAvgPredictNanos(),
		QuantizeCount:   b.QuantizeCount.Load(),
		QuantizeErrors:  b.QuantizeErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgPredictNanos() int64 {
	count := b.PredictCount.Load()
	if count == 0 {
		return 0
	}
	return b.PredictTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TrainProgress   float64
	TrainLoss       float32
	TrainExamples   int64
	PredictCount    int64
	PredictErrors   int64
	PredictAvgNanos int64
	QuantizeCount   int64
	QuantizeErrors  int64
}
