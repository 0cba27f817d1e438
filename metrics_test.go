package fastdna

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasicMetricsCollector(t *testing.T) {
	m := &BasicMetricsCollector{}
	m.RecordTrainProgress(0.5, 1.25, 100)
	m.RecordPredict(1, 10*time.Millisecond, nil)
	m.RecordPredict(1, 30*time.Millisecond, errors.New("boom"))
	m.RecordQuantize(time.Second, nil)

	s := m.GetStats()
	assert.Equal(t, 0.5, s.TrainProgress)
	assert.Equal(t, float32(1.25), s.TrainLoss)
	assert.Equal(t, int64(100), s.TrainExamples)
	assert.Equal(t, int64(2), s.PredictCount)
	assert.Equal(t, int64(1), s.PredictErrors)
	assert.Equal(t, (20 * time.Millisecond).Nanoseconds(), s.PredictAvgNanos)
	assert.Equal(t, int64(1), s.QuantizeCount)
	assert.Zero(t, s.QuantizeErrors)
}
