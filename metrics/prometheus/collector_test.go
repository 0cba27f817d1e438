package prometheus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(Config{Namespace: "test", Subsystem: "fastdna"})
	require.NoError(t, err)
	return c
}

func scrapeMetrics(t *testing.T, c *Collector) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNewCollector_EmptyNamespace(t *testing.T) {
	_, err := NewCollector(Config{})
	assert.Error(t, err)
}

func TestNewCollector_WithGoMetrics(t *testing.T) {
	c, err := NewCollector(Config{Namespace: "test", EnableGoMetrics: true})
	require.NoError(t, err)
	assert.Contains(t, scrapeMetrics(t, c), "go_goroutines")
}

func TestRecordTrainProgress(t *testing.T) {
	c := newTestCollector(t)
	c.RecordTrainProgress(0.25, 0.5, 1000)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, "test_fastdna_train_progress_ratio 0.25")
	assert.Contains(t, out, "test_fastdna_train_loss 0.5")
	assert.Contains(t, out, "test_fastdna_train_examples 1000")
}

func TestRecordPredictAndQuantize(t *testing.T) {
	c := newTestCollector(t)
	c.RecordPredict(3, 2*time.Millisecond, nil)
	c.RecordPredict(3, time.Millisecond, errors.New("boom"))
	c.RecordQuantize(time.Second, nil)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_fastdna_predictions_total{k="3",status="ok"} 1`)
	assert.Contains(t, out, `test_fastdna_predictions_total{k="3",status="error"} 1`)
	assert.Contains(t, out, `test_fastdna_predict_duration_seconds_count{status="ok"} 1`)
	assert.Contains(t, out, `test_fastdna_quantizations_total{status="ok"} 1`)
	assert.Contains(t, out, "test_fastdna_quantize_duration_seconds_count 1")
}
