package quantization

import (
	"bytes"
	"context"
	"math/rand/v2"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fastdna/internal/matrix"
	"github.com/hupe1980/fastdna/persistence"
)

func randomDense(rows, cols int, seed uint64) *matrix.Dense {
	m := matrix.NewDense(rows, cols)
	m.Uniform(1, rand.New(rand.NewPCG(seed, seed)))
	return m
}

func TestNewProductQuantizerLayout(t *testing.T) {
	pq, err := NewProductQuantizer(10, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, pq.NumSubquantizers())
	assert.Equal(t, 2, pq.width(2))

	pq, err = NewProductQuantizer(8, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, pq.NumSubquantizers())

	_, err = NewProductQuantizer(0, 2, 1)
	require.ErrorIs(t, err, ErrInvalidDimension)
}

func TestQuantizeSmallMatrixIsExact(t *testing.T) {
	// With fewer rows than centroids every row becomes its own centroid.
	m := randomDense(50, 6, 3)
	q, err := Quantize(context.Background(), m, 2, false, nil, 1)
	require.NoError(t, err)

	vec := []float32{1, -2, 0.5, 3, -1, 2}
	for i := 0; i < m.Rows(); i++ {
		assert.InDelta(t, m.DotRow(vec, i), q.DotRow(vec, i), 1e-4)
	}

	dst := make([]float32, 6)
	q.AddRowTo(dst, 7, 2)
	for j, v := range m.Row(7) {
		assert.InDelta(t, 2*v, dst[j], 1e-5)
	}
}

func TestQuantizeApproximates(t *testing.T) {
	m := randomDense(2000, 8, 5)
	q, err := Quantize(context.Background(), m, 2, true, nil, 1)
	require.NoError(t, err)

	var errSum, norm float64
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = 1
	}
	for i := 0; i < m.Rows(); i++ {
		d := float64(m.DotRow(vec, i) - q.DotRow(vec, i))
		errSum += d * d
		e := float64(m.DotRow(vec, i))
		norm += e * e
	}
	assert.Less(t, errSum/norm, 0.05)
}

func TestQuantizeKeptRows(t *testing.T) {
	m := randomDense(100, 4, 9)
	kept := roaring.BitmapOf(3, 10, 42)
	q, err := Quantize(context.Background(), m, 2, false, kept, 1)
	require.NoError(t, err)

	vec := []float32{1, 2, 3, 4}
	assert.InDelta(t, m.DotRow(vec, 10), q.DotRow(vec, 10), 1e-4)
	assert.InDelta(t, m.DotRow(vec, 42), q.DotRow(vec, 42), 1e-4)
	assert.Equal(t, float32(0), q.DotRow(vec, 11))

	dst := []float32{1, 1, 1, 1}
	q.AddRowTo(dst, 11, 1)
	assert.Equal(t, []float32{1, 1, 1, 1}, dst)
}

func TestQMatrixSaveLoad(t *testing.T) {
	m := randomDense(300, 6, 11)
	q, err := Quantize(context.Background(), m, 3, true, roaring.BitmapOf(1, 2, 3, 200), 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	w := persistence.NewWriter(&buf)
	require.NoError(t, q.Save(w))

	got, err := LoadQMatrix(persistence.NewReader(&buf))
	require.NoError(t, err)

	vec := []float32{0.5, -1, 2, 0, 1, 1}
	for i := 0; i < m.Rows(); i++ {
		require.Equal(t, q.DotRow(vec, i), got.DotRow(vec, i))
	}
}

func TestLoadQMatrixRejectsCorruptHeader(t *testing.T) {
	q, err := Quantize(context.Background(), randomDense(50, 6, 3), 2, false, nil, 1)
	require.NoError(t, err)
	q.cols = 4

	var buf bytes.Buffer
	w := persistence.NewWriter(&buf)
	require.NoError(t, q.Save(w))
	_, err = LoadQMatrix(persistence.NewReader(&buf))
	require.ErrorIs(t, err, ErrInvalidDimension)

	buf.Reset()
	w = persistence.NewWriter(&buf)
	w.Int64(2)
	w.Int64(4)
	w.Bool(false)
	w.Bool(false)
	w.Int64(1 << 40)
	require.NoError(t, w.Err())
	_, err = LoadQMatrix(persistence.NewReader(&buf))
	require.ErrorIs(t, err, persistence.ErrTruncated)

	buf.Reset()
	w = persistence.NewWriter(&buf)
	w.Int64(1 << 40)
	w.Int64(1 << 10)
	w.Bool(false)
	require.NoError(t, w.Err())
	_, err = LoadQMatrix(persistence.NewReader(&buf))
	require.ErrorIs(t, err, ErrInvalidDimension)
}

func TestTrainCancelled(t *testing.T) {
	pq, err := NewProductQuantizer(4, 2, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pq.Train(ctx, make([]float32, 40), 10)
	require.ErrorIs(t, err, context.Canceled)
}
