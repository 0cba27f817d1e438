package matrix

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fastdna/persistence"
)

func TestDenseRowOps(t *testing.T) {
	m := NewDense(3, 2)
	m.AddVectorToRow([]float32{1, 2}, 1, 2)

	assert.Equal(t, []float32{2, 4}, m.Row(1))
	assert.Equal(t, []float32{0, 0}, m.Row(0))
	assert.InDelta(t, 2*3+4*5, m.DotRow([]float32{3, 5}, 1), 1e-6)

	dst := []float32{1, 1}
	m.AddRowTo(dst, 1, 0.5)
	assert.Equal(t, []float32{2, 3}, dst)

	out := make([]float32, 3)
	Mul(m, []float32{1, 1}, out)
	assert.Equal(t, []float32{0, 6, 0}, out)

	assert.InDelta(t, 4.472136, m.L2NormRow(1), 1e-5)
	m.ZeroRow(1)
	assert.Equal(t, []float32{0, 0}, m.Row(1))
}

func TestDenseUniform(t *testing.T) {
	m := NewDense(10, 10)
	m.Uniform(0.1, rand.New(rand.NewPCG(1, 1)))
	for _, v := range m.Data() {
		assert.GreaterOrEqual(t, v, float32(-0.1))
		assert.Less(t, v, float32(0.1))
	}
}

func TestDenseSaveLoad(t *testing.T) {
	m := NewDense(4, 3)
	m.Uniform(1, rand.New(rand.NewPCG(7, 7)))

	var buf bytes.Buffer
	w := persistence.NewWriter(&buf)
	m.Save(w)
	require.NoError(t, w.Err())

	got, err := LoadDense(persistence.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, m.Data(), got.Data())
	assert.Equal(t, 4, got.Rows())
	assert.Equal(t, 3, got.Cols())
}

func TestLoadDenseTruncated(t *testing.T) {
	var buf bytes.Buffer
	w := persistence.NewWriter(&buf)
	w.Int64(10)
	w.Int64(10)
	w.Float32(1)

	_, err := LoadDense(persistence.NewReader(&buf))
	require.ErrorIs(t, err, persistence.ErrTruncated)
}

func TestSoftmax(t *testing.T) {
	v := []float32{1, 2, 3}
	Softmax(v)

	var sum float32
	for _, x := range v {
		sum += x
	}
	assert.InDelta(t, 1, sum, 1e-5)
	assert.Greater(t, v[2], v[1])
	assert.Greater(t, v[1], v[0])

	big := []float32{1000, 1000}
	Softmax(big)
	assert.InDelta(t, 0.5, big[0], 1e-6)
}
