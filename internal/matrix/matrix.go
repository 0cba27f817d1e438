// Package matrix provides the dense parameter store and the row capability
// interface shared with the quantized store.
package matrix

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/hupe1980/fastdna/persistence"
)

// ErrShape is returned for mismatched or invalid dimensions.
var ErrShape = errors.New("matrix: invalid shape")

// Matrix is the row-level capability used by the model. Dense and quantized
// stores implement it; a model holds exactly one implementation per matrix.
type Matrix interface {
	// Rows returns the number of rows.
	Rows() int
	// Cols returns the row width.
	Cols() int
	// DotRow returns dot(vec, row i).
	DotRow(vec []float32, i int) float32
	// AddRowTo adds a * row i to dst.
	AddRowTo(dst []float32, i int, a float32)
}

var _ Matrix = (*Dense)(nil)

// Dense is a row-major float32 matrix.
//
// Concurrent AddVectorToRow and DotRow calls on the same rows are not
// synchronized. Training workers share one Dense and accept torn reads as
// gradient noise; nothing else in the package relies on this.
type Dense struct {
	rows, cols int
	data       []float32
}

// NewDense allocates a zeroed rows x cols matrix.
func NewDense(rows, cols int) *Dense {
	return &Dense{
		rows: rows,
		cols: cols,
		data: make([]float32, rows*cols),
	}
}

// Rows implements Matrix.
func (m *Dense) Rows() int { return m.rows }

// Cols implements Matrix.
func (m *Dense) Cols() int { return m.cols }

// Data returns the backing slice.
func (m *Dense) Data() []float32 { return m.data }

// Row returns row i backed by the matrix storage.
func (m *Dense) Row(i int) []float32 {
	return m.data[i*m.cols : (i+1)*m.cols : (i+1)*m.cols]
}

func (m *Dense) rowVec(i int) blas32.Vector {
	return blas32.Vector{N: m.cols, Inc: 1, Data: m.Row(i)}
}

func vec(v []float32) blas32.Vector {
	return blas32.Vector{N: len(v), Inc: 1, Data: v}
}

// Zero sets every element to 0.
func (m *Dense) Zero() {
	clear(m.data)
}

// Uniform fills the matrix with values drawn uniformly from [-bound, bound).
func (m *Dense) Uniform(bound float32, rng *rand.Rand) {
	for i := range m.data {
		m.data[i] = (2*rng.Float32() - 1) * bound
	}
}

// DotRow implements Matrix.
func (m *Dense) DotRow(v []float32, i int) float32 {
	return blas32.Dot(vec(v), m.rowVec(i))
}

// AddRowTo implements Matrix.
func (m *Dense) AddRowTo(dst []float32, i int, a float32) {
	blas32.Axpy(a, m.rowVec(i), vec(dst))
}

// AddVectorToRow adds a * v to row i.
func (m *Dense) AddVectorToRow(v []float32, i int, a float32) {
	blas32.Axpy(a, vec(v), m.rowVec(i))
}

// ZeroRow sets row i to 0.
func (m *Dense) ZeroRow(i int) {
	clear(m.Row(i))
}

// L2NormRow returns the Euclidean norm of row i.
func (m *Dense) L2NormRow(i int) float32 {
	return blas32.Nrm2(m.rowVec(i))
}

// L2NormRows returns the norm of every row.
func (m *Dense) L2NormRows() []float32 {
	norms := make([]float32, m.rows)
	for i := range norms {
		norms[i] = m.L2NormRow(i)
	}
	return norms
}

// MulVec computes out = m * v.
func (m *Dense) MulVec(v, out []float32) {
	if m.rows == 0 {
		return
	}
	g := blas32.General{Rows: m.rows, Cols: m.cols, Stride: m.cols, Data: m.data}
	blas32.Gemv(blas.NoTrans, 1, g, vec(v), 0, vec(out))
}

// Clone returns a deep copy.
func (m *Dense) Clone() *Dense {
	c := NewDense(m.rows, m.cols)
	copy(c.data, m.data)
	return c
}

// Save writes the matrix shape and contents.
func (m *Dense) Save(w *persistence.Writer) {
	w.Int64(int64(m.rows))
	w.Int64(int64(m.cols))
	w.Float32s(m.data)
}

// MaxElements bounds the number of weights in a single matrix.
const MaxElements = 1 << 36

// LoadDense reads a matrix written by Save.
func LoadDense(r *persistence.Reader) (*Dense, error) {
	rows := r.Int64()
	cols := r.Int64()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if rows < 0 || cols < 0 || (cols > 0 && rows > MaxElements/cols) {
		return nil, fmt.Errorf("%w: %dx%d", ErrShape, rows, cols)
	}
	m := NewDense(int(rows), int(cols))
	r.Float32s(m.data)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Mul computes out[i] = dot(v, row i) for any Matrix.
func Mul(m Matrix, v, out []float32) {
	if d, ok := m.(*Dense); ok {
		d.MulVec(v, out)
		return
	}
	for i := 0; i < m.Rows(); i++ {
		out[i] = m.DotRow(v, i)
	}
}
