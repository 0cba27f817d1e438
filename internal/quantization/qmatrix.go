package quantization

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/fastdna/internal/matrix"
	"github.com/hupe1980/fastdna/persistence"
)

var _ matrix.Matrix = (*QMatrix)(nil)

// QMatrix is a product-quantized, read-only matrix.
//
// When built with a kept set only those rows carry codes; every other row
// reads as zero. Row ids are never renumbered.
type QMatrix struct {
	rows, cols int
	qnorm      bool
	pq         *ProductQuantizer
	codes      []byte
	npq        *ProductQuantizer
	normCodes  []byte
	kept       *roaring.Bitmap
}

// Quantize compresses m. With qnorm the rows are normalized first and their
// norms quantized separately. A nil kept set keeps every row.
func Quantize(ctx context.Context, m *matrix.Dense, dsub int, qnorm bool, kept *roaring.Bitmap, seed uint64) (*QMatrix, error) {
	q := &QMatrix{rows: m.Rows(), cols: m.Cols(), qnorm: qnorm, kept: kept}

	n := m.Rows()
	data := m.Data()
	if kept != nil {
		n = int(kept.GetCardinality())
		data = make([]float32, 0, n*m.Cols())
		it := kept.Iterator()
		for it.HasNext() {
			data = append(data, m.Row(int(it.Next()))...)
		}
	} else {
		data = append([]float32(nil), data...)
	}
	if n == 0 {
		return nil, ErrNoData
	}

	if qnorm {
		norms := Norms(data, n, m.Cols())
		for i, norm := range norms {
			if norm > 0 {
				row := data[i*m.Cols() : (i+1)*m.Cols()]
				for j := range row {
					row[j] /= norm
				}
			}
		}
		npq, err := NewProductQuantizer(1, 1, seed+1)
		if err != nil {
			return nil, err
		}
		if err := npq.Train(ctx, norms, n); err != nil {
			return nil, err
		}
		if q.normCodes, err = npq.EncodeAll(ctx, norms, n); err != nil {
			return nil, err
		}
		q.npq = npq
	}

	pq, err := NewProductQuantizer(m.Cols(), dsub, seed)
	if err != nil {
		return nil, err
	}
	if err := pq.Train(ctx, data, n); err != nil {
		return nil, err
	}
	if q.codes, err = pq.EncodeAll(ctx, data, n); err != nil {
		return nil, err
	}
	q.pq = pq
	return q, nil
}

// Rows implements matrix.Matrix.
func (q *QMatrix) Rows() int { return q.rows }

// Cols implements matrix.Matrix.
func (q *QMatrix) Cols() int { return q.cols }

// Kept returns the rows carrying codes, or nil for all rows.
func (q *QMatrix) Kept() *roaring.Bitmap { return q.kept }

func (q *QMatrix) slot(i int) (int, bool) {
	if q.kept == nil {
		return i, true
	}
	if !q.kept.Contains(uint32(i)) {
		return 0, false
	}
	return int(q.kept.Rank(uint32(i))) - 1, true
}

func (q *QMatrix) norm(slot int) float32 {
	if !q.qnorm {
		return 1
	}
	return q.npq.centroid(0, int(q.normCodes[slot]))[0]
}

func (q *QMatrix) rowCodes(slot int) []byte {
	n := q.pq.NumSubquantizers()
	return q.codes[slot*n : (slot+1)*n]
}

// DotRow implements matrix.Matrix.
func (q *QMatrix) DotRow(vec []float32, i int) float32 {
	s, ok := q.slot(i)
	if !ok {
		return 0
	}
	return q.pq.Dot(vec, q.rowCodes(s), q.norm(s))
}

// AddRowTo implements matrix.Matrix.
func (q *QMatrix) AddRowTo(dst []float32, i int, a float32) {
	s, ok := q.slot(i)
	if !ok {
		return
	}
	q.pq.Add(dst, q.rowCodes(s), a*q.norm(s))
}

// Save writes the matrix.
func (q *QMatrix) Save(w *persistence.Writer) error {
	w.Int64(int64(q.rows))
	w.Int64(int64(q.cols))
	w.Bool(q.qnorm)

	w.Bool(q.kept != nil)
	if q.kept != nil {
		b, err := q.kept.ToBytes()
		if err != nil {
			return err
		}
		w.Int64(int64(len(b)))
		w.Bytes(b)
	}

	w.Int64(int64(len(q.codes)))
	w.Bytes(q.codes)
	q.pq.Save(w)
	if q.qnorm {
		w.Int64(int64(len(q.normCodes)))
		w.Bytes(q.normCodes)
		q.npq.Save(w)
	}
	return w.Err()
}

// LoadQMatrix reads a matrix written by Save.
func LoadQMatrix(r *persistence.Reader) (*QMatrix, error) {
	q := &QMatrix{
		rows:  int(r.Int64()),
		cols:  int(r.Int64()),
		qnorm: r.Bool(),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if q.rows < 0 || q.cols <= 0 || q.rows > matrix.MaxElements/q.cols {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimension, q.rows, q.cols)
	}

	n := q.rows
	if r.Bool() {
		b := make([]byte, r.Count(1<<34))
		r.Bytes(b)
		if err := r.Err(); err != nil {
			return nil, err
		}
		q.kept = roaring.New()
		if err := q.kept.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		n = int(q.kept.GetCardinality())
		if n > 0 && int64(q.kept.Maximum()) >= int64(q.rows) {
			return nil, fmt.Errorf("%w: kept row %d outside %d rows", ErrInvalidDimension, q.kept.Maximum(), q.rows)
		}
	}

	// Every sub-quantizer covers at least one column.
	q.codes = make([]byte, r.Count(int64(n)*int64(q.cols)))
	r.Bytes(q.codes)
	pq, err := LoadProductQuantizer(r, q.cols)
	if err != nil {
		return nil, err
	}
	q.pq = pq

	if q.qnorm {
		q.normCodes = make([]byte, r.Count(int64(n)))
		r.Bytes(q.normCodes)
		npq, err := LoadProductQuantizer(r, 1)
		if err != nil {
			return nil, err
		}
		q.npq = npq
	}

	if len(q.codes) != n*q.pq.NumSubquantizers() || (q.qnorm && len(q.normCodes) != n) {
		return nil, fmt.Errorf("%w: code table does not match %d rows", ErrInvalidDimension, n)
	}
	return q, r.Err()
}
