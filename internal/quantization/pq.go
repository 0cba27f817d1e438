package quantization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/fastdna/internal/kmeans"
	"github.com/hupe1980/fastdna/persistence"
)

const (
	// NumCentroids is the codebook size of every sub-quantizer (one byte per code).
	NumCentroids = 256

	// maxPointsPerCluster bounds the rows sampled for k-means.
	maxPointsPerCluster = 256

	// iterations is the number of Lloyd iterations.
	iterations = 25
)

var (
	// ErrInvalidDimension is returned for non-positive dimensions or widths.
	ErrInvalidDimension = errors.New("quantization: invalid dimension")

	// ErrNoData is returned when training without rows.
	ErrNoData = errors.New("quantization: no training data")
)

// ProductQuantizer splits a row into sub-vectors of width dsub (the last one
// may be narrower) and quantizes each against its own 256-entry codebook.
type ProductQuantizer struct {
	dim       int
	dsub      int
	nsubq     int
	lastdsub  int
	seed      uint64
	centroids []float32 // nsubq * NumCentroids * dsub
}

// NewProductQuantizer creates an untrained quantizer for rows of width dim.
func NewProductQuantizer(dim, dsub int, seed uint64) (*ProductQuantizer, error) {
	if dim <= 0 || dsub <= 0 {
		return nil, fmt.Errorf("%w: dim=%d dsub=%d", ErrInvalidDimension, dim, dsub)
	}
	dsub = min(dsub, dim)
	nsubq := dim / dsub
	lastdsub := dim % dsub
	if lastdsub == 0 {
		lastdsub = dsub
	} else {
		nsubq++
	}
	return &ProductQuantizer{
		dim:       dim,
		dsub:      dsub,
		nsubq:     nsubq,
		lastdsub:  lastdsub,
		seed:      seed,
		centroids: make([]float32, nsubq*NumCentroids*dsub),
	}, nil
}

// Dim returns the row width.
func (pq *ProductQuantizer) Dim() int { return pq.dim }

// NumSubquantizers returns the number of codes per row.
func (pq *ProductQuantizer) NumSubquantizers() int { return pq.nsubq }

func (pq *ProductQuantizer) width(m int) int {
	if m == pq.nsubq-1 {
		return pq.lastdsub
	}
	return pq.dsub
}

func (pq *ProductQuantizer) centroid(m, c int) []float32 {
	start := (m*NumCentroids + c) * pq.dsub
	return pq.centroids[start : start+pq.width(m)]
}

// Train learns one codebook per sub-vector from n rows stored row-major in
// data. Sub-quantizers train in parallel.
func (pq *ProductQuantizer) Train(ctx context.Context, data []float32, n int) error {
	if n <= 0 {
		return ErrNoData
	}
	if len(data) < n*pq.dim {
		return fmt.Errorf("%w: %d values for %d rows", ErrInvalidDimension, len(data), n)
	}

	rng := rand.New(rand.NewPCG(pq.seed, 0))
	sample := rng.Perm(n)
	if np := maxPointsPerCluster * NumCentroids; len(sample) > np {
		sample = sample[:np]
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for m := 0; m < pq.nsubq; m++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d := pq.width(m)
			start := m * pq.dsub

			points := make([]float32, len(sample)*d)
			for i, row := range sample {
				copy(points[i*d:(i+1)*d], data[row*pq.dim+start:row*pq.dim+start+d])
			}

			krng := rand.New(rand.NewPCG(pq.seed, uint64(m)+1))
			centroids, err := kmeans.Train(ctx, points, len(sample), d, NumCentroids, iterations, krng)
			if err != nil {
				return err
			}
			for c := 0; c < NumCentroids; c++ {
				copy(pq.centroid(m, c), centroids[c*d:(c+1)*d])
			}
			return nil
		})
	}
	return g.Wait()
}

// Encode writes the codes of vec into codes.
func (pq *ProductQuantizer) Encode(vec []float32, codes []byte) {
	for m := 0; m < pq.nsubq; m++ {
		d := pq.width(m)
		start := m * pq.dsub
		sub := vec[start : start+d]

		best, bestDist := 0, float32(math.MaxFloat32)
		for c := 0; c < NumCentroids; c++ {
			if dist := kmeans.SquaredL2(sub, pq.centroid(m, c)); dist < bestDist {
				best, bestDist = c, dist
			}
		}
		codes[m] = byte(best)
	}
}

// EncodeAll encodes n rows of data in parallel.
func (pq *ProductQuantizer) EncodeAll(ctx context.Context, data []float32, n int) ([]byte, error) {
	codes := make([]byte, n*pq.nsubq)

	g, ctx := errgroup.WithContext(ctx)
	workers := runtime.GOMAXPROCS(0)
	chunk := max((n+workers-1)/workers, 1)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				pq.Encode(data[i*pq.dim:(i+1)*pq.dim], codes[i*pq.nsubq:(i+1)*pq.nsubq])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return codes, nil
}

// Dot returns alpha * dot(x, decode(codes)).
func (pq *ProductQuantizer) Dot(x []float32, codes []byte, alpha float32) float32 {
	var res float32
	for m := 0; m < pq.nsubq; m++ {
		c := pq.centroid(m, int(codes[m]))
		start := m * pq.dsub
		for j, v := range c {
			res += x[start+j] * v
		}
	}
	return res * alpha
}

// Add adds alpha * decode(codes) to x.
func (pq *ProductQuantizer) Add(x []float32, codes []byte, alpha float32) {
	for m := 0; m < pq.nsubq; m++ {
		c := pq.centroid(m, int(codes[m]))
		start := m * pq.dsub
		for j, v := range c {
			x[start+j] += alpha * v
		}
	}
}

// Decode reconstructs the approximate row of codes into dst.
func (pq *ProductQuantizer) Decode(codes []byte, dst []float32) {
	clear(dst)
	pq.Add(dst, codes, 1)
}

// Save writes the quantizer.
func (pq *ProductQuantizer) Save(w *persistence.Writer) {
	w.Int32(int32(pq.dim))
	w.Int32(int32(pq.nsubq))
	w.Int32(int32(pq.dsub))
	w.Int32(int32(pq.lastdsub))
	w.Float32s(pq.centroids)
}

// LoadProductQuantizer reads a quantizer written by Save for rows of width
// dim.
func LoadProductQuantizer(r *persistence.Reader, dim int) (*ProductQuantizer, error) {
	stored := int(r.Int32())
	nsubq := int(r.Int32())
	dsub := int(r.Int32())
	lastdsub := int(r.Int32())
	if err := r.Err(); err != nil {
		return nil, err
	}
	if stored != dim {
		return nil, fmt.Errorf("%w: quantizer dim %d, want %d", ErrInvalidDimension, stored, dim)
	}
	pq, err := NewProductQuantizer(dim, dsub, 0)
	if err != nil {
		return nil, err
	}
	if pq.nsubq != nsubq || pq.lastdsub != lastdsub {
		return nil, fmt.Errorf("%w: inconsistent sub-quantizer layout", ErrInvalidDimension)
	}
	r.Float32s(pq.centroids)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return pq, nil
}

// Norms returns the Euclidean norm of each of the n rows of data.
func Norms(data []float32, n, dim int) []float32 {
	norms := make([]float32, n)
	for i := range norms {
		var s float32
		for _, v := range data[i*dim : (i+1)*dim] {
			s += v * v
		}
		norms[i] = math32.Sqrt(s)
	}
	return norms
}
