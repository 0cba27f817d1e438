package fastdna

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/hupe1980/fastdna/internal/kmer"
	"github.com/hupe1980/fastdna/internal/matrix"
	"github.com/hupe1980/fastdna/internal/model"
	"github.com/hupe1980/fastdna/persistence"
)

// Loss selects the output layer.
type Loss = model.Loss

// Loss functions.
const (
	LossSoftmax = model.LossSoftmax
	LossHS      = model.LossHS
	LossNS      = model.LossNS
)

// ModelKind selects what the output layer predicts.
type ModelKind = model.Kind

// Model kinds.
const (
	ModelSupervised = model.Supervised
	ModelCBOW       = model.CBOW
	ModelSkipgram   = model.Skipgram
)

// ParseLoss parses "softmax", "hs" or "ns".
func ParseLoss(s string) (Loss, error) {
	switch strings.ToLower(s) {
	case "softmax":
		return LossSoftmax, nil
	case "hs":
		return LossHS, nil
	case "ns":
		return LossNS, nil
	}
	return 0, fmt.Errorf("%w: unknown loss %q", ErrInvalidArgument, s)
}

// ParseModelKind parses "supervised", "cbow" or "skipgram".
func ParseModelKind(s string) (ModelKind, error) {
	switch strings.ToLower(s) {
	case "supervised", "sup":
		return ModelSupervised, nil
	case "cbow":
		return ModelCBOW, nil
	case "skipgram", "sg":
		return ModelSkipgram, nil
	}
	return 0, fmt.Errorf("%w: unknown model %q", ErrInvalidArgument, s)
}

// Args holds the hyperparameters of a training run.
//
// Only the numeric fields and QOut are persisted with a model; paths and
// run-time switches are not.
type Args struct {
	Input             string // FASTA training file
	Labels            string // one label per FASTA record
	Output            string // model name, without extension
	Taxonomy          string // optional hierarchical softmax tree
	PretrainedVectors string

	LR           float64
	LRUpdateRate int
	Dim          int
	WS           int // context window of cbow and skipgram
	K            int
	Length       int // bases per training fragment
	Epoch        int
	Neg          int
	Loss         Loss
	Model        ModelKind
	Bucket       int
	Thread       int
	Noise        float64 // per-base mutation probability
	Seed         uint64

	Verbose          int
	FreezeEmbeddings bool
	SaveOutput       bool
	QOut             bool
}

// DefaultArgs returns the default hyperparameters.
func DefaultArgs() Args {
	return Args{
		LR:           0.1,
		LRUpdateRate: 100,
		Dim:          10,
		WS:           5,
		K:            12,
		Length:       200,
		Epoch:        1,
		Neg:          5,
		Loss:         LossSoftmax,
		Model:        ModelSupervised,
		Thread:       4,
		Verbose:      2,
	}
}

// Validate reports the first hyperparameter outside its valid range.
func (a *Args) Validate() error {
	fail := func(format string, v ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, v...)...)
	}
	switch {
	case a.K < 1 || a.K > kmer.MaxK:
		return fail("k must be in [1, %d], got %d", kmer.MaxK, a.K)
	case a.Dim <= 0:
		return fail("dim must be positive, got %d", a.Dim)
	case a.Length < a.K:
		return fail("length %d is shorter than k %d", a.Length, a.K)
	case a.Thread <= 0:
		return fail("thread must be positive, got %d", a.Thread)
	case a.Noise < 0 || a.Noise > 1:
		return fail("noise must be a probability, got %g", a.Noise)
	case a.Epoch <= 0:
		return fail("epoch must be positive, got %d", a.Epoch)
	case a.LR <= 0:
		return fail("lr must be positive, got %g", a.LR)
	case a.LRUpdateRate <= 0:
		return fail("lrUpdateRate must be positive, got %d", a.LRUpdateRate)
	case a.Bucket < 0:
		return fail("bucket must not be negative, got %d", a.Bucket)
	case kmer.Size(a.K)+uint64(a.Bucket) > matrix.MaxElements/uint64(a.Dim):
		return fail("k %d with dim %d exceeds %d embedding weights", a.K, a.Dim, matrix.MaxElements)
	case a.Model != ModelSupervised && kmer.Size(a.K) > math.MaxInt32:
		return fail("k %d has too many k-mers for %s", a.K, a.Model)
	case a.Loss < LossSoftmax || a.Loss > LossNS:
		return fail("unknown loss %d", a.Loss)
	case a.Model < ModelSupervised || a.Model > ModelSkipgram:
		return fail("unknown model %d", a.Model)
	case a.Loss == LossNS && a.Neg <= 0:
		return fail("neg must be positive, got %d", a.Neg)
	case a.Model != ModelSupervised && a.WS <= 0:
		return fail("ws must be positive, got %d", a.WS)
	}
	return nil
}

func (a *Args) save(w *persistence.Writer) {
	w.Int32(int32(a.Dim))
	w.Int32(int32(a.WS))
	w.Int32(int32(a.Epoch))
	w.Int32(int32(a.Neg))
	w.Int32(int32(a.Loss))
	w.Int32(int32(a.Model))
	w.Int32(int32(a.Bucket))
	w.Int32(int32(a.K))
	w.Int32(int32(a.Length))
	w.Int32(int32(a.LRUpdateRate))
	w.Float64(a.LR)
	w.Float64(a.Noise)
	w.Uint64(a.Seed)
	w.Bool(a.QOut)
}

func loadArgs(r *persistence.Reader) (*Args, error) {
	a := DefaultArgs()
	a.Dim = int(r.Int32())
	a.WS = int(r.Int32())
	a.Epoch = int(r.Int32())
	a.Neg = int(r.Int32())
	a.Loss = Loss(r.Int32())
	a.Model = ModelKind(r.Int32())
	a.Bucket = int(r.Int32())
	a.K = int(r.Int32())
	a.Length = int(r.Int32())
	a.LRUpdateRate = int(r.Int32())
	a.LR = r.Float64()
	a.Noise = r.Float64()
	a.Seed = r.Uint64()
	a.QOut = r.Bool()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: stored args: %w", ErrFileFormat, err)
	}
	return &a, nil
}

// Dump writes the persisted hyperparameters, one "name value" pair per line.
func (a *Args) Dump(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"dim %d\nws %d\nepoch %d\nneg %d\nloss %s\nmodel %s\nbucket %d\nk %d\nlength %d\nlrUpdateRate %d\nlr %g\nnoise %g\nseed %d\nqout %t\n",
		a.Dim, a.WS, a.Epoch, a.Neg, a.Loss, a.Model, a.Bucket, a.K, a.Length, a.LRUpdateRate, a.LR, a.Noise, a.Seed, a.QOut,
	)
	return err
}
