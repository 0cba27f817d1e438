package fastdna

import (
	"cmp"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/fastdna/internal/dict"
	"github.com/hupe1980/fastdna/internal/mmap"
	"github.com/hupe1980/fastdna/internal/quantization"
)

// QuantizeArgs controls Quantize.
type QuantizeArgs struct {
	// Cutoff keeps only the Cutoff input rows with the largest L2 norm. Zero
	// keeps every row.
	Cutoff int
	// DSub is the sub-vector width of the input quantizer.
	DSub int
	// QNorm quantizes row norms separately.
	QNorm bool
	// QOut also quantizes the output matrix.
	QOut bool

	// Retrain continues training after the cutoff, on Input and Labels.
	Retrain bool
	Input   string
	Labels  string
	Epoch   int
	LR      float64
	Thread  int
}

// DefaultQuantizeArgs returns the default quantization settings.
func DefaultQuantizeArgs() QuantizeArgs {
	return QuantizeArgs{
		DSub:   2,
		Epoch:  1,
		LR:     0.1,
		Thread: 4,
	}
}

// Quantize replaces the input matrix, and with QOut the output matrix, by
// product-quantized versions. It is only available for supervised models and
// cannot be undone.
func (f *FastDNA) Quantize(ctx context.Context, qargs QuantizeArgs) (err error) {
	start := time.Now()
	kept := 0
	defer func() {
		f.opts.metricsCollector.RecordQuantize(time.Since(start), err)
		f.opts.logger.LogQuantize(ctx, kept, qargs.QOut, err)
	}()

	if err := f.ready(); err != nil {
		return err
	}
	switch {
	case f.args.Model != ModelSupervised:
		return fmt.Errorf("%w: only supervised models can be quantized", ErrUnsupportedOperation)
	case f.IsQuantized():
		return fmt.Errorf("%w: model is already quantized", ErrUnsupportedOperation)
	case qargs.DSub <= 0:
		return fmt.Errorf("%w: dsub must be positive, got %d", ErrInvalidArgument, qargs.DSub)
	case qargs.Cutoff < 0:
		return fmt.Errorf("%w: cutoff must not be negative, got %d", ErrInvalidArgument, qargs.Cutoff)
	}

	var rows *roaring.Bitmap
	var rt *retraining
	if qargs.Cutoff > 0 && qargs.Cutoff < f.input.Rows() {
		rows = selectEmbeddings(f.input.L2NormRows(), qargs.Cutoff)
		if qargs.Retrain {
			if rt, err = f.prepareRetrain(qargs); err != nil {
				return err
			}
			defer rt.corpus.Close()
		}
	}

	// The dense matrices are only replaced once every step has succeeded.
	saved := *f
	defer func() {
		if err != nil {
			*f = saved
		}
	}()

	kept = f.input.Rows()
	if rows != nil {
		f.input = f.input.Clone()
		excluded := rows.Clone()
		excluded.Flip(0, uint64(f.input.Rows()))
		it := excluded.Iterator()
		for it.HasNext() {
			f.input.ZeroRow(int(it.Next()))
		}

		if rt != nil {
			f.output = f.output.Clone()
			if err := f.retrain(ctx, rt); err != nil {
				return err
			}
		}
		kept = int(rows.GetCardinality())
	}

	qin, err := quantization.Quantize(ctx, f.input, qargs.DSub, qargs.QNorm, rows, f.args.Seed)
	if err != nil {
		return translateError(err)
	}
	var qout *quantization.QMatrix
	if qargs.QOut {
		if qout, err = quantization.Quantize(ctx, f.output, 2, qargs.QNorm, nil, f.args.Seed+1); err != nil {
			return translateError(err)
		}
	}

	if rows != nil {
		f.dict.Prune(rows)
	}
	f.qinput, f.qoutput = qin, qout
	f.args.QOut = qargs.QOut
	f.rebuild()
	return nil
}

// selectEmbeddings returns the n rows with the largest norm. Ties keep the
// lower row.
func selectEmbeddings(norms []float32, n int) *roaring.Bitmap {
	idx := make([]uint32, len(norms))
	for i := range idx {
		idx[i] = uint32(i)
	}
	slices.SortStableFunc(idx, func(a, b uint32) int {
		return cmp.Compare(norms[b], norms[a])
	})
	return roaring.BitmapOf(idx[:n]...)
}

type retraining struct {
	corpus *mmap.Mapping
	args   Args
	dict   *dict.Dictionary
}

// prepareRetrain checks the retraining input against the trained model before
// anything is modified.
func (f *FastDNA) prepareRetrain(qargs QuantizeArgs) (*retraining, error) {
	if qargs.Input == "" {
		return nil, fmt.Errorf("%w: retraining needs the training input", ErrInvalidArgument)
	}
	args := *f.args
	args.Input, args.Labels = qargs.Input, qargs.Labels
	args.Epoch, args.LR, args.Thread = qargs.Epoch, qargs.LR, qargs.Thread
	if err := args.Validate(); err != nil {
		return nil, err
	}

	corpus, err := mmap.Open(qargs.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	d, err := readDictionary(corpus, &args)
	if err == nil {
		err = f.checkLabels(d)
	}
	if err != nil {
		corpus.Close()
		return nil, err
	}
	return &retraining{corpus: corpus, args: args, dict: d}, nil
}

// checkLabels requires the label ids of d to agree with the output layer.
func (f *FastDNA) checkLabels(d *dict.Dictionary) error {
	if d.NumLabels() != f.dict.NumLabels() {
		return fmt.Errorf("%w: retraining labels differ from the model's", ErrInvalidArgument)
	}
	for i, l := range f.Labels() {
		if id, ok := d.LabelID(l); !ok || int(id) != i {
			return fmt.Errorf("%w: retraining labels differ from the model's", ErrInvalidArgument)
		}
	}
	return nil
}

func (f *FastDNA) retrain(ctx context.Context, rt *retraining) error {
	args := rt.args
	saved := f.dict
	f.args, f.dict = &args, rt.dict
	defer func() { f.dict = saved }()

	f.buildTargets(rand.New(rand.NewPCG(args.Seed, args.Seed^0x9e3779b97f4a7c15)), true)
	f.rebuild()
	return f.run(ctx, rt.corpus)
}
