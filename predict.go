package fastdna

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"time"

	"github.com/hupe1980/fastdna/internal/model"
	"github.com/hupe1980/fastdna/internal/scanner"
)

// LabelScore is one predicted label.
type LabelScore struct {
	Label   string
	LogProb float32
}

// Prob returns the label probability.
func (s LabelScore) Prob() float64 {
	return math.Exp(float64(s.LogProb))
}

// TestResult summarizes an evaluation run.
type TestResult struct {
	N            int64   // examples with a known label and at least one window
	PrecisionAtK float64 // correct predictions / predictions
	RecallAtK    float64 // correct predictions / labels
}

// Record is the prediction of one FASTA record, or of one pair of records.
type Record struct {
	Name        string
	Predictions []LabelScore
}

// recordReader yields the canonical windows of whole FASTA records.
type recordReader struct {
	br  *bufio.Reader
	sc  *scanner.Scanner
	buf []uint64
}

func (f *FastDNA) newRecordReader(r io.Reader) (*recordReader, error) {
	sc, err := scanner.New(f.args.K)
	if err != nil {
		return nil, translateError(err)
	}
	return &recordReader{br: bufio.NewReaderSize(r, 1<<16), sc: sc}, nil
}

// next returns the name and windows of the following record. The window slice
// is only valid until the next call. ok is false at the end of input.
func (rr *recordReader) next() (name string, windows []uint64, ok bool, err error) {
	name, err = scanner.ReadHeader(rr.br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil, false, nil
		}
		return "", nil, false, err
	}
	rr.buf, _, err = rr.sc.Scan(rr.br, scanner.Whole, rr.buf)
	if err != nil {
		return "", nil, false, err
	}
	return name, rr.buf, true, nil
}

// Test predicts the top k labels of every record of fasta and compares them
// with the matching line of labels. Records whose label is unknown to the
// model or that yield no window are skipped.
func (f *FastDNA) Test(ctx context.Context, fasta, labels io.Reader, k int, threshold float32) (TestResult, error) {
	return f.test(ctx, fasta, labels, k, threshold, false)
}

// TestPaired is Test over pairs of consecutive records that share one label
// line. A pair is skipped only when both records yield no window.
func (f *FastDNA) TestPaired(ctx context.Context, fasta, labels io.Reader, k int, threshold float32) (TestResult, error) {
	return f.test(ctx, fasta, labels, k, threshold, true)
}

func (f *FastDNA) test(ctx context.Context, fasta, labels io.Reader, k int, threshold float32, paired bool) (TestResult, error) {
	if err := f.ready(); err != nil {
		return TestResult{}, err
	}
	if k <= 0 {
		return TestResult{}, ErrInvalidK
	}
	rr, err := f.newRecordReader(fasta)
	if err != nil {
		return TestResult{}, err
	}
	var rr2 *recordReader
	if paired {
		rr2 = &recordReader{br: rr.br, sc: rr.sc}
	}
	ls := bufio.NewScanner(labels)
	ls.Buffer(make([]byte, 4096), 1<<20)

	var res TestResult
	var hits, npredictions, nlabels int64
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, windows, ok, err := rr.next()
		if err != nil {
			return res, translateError(err)
		}
		if !ok {
			break
		}
		var windows2 []uint64
		if paired {
			if _, windows2, _, err = rr2.next(); err != nil {
				return res, translateError(err)
			}
		}

		label := int32(-1)
		if ls.Scan() {
			if id, found := f.dict.LabelID(ls.Text()); found {
				label = id
			}
		}
		if label < 0 || len(windows)+len(windows2) == 0 {
			continue
		}

		var preds []model.Prediction
		if paired {
			preds, err = f.model.PredictPaired(windows, windows2, k, threshold)
		} else {
			preds, err = f.model.Predict(windows, k, threshold)
		}
		if err != nil {
			return res, translateError(err)
		}
		for _, p := range preds {
			if p.Label == label {
				hits++
			}
		}
		res.N++
		nlabels++
		npredictions += int64(len(preds))
	}
	if err := ls.Err(); err != nil {
		return res, err
	}

	if npredictions > 0 {
		res.PrecisionAtK = float64(hits) / float64(npredictions)
	}
	if nlabels > 0 {
		res.RecallAtK = float64(hits) / float64(nlabels)
	}
	return res, nil
}

// PredictFunc calls fn with the top k labels of every record of fasta, in
// input order. A record without windows gets an empty prediction. With paired
// set, consecutive records are predicted together and reported once under the
// name of the first.
func (f *FastDNA) PredictFunc(ctx context.Context, fasta io.Reader, k int, threshold float32, paired bool, fn func(Record) error) (err error) {
	start := time.Now()
	n := 0
	defer func() {
		f.opts.metricsCollector.RecordPredict(k, time.Since(start), err)
		f.opts.logger.LogPredict(ctx, k, n, err)
	}()

	if err := f.ready(); err != nil {
		return err
	}
	if k <= 0 {
		return ErrInvalidK
	}
	rr, err := f.newRecordReader(fasta)
	if err != nil {
		return err
	}
	var rr2 *recordReader
	if paired {
		rr2 = &recordReader{br: rr.br, sc: rr.sc}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		name, windows, ok, err := rr.next()
		if err != nil {
			return translateError(err)
		}
		if !ok {
			return nil
		}

		var preds []model.Prediction
		if paired {
			var windows2 []uint64
			if _, windows2, _, err = rr2.next(); err != nil {
				return translateError(err)
			}
			if len(windows)+len(windows2) > 0 {
				preds, err = f.model.PredictPaired(windows, windows2, k, threshold)
			}
		} else if len(windows) > 0 {
			preds, err = f.model.Predict(windows, k, threshold)
		}
		if err != nil {
			return translateError(err)
		}

		rec := Record{Name: name, Predictions: make([]LabelScore, 0, len(preds))}
		for _, p := range preds {
			label, err := f.dict.Label(p.Label)
			if err != nil {
				return labelError(int(p.Label), f.dict.NumLabels(), err)
			}
			rec.Predictions = append(rec.Predictions, LabelScore{Label: label, LogProb: p.Score})
		}
		n++
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Predict returns the top k labels of every record of fasta.
func (f *FastDNA) Predict(ctx context.Context, fasta io.Reader, k int, threshold float32) ([][]LabelScore, error) {
	return f.collect(ctx, fasta, k, threshold, false)
}

// PredictPaired returns the top k labels of every pair of consecutive records
// of fasta. It is not available with hierarchical softmax.
func (f *FastDNA) PredictPaired(ctx context.Context, fasta io.Reader, k int, threshold float32) ([][]LabelScore, error) {
	return f.collect(ctx, fasta, k, threshold, true)
}

func (f *FastDNA) collect(ctx context.Context, fasta io.Reader, k int, threshold float32, paired bool) ([][]LabelScore, error) {
	var out [][]LabelScore
	err := f.PredictFunc(ctx, fasta, k, threshold, paired, func(r Record) error {
		out = append(out, r.Predictions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
