package fastdna

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/hupe1980/fastdna/internal/dict"
	"github.com/hupe1980/fastdna/internal/matrix"
	"github.com/hupe1980/fastdna/internal/mmap"
	"github.com/hupe1980/fastdna/internal/model"
	"github.com/hupe1980/fastdna/internal/negative"
	"github.com/hupe1980/fastdna/internal/quantization"
	"github.com/hupe1980/fastdna/internal/trainer"
	"github.com/hupe1980/fastdna/internal/tree"
)

// Progress is a training progress snapshot.
type Progress = trainer.Progress

// FastDNA is a k-mer embedding classifier.
//
// A FastDNA is empty until Train or LoadModel succeeds. Prediction methods may
// be called concurrently; Train, Quantize and LoadModel must not overlap with
// any other call.
type FastDNA struct {
	opts options

	args   *Args
	dict   *dict.Dictionary
	input  *matrix.Dense
	output *matrix.Dense

	qinput  *quantization.QMatrix
	qoutput *quantization.QMatrix

	tree      *tree.Tree
	taxonomy  bool // tree came from a taxonomy file and is persisted
	negatives *negative.Table
	params    *model.Params
	model     *model.Model
}

// New returns an empty FastDNA.
func New(optFns ...Option) *FastDNA {
	return &FastDNA{opts: applyOptions(optFns)}
}

// Args returns a copy of the model hyperparameters, or nil before training.
func (f *FastDNA) Args() *Args {
	if f.args == nil {
		return nil
	}
	a := *f.args
	return &a
}

// NumSequences returns the number of training records.
func (f *FastDNA) NumSequences() int {
	if f.dict == nil {
		return 0
	}
	return f.dict.NumSequences()
}

// NumLabels returns the number of distinct labels.
func (f *FastDNA) NumLabels() int {
	if f.dict == nil {
		return 0
	}
	return f.dict.NumLabels()
}

// Labels returns the label names by id.
func (f *FastDNA) Labels() []string {
	out := make([]string, f.NumLabels())
	for i := range out {
		out[i], _ = f.dict.Label(int32(i))
	}
	return out
}

// IsQuantized reports whether the input matrix is product-quantized.
func (f *FastDNA) IsQuantized() bool { return f.qinput != nil }

func (f *FastDNA) ready() error {
	if f.model == nil {
		return ErrNotTrained
	}
	return nil
}

func (f *FastDNA) modelConfig() model.Config {
	return model.Config{
		Loss:   f.args.Loss,
		Kind:   f.args.Model,
		Neg:    f.args.Neg,
		Freeze: f.args.FreezeEmbeddings,
	}
}

// targetCounts returns the class frequencies the output layer is built on.
// Unsupervised models predict k-mers, which all count once.
func (f *FastDNA) targetCounts() []int64 {
	if f.args.Model == ModelSupervised {
		return f.dict.Counts()
	}
	counts := make([]int64, f.dict.NumWords())
	for i := range counts {
		counts[i] = 1
	}
	return counts
}

// buildTargets prepares the loss-specific structures. The negative table is
// only needed for updates.
func (f *FastDNA) buildTargets(rng *rand.Rand, withNegatives bool) {
	switch f.args.Loss {
	case LossHS:
		if f.tree == nil {
			f.tree = tree.Build(f.targetCounts())
		}
	case LossNS:
		if withNegatives && f.negatives == nil {
			f.negatives = negative.NewTable(f.targetCounts(), negative.DefaultSize, rng)
		}
	}
}

// rebuild points the shared parameter store at the current matrices.
func (f *FastDNA) rebuild() {
	p := &model.Params{In: f.input, Out: f.output, Tree: f.tree, Negatives: f.negatives}
	if f.qinput != nil {
		p.In = f.qinput
	}
	if f.qoutput != nil {
		p.Out = f.qoutput
	}
	f.params = p
	f.model = model.New(f.modelConfig(), p, f.args.Seed)
}

// Train builds the dictionary from args.Input and args.Labels and trains a
// fresh model. Cancelling ctx stops the workers and returns ctx.Err().
func (f *FastDNA) Train(ctx context.Context, args Args) error {
	if err := args.Validate(); err != nil {
		return err
	}

	corpus, err := mmap.Open(args.Input)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer corpus.Close()

	d, err := readDictionary(corpus, &args)
	if err != nil {
		return err
	}
	if d.NumSequences() == 0 {
		return fmt.Errorf("%w: %s has no FASTA record", ErrInvalidArgument, args.Input)
	}

	*f = FastDNA{opts: f.opts, args: &args, dict: d}
	f.opts.logger.LogTrainStart(ctx, f.args, d.NumSequences(), d.NumLabels())

	rng := rand.New(rand.NewPCG(args.Seed, args.Seed^0x9e3779b97f4a7c15))
	if args.PretrainedVectors != "" {
		if f.input, err = f.loadVectors(args.PretrainedVectors, rng); err != nil {
			return err
		}
	} else {
		f.input = matrix.NewDense(d.NumWords()+args.Bucket, args.Dim)
		f.input.Uniform(1/float32(args.Dim), rng)
	}

	rows := d.NumLabels()
	if args.Model != ModelSupervised {
		rows = d.NumWords()
	}
	f.output = matrix.NewDense(rows, args.Dim)

	if args.Loss == LossHS && args.Taxonomy != "" {
		if err := f.loadTaxonomy(args.Taxonomy); err != nil {
			return err
		}
	}
	f.buildTargets(rng, true)
	f.rebuild()

	return f.run(ctx, corpus)
}

func readDictionary(corpus *mmap.Mapping, args *Args) (*dict.Dictionary, error) {
	var labels io.Reader = blankLines{}
	if args.Labels != "" {
		lf, err := os.Open(args.Labels)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIO, err)
		}
		defer lf.Close()
		labels = lf
	} else if args.Model == ModelSupervised {
		return nil, fmt.Errorf("%w: supervised training needs a label file", ErrInvalidArgument)
	}

	d := dict.New(args.K)
	if err := d.ReadFromFasta(io.NewSectionReader(corpus, 0, corpus.Size()), labels); err != nil {
		return nil, translateError(err)
	}
	return d, nil
}

// blankLines labels every record with the empty label.
type blankLines struct{}

func (blankLines) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = '\n'
	}
	return len(p), nil
}

func (f *FastDNA) loadTaxonomy(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer file.Close()

	t, err := tree.LoadTaxonomy(file, path, f.dict.LabelIDs(), f.dict.NumLabels())
	if err != nil {
		return translateError(err)
	}
	f.tree = t
	f.taxonomy = true
	return nil
}

// run trains the dense store in place with the current args.
func (f *FastDNA) run(ctx context.Context, corpus *mmap.Mapping) error {
	pattern := mmap.AccessSequential
	if f.args.Model == ModelSupervised {
		pattern = mmap.AccessRandom
	}
	_ = corpus.Advise(pattern)

	cfg := trainer.Config{
		Threads:      f.args.Thread,
		Epoch:        f.args.Epoch,
		LR:           f.args.LR,
		LRUpdateRate: f.args.LRUpdateRate,
		Length:       f.args.Length,
		K:            f.args.K,
		Noise:        f.args.Noise,
		WindowSize:   f.args.WS,
		Seed:         f.args.Seed,
		Model:        f.modelConfig(),
	}
	open := func(context.Context) (trainer.Source, error) {
		return corpus.Share(), nil
	}

	progress := func(p trainer.Progress) {
		f.opts.metricsCollector.RecordTrainProgress(p.Fraction, p.Loss, p.Examples)
		if f.opts.progress != nil {
			f.opts.progress(p)
		}
	}
	tr, err := trainer.New(cfg, f.dict, f.params, open,
		trainer.WithLogger(f.opts.logger.Logger),
		trainer.WithProgress(progress),
	)
	if err != nil {
		return translateError(err)
	}

	res, err := tr.Run(ctx)
	f.opts.logger.LogTrainDone(ctx, res.Examples, res.Loss, res.Duration, err)
	if err != nil {
		return translateError(err)
	}
	f.model = model.New(f.modelConfig(), f.params, f.args.Seed)
	return nil
}
