package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/hupe1980/fastdna"
	"github.com/hupe1980/fastdna/persistence"
)

const barTotal = 1000

func newTrainCommand() *cobra.Command {
	d := fastdna.DefaultArgs()
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a classifier or k-mer embeddings",
		Long: `Train a model on a FASTA file and write <output>.bin and <output>.vec.

Supervised models need one label per FASTA record in --labels. The cbow and
skipgram models learn k-mer embeddings without labels.`,
		Args: cobra.NoArgs,
		RunE: runTrain,
	}

	f := cmd.Flags()
	f.StringP("input", "i", "", "training FASTA file")
	f.StringP("labels", "l", "", "label file, one label per record")
	f.StringP("output", "o", "", "output model name without extension")
	f.String("taxonomy", "", "hierarchical softmax tree file")
	f.String("pretrained-vectors", "", "k-mer vectors in .vec format to initialize the input layer")
	f.Float64("lr", d.LR, "learning rate")
	f.Int("lr-update-rate", d.LRUpdateRate, "examples between learning rate updates")
	f.Int("dim", d.Dim, "embedding dimension")
	f.Int("ws", d.WS, "context window of cbow and skipgram")
	f.IntP("k", "k", d.K, "k-mer length")
	f.Int("length", d.Length, "bases per training fragment")
	f.Int("epoch", d.Epoch, "number of epochs")
	f.Int("neg", d.Neg, "negatives sampled per example")
	f.String("loss", d.Loss.String(), "loss function (softmax, hs, ns)")
	f.String("model", d.Model.String(), "model (supervised, cbow, skipgram)")
	f.Int("bucket", d.Bucket, "extra input rows")
	f.IntP("thread", "t", d.Thread, "number of worker goroutines")
	f.Float64("noise", d.Noise, "per-base mutation probability")
	f.Uint64("seed", d.Seed, "random seed")
	f.Int("verbose", d.Verbose, "verbosity; 2 or more draws a progress bar")
	f.Bool("freeze-embeddings", false, "do not update the input layer")
	f.Bool("save-output", false, "also write <output>.output")
	return cmd
}

func trainArgs(cc *cliContext) (fastdna.Args, error) {
	v := cc.v
	a := fastdna.DefaultArgs()
	a.Input = v.GetString("input")
	a.Labels = v.GetString("labels")
	a.Output = v.GetString("output")
	a.Taxonomy = v.GetString("taxonomy")
	a.PretrainedVectors = v.GetString("pretrained-vectors")
	a.LR = v.GetFloat64("lr")
	a.LRUpdateRate = v.GetInt("lr-update-rate")
	a.Dim = v.GetInt("dim")
	a.WS = v.GetInt("ws")
	a.K = v.GetInt("k")
	a.Length = v.GetInt("length")
	a.Epoch = v.GetInt("epoch")
	a.Neg = v.GetInt("neg")
	a.Bucket = v.GetInt("bucket")
	a.Thread = v.GetInt("thread")
	a.Noise = v.GetFloat64("noise")
	a.Seed = v.GetUint64("seed")
	a.Verbose = v.GetInt("verbose")
	a.FreezeEmbeddings = v.GetBool("freeze-embeddings")
	a.SaveOutput = v.GetBool("save-output")

	var err error
	if a.Loss, err = fastdna.ParseLoss(v.GetString("loss")); err != nil {
		return a, err
	}
	if a.Model, err = fastdna.ParseModelKind(v.GetString("model")); err != nil {
		return a, err
	}
	if a.Input == "" || a.Output == "" {
		return a, fmt.Errorf("%w: --input and --output are required", fastdna.ErrInvalidArgument)
	}
	return a, a.Validate()
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cc := getCLIContext(cmd)
	ctx := cmd.Context()

	args, err := trainArgs(cc)
	if err != nil {
		return err
	}

	var opts []fastdna.Option
	var bar *progressBar
	if args.Verbose >= 2 {
		bar = newProgressBar(cc.stderr, "training")
		opts = append(opts, fastdna.WithProgress(bar.update))
	}

	f := cc.newModel(opts...)
	err = f.Train(ctx, args)
	if bar != nil {
		bar.finish(err == nil)
	}
	if err != nil {
		return err
	}
	return saveTrained(ctx, f, args)
}

func saveTrained(ctx context.Context, f *fastdna.FastDNA, args fastdna.Args) error {
	if err := f.SaveModel(ctx, args.Output+".bin"); err != nil {
		return err
	}
	if err := writeFile(args.Output+".vec", f.SaveVectors); err != nil {
		return err
	}
	if args.SaveOutput {
		return writeFile(args.Output+".output", f.SaveOutput)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := persistence.SaveToFile(path, write); err != nil {
		return fmt.Errorf("%w: %s: %w", fastdna.ErrIO, path, err)
	}
	return nil
}

// progressBar renders trainer progress snapshots on an mpb bar.
type progressBar struct {
	p    *mpb.Progress
	bar  *mpb.Bar
	loss atomic.Uint32
}

func newProgressBar(w io.Writer, name string) *progressBar {
	pb := &progressBar{p: mpb.New(mpb.WithWidth(40), mpb.WithOutput(w))}
	pb.bar = pb.p.AddBar(barTotal,
		mpb.PrependDecorators(
			decor.Name(name+": ", decor.WC{W: len(name) + 2, C: decor.DindentRight}),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				return fmt.Sprintf("loss %.4f", math.Float32frombits(pb.loss.Load()))
			}, decor.WCSyncSpace),
			decor.Name(" ETA: "),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
		),
	)
	return pb
}

func (pb *progressBar) update(p fastdna.Progress) {
	pb.loss.Store(math.Float32bits(p.Loss))
	pb.bar.SetCurrent(int64(p.Fraction * barTotal))
}

func (pb *progressBar) finish(ok bool) {
	if ok {
		pb.bar.SetCurrent(barTotal)
	} else {
		pb.bar.Abort(false)
	}
	pb.p.Wait()
}
