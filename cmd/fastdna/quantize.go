package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fastdna"
)

func newQuantizeCommand() *cobra.Command {
	d := fastdna.DefaultQuantizeArgs()
	cmd := &cobra.Command{
		Use:   "quantize",
		Short: "Quantize a model to reduce its memory usage",
		Long: `Load <output>.bin, product-quantize its input layer and write <output>.ftz.

With --cutoff only the k-mers with the largest embeddings are kept. --retrain
then fine-tunes the remaining rows on --input and --labels before quantizing.`,
		Args: cobra.NoArgs,
		RunE: runQuantize,
	}

	f := cmd.Flags()
	f.StringP("output", "o", "", "model name without extension")
	f.StringP("input", "i", "", "training FASTA file for --retrain")
	f.StringP("labels", "l", "", "label file for --retrain")
	f.Int("cutoff", d.Cutoff, "number of k-mers to keep, 0 keeps all")
	f.Int("dsub", d.DSub, "sub-vector width of the input quantizer")
	f.Bool("qnorm", d.QNorm, "quantize the row norms separately")
	f.Bool("qout", d.QOut, "also quantize the output layer")
	f.Bool("retrain", d.Retrain, "fine-tune the kept embeddings before quantizing")
	f.Int("epoch", d.Epoch, "retraining epochs")
	f.Float64("lr", d.LR, "retraining learning rate")
	f.IntP("thread", "t", d.Thread, "retraining worker goroutines")
	f.Int("verbose", 2, "verbosity; 2 or more draws a progress bar while retraining")
	return cmd
}

func runQuantize(cmd *cobra.Command, _ []string) error {
	cc := getCLIContext(cmd)
	ctx := cmd.Context()
	v := cc.v

	output := v.GetString("output")
	if output == "" {
		return fmt.Errorf("%w: --output is required", fastdna.ErrInvalidArgument)
	}
	qargs := fastdna.QuantizeArgs{
		Cutoff:  v.GetInt("cutoff"),
		DSub:    v.GetInt("dsub"),
		QNorm:   v.GetBool("qnorm"),
		QOut:    v.GetBool("qout"),
		Retrain: v.GetBool("retrain"),
		Input:   v.GetString("input"),
		Labels:  v.GetString("labels"),
		Epoch:   v.GetInt("epoch"),
		LR:      v.GetFloat64("lr"),
		Thread:  v.GetInt("thread"),
	}

	var opts []fastdna.Option
	var bar *progressBar
	if qargs.Retrain && v.GetInt("verbose") >= 2 {
		bar = newProgressBar(cc.stderr, "retraining")
		opts = append(opts, fastdna.WithProgress(bar.update))
	}

	f := cc.newModel(opts...)
	if err := f.LoadModel(ctx, output+".bin"); err != nil {
		return err
	}
	err := f.Quantize(ctx, qargs)
	if bar != nil {
		bar.finish(err == nil)
	}
	if err != nil {
		return err
	}
	return f.SaveModel(ctx, output+".ftz")
}
