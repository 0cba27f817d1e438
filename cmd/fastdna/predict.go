package main

import (
	"bufio"
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fastdna"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <model> <fasta> <labels> [<k>] [<th>]",
		Short: "Evaluate precision and recall at k",
		Long: `Evaluate a model on labelled FASTA records and print the number of
examples with precision and recall at k. A fasta of "-" reads stdin.`,
		Args: cobra.RangeArgs(3, 5),
		RunE: runTest,
	}
	cmd.Flags().Bool("paired", false, "treat consecutive records as read pairs")
	return cmd
}

func runTest(cmd *cobra.Command, args []string) error {
	cc := getCLIContext(cmd)
	ctx := cmd.Context()

	k, th, err := parseK(args[3:])
	if err != nil {
		return err
	}
	f, err := cc.loadModel(ctx, args[0])
	if err != nil {
		return err
	}

	fasta, err := cc.openInput(args[1])
	if err != nil {
		return err
	}
	defer fasta.Close()
	labels, err := cc.openInput(args[2])
	if err != nil {
		return err
	}
	defer labels.Close()

	var res fastdna.TestResult
	if cc.v.GetBool("paired") {
		res, err = f.TestPaired(ctx, fasta, labels, k, th)
	} else {
		res, err = f.Test(ctx, fasta, labels, k, th)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cc.stdout, "N\t%d\n", res.N)
	fmt.Fprintf(cc.stdout, "P@%d\t%.3g\n", k, res.PrecisionAtK)
	fmt.Fprintf(cc.stdout, "R@%d\t%.3g\n", k, res.RecallAtK)
	cc.logger.InfoContext(ctx, "evaluation finished", "examples", res.N)
	return nil
}

func newPredictCommand(name string, prob bool) *cobra.Command {
	short := "Print the most likely labels of every record"
	if prob {
		short = "Print the most likely labels of every record with their probability"
	}
	cmd := &cobra.Command{
		Use:   name + " <model> <fasta> [<k>] [<th>]",
		Short: short,
		Long: short + `.

One line is written per record, or per read pair with --paired. A record
without a full k-mer window gets an empty line. A fasta of "-" reads stdin.`,
		Args: cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, args, prob)
		},
	}
	cmd.Flags().Bool("paired", false, "treat consecutive records as read pairs")
	return cmd
}

func runPredict(cmd *cobra.Command, args []string, prob bool) error {
	cc := getCLIContext(cmd)
	ctx := cmd.Context()

	k, th, err := parseK(args[2:])
	if err != nil {
		return err
	}
	f, err := cc.loadModel(ctx, args[0])
	if err != nil {
		return err
	}
	fasta, err := cc.openInput(args[1])
	if err != nil {
		return err
	}
	defer fasta.Close()

	bw := bufio.NewWriter(cc.stdout)
	var num []byte
	err = f.PredictFunc(ctx, fasta, k, th, cc.v.GetBool("paired"), func(rec fastdna.Record) error {
		for i, p := range rec.Predictions {
			if i > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(p.Label)
			if prob {
				bw.WriteByte(' ')
				num = strconv.AppendFloat(num[:0], math.Exp(float64(p.LogProb)), 'g', 5, 64)
				bw.Write(num)
			}
		}
		return bw.WriteByte('\n')
	})
	if ferr := bw.Flush(); err == nil && ferr != nil {
		err = fmt.Errorf("%w: %w", fastdna.ErrIO, ferr)
	}
	return err
}
