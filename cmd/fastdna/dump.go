package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fastdna"
)

func newPrintVectorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print-vectors <model>",
		Short: "Print the embedding of every sequence read from stdin",
		Long: `Read one DNA sequence per line from stdin and print it followed by the
average embedding of its canonical k-mers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := getCLIContext(cmd)
			f, err := cc.loadModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			sc := bufio.NewScanner(cc.stdin)
			sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
			bw := bufio.NewWriter(cc.stdout)
			var num []byte
			for sc.Scan() {
				seq := strings.TrimSpace(sc.Text())
				if seq == "" {
					continue
				}
				vec, err := f.SequenceVector(strings.ToUpper(seq))
				if err != nil {
					return err
				}
				bw.WriteString(seq)
				for _, x := range vec {
					bw.WriteByte(' ')
					num = strconv.AppendFloat(num[:0], float64(x), 'g', 5, 32)
					bw.Write(num)
				}
				bw.WriteByte('\n')
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("%w: %w", fastdna.ErrIO, err)
			}
			return bw.Flush()
		},
	}
}

func newDumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "dump <model> <args|dict|input|output>",
		Short:     "Print a part of a model as text",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"args", "dict", "input", "output"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := getCLIContext(cmd)
			f, err := cc.loadModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return f.Dump(cc.stdout, args[1])
		},
	}
}
