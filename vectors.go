package fastdna

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/hupe1980/fastdna/internal/kmer"
	"github.com/hupe1980/fastdna/internal/matrix"
	"github.com/hupe1980/fastdna/internal/scanner"
)

// SequenceVector returns the average input embedding of the canonical k-mers
// of seq.
func (f *FastDNA) SequenceVector(seq string) ([]float32, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	for i := 0; i < len(seq); i++ {
		if _, ok := kmer.Base(seq[i]); !ok {
			return nil, translateError(&kmer.BaseError{Base: seq[i], Pos: i})
		}
	}
	if len(seq) < f.args.K {
		return nil, fmt.Errorf("%w: sequence is shorter than k=%d", ErrInvalidArgument, f.args.K)
	}

	sc, err := scanner.New(f.args.K)
	if err != nil {
		return nil, translateError(err)
	}
	windows, _, err := sc.Scan(strings.NewReader(seq), scanner.Whole, nil)
	if err != nil {
		return nil, err
	}
	vec := make([]float32, f.args.Dim)
	f.model.ComputeHidden(windows, vec)
	return vec, nil
}

// SaveVectors writes the input embedding of every canonical k-mer in the
// word2vec text format: a "count dim" header, then one k-mer and its
// coordinates per line.
func (f *FastDNA) SaveVectors(w io.Writer) error {
	if err := f.ready(); err != nil {
		return err
	}
	n := f.dict.NumWords()
	return writeVectors(w, f.params.In, n, func(i int) string {
		return kmer.DecodeString(uint64(i), f.args.K)
	})
}

// SaveOutput writes the output layer in the same format as SaveVectors, one
// row per label, or per k-mer for unsupervised models.
func (f *FastDNA) SaveOutput(w io.Writer) error {
	if err := f.ready(); err != nil {
		return err
	}
	if f.IsQuantized() {
		return fmt.Errorf("%w: output vectors of a quantized model", ErrUnsupportedOperation)
	}
	return writeVectors(w, f.output, f.output.Rows(), f.outputName)
}

func (f *FastDNA) outputName(i int) string {
	if f.args.Model == ModelSupervised {
		l, _ := f.dict.Label(int32(i))
		return l
	}
	return kmer.DecodeString(uint64(i), f.args.K)
}

func writeVectors(w io.Writer, m matrix.Matrix, n int, name func(int) string) error {
	bw := bufio.NewWriterSize(w, 1<<16)
	fmt.Fprintf(bw, "%d %d\n", n, m.Cols())

	row := make([]float32, m.Cols())
	var num []byte
	for i := 0; i < n; i++ {
		clear(row)
		m.AddRowTo(row, i, 1)
		bw.WriteString(name(i))
		for _, v := range row {
			bw.WriteByte(' ')
			num = strconv.AppendFloat(num[:0], float64(v), 'g', 5, 32)
			bw.Write(num)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Dump writes one part of the model as text: "args", "dict", "input" or
// "output". Matrices of a quantized model cannot be dumped.
func (f *FastDNA) Dump(w io.Writer, what string) error {
	if err := f.ready(); err != nil {
		return err
	}
	switch what {
	case "args":
		return f.args.Dump(w)
	case "dict":
		return f.dumpDict(w)
	case "input":
		if f.IsQuantized() {
			return fmt.Errorf("%w: dump of a quantized input matrix", ErrUnsupportedOperation)
		}
		return writeVectors(w, f.input, f.input.Rows(), strconv.Itoa)
	case "output":
		if f.qoutput != nil || f.IsQuantized() {
			return fmt.Errorf("%w: dump of a quantized output matrix", ErrUnsupportedOperation)
		}
		return writeVectors(w, f.output, f.output.Rows(), strconv.Itoa)
	}
	return fmt.Errorf("%w: unknown dump option %q", ErrInvalidArgument, what)
}

func (f *FastDNA) dumpDict(w io.Writer) error {
	bw := bufio.NewWriter(w)
	entries := f.dict.Entries()
	fmt.Fprintf(bw, "sequences %d\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(bw, "%s %s %d\n", e.Name, e.Label, e.Count)
	}
	counts := f.dict.Counts()
	fmt.Fprintf(bw, "labels %d\n", len(counts))
	for i, c := range counts {
		l, _ := f.dict.Label(int32(i))
		fmt.Fprintf(bw, "%s %d\n", l, c)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// loadVectors reads pretrained k-mer embeddings written by SaveVectors. Bucket
// rows are initialized like a fresh model.
func (f *FastDNA) loadVectors(path string, rng *rand.Rand) (*matrix.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer file.Close()

	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 1<<16), 1<<24)
	if !sc.Scan() {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidArgument, path)
	}
	var n, dim int
	if _, err := fmt.Sscanf(sc.Text(), "%d %d", &n, &dim); err != nil {
		return nil, fmt.Errorf("%w: %s header: %w", ErrInvalidArgument, path, err)
	}
	if n != f.dict.NumWords() || dim != f.args.Dim {
		return nil, fmt.Errorf("%w: %s holds %dx%d vectors, want %dx%d",
			ErrInvalidArgument, path, n, dim, f.dict.NumWords(), f.args.Dim)
	}

	m := matrix.NewDense(n+f.args.Bucket, dim)
	m.Uniform(1/float32(dim), rng)
	for line := 2; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != dim+1 || len(fields[0]) != f.args.K {
			return nil, fmt.Errorf("%w: %s line %d: malformed vector", ErrInvalidArgument, path, line)
		}
		idx, err := kmer.EncodeString(fields[0])
		if err != nil {
			return nil, translateError(err)
		}
		row := m.Row(int(idx))
		for j, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d: %w", ErrInvalidArgument, path, line, err)
			}
			row[j] = float32(v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return m, nil
}
