package fastdna

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fastdna/blobstore"
	"github.com/hupe1980/fastdna/codec"
	"github.com/hupe1980/fastdna/testutil"
)

type corpus struct {
	fasta, labels         string
	fastaPath, labelsPath string
}

func newCorpus(t *testing.T) corpus {
	t.Helper()
	rng := testutil.NewRNG(42)
	fasta, labels := rng.Corpus(20, 200, testutil.TwoClasses)
	fp, lp := testutil.WriteCorpus(t, fasta, labels)
	return corpus{fasta: fasta, labels: labels, fastaPath: fp, labelsPath: lp}
}

func testArgs(c corpus) Args {
	args := DefaultArgs()
	args.Input, args.Labels = c.fastaPath, c.labelsPath
	args.K = 4
	args.Dim = 8
	args.Epoch = 20
	args.Length = 50
	args.LR = 0.5
	args.LRUpdateRate = 10
	args.Thread = 1
	args.Seed = 7
	return args
}

func train(t *testing.T, c corpus, args Args, opts ...Option) *FastDNA {
	t.Helper()
	fd := New(opts...)
	require.NoError(t, fd.Train(context.Background(), args))
	return fd
}

func TestTrainAndTest(t *testing.T) {
	c := newCorpus(t)
	for _, loss := range []Loss{LossSoftmax, LossHS, LossNS} {
		t.Run(loss.String(), func(t *testing.T) {
			args := testArgs(c)
			args.Loss = loss
			metrics := &BasicMetricsCollector{}
			fd := train(t, c, args, WithMetricsCollector(metrics))

			assert.Equal(t, 20, fd.NumSequences())
			assert.Equal(t, 2, fd.NumLabels())
			assert.Equal(t, []string{"ac", "ag"}, fd.Labels())
			assert.Equal(t, float64(1), metrics.GetStats().TrainProgress)

			res, err := fd.Test(context.Background(), strings.NewReader(c.fasta), strings.NewReader(c.labels), 1, 0)
			require.NoError(t, err)
			assert.Equal(t, int64(20), res.N)
			assert.Greater(t, res.PrecisionAtK, 0.7)
			assert.InDelta(t, res.PrecisionAtK, res.RecallAtK, 1e-9)
		})
	}
}

func TestTestSkipsUnknownLabels(t *testing.T) {
	c := newCorpus(t)
	fd := train(t, c, testArgs(c))

	labels := strings.Replace(c.labels, "ac\n", "zz\n", 1)
	res, err := fd.Test(context.Background(), strings.NewReader(c.fasta), strings.NewReader(labels), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(19), res.N)
	assert.InDelta(t, 0.5*res.RecallAtK, res.PrecisionAtK, 1e-9)
}

func TestTestPaired(t *testing.T) {
	c := newCorpus(t)
	fd := train(t, c, testArgs(c))

	rng := testutil.NewRNG(9)
	var fasta, labels strings.Builder
	for i := 0; i < 6; i++ {
		seq := rng.DNA(120, "AG")
		fasta.WriteString(">fwd\n" + seq + "\n>rev\n" + testutil.ReverseComplement(seq) + "\n")
		labels.WriteString("ag\n")
	}
	res, err := fd.TestPaired(context.Background(), strings.NewReader(fasta.String()), strings.NewReader(labels.String()), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.N)
	assert.Greater(t, res.PrecisionAtK, 0.5)
}

func TestPredict(t *testing.T) {
	c := newCorpus(t)
	fd := train(t, c, testArgs(c))

	rng := testutil.NewRNG(5)
	reads := ">a\n" + rng.DNA(150, "AC") + "\n>empty\nAC\n>g\n" + rng.DNA(150, "AG") + "\n"

	preds, err := fd.Predict(context.Background(), strings.NewReader(reads), 2, 0)
	require.NoError(t, err)
	require.Len(t, preds, 3)
	require.Len(t, preds[0], 2)
	assert.Equal(t, "ac", preds[0][0].Label)
	assert.GreaterOrEqual(t, preds[0][0].LogProb, preds[0][1].LogProb)
	assert.InDelta(t, 1, preds[0][0].Prob()+preds[0][1].Prob(), 0.01)
	assert.Empty(t, preds[1])
	assert.Equal(t, "ag", preds[2][0].Label)

	var names []string
	err = fd.PredictFunc(context.Background(), strings.NewReader(reads), 1, 0, false, func(r Record) error {
		names = append(names, r.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "empty", "g"}, names)

	_, err = fd.Predict(context.Background(), strings.NewReader(reads), 0, 0)
	require.ErrorIs(t, err, ErrInvalidK)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = fd.PredictPaired(context.Background(), strings.NewReader(reads), -1, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = fd.Test(context.Background(), strings.NewReader(reads), strings.NewReader("ac\nac\nag\n"), 0, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPredictReverseComplementInvariant(t *testing.T) {
	c := newCorpus(t)
	fd := train(t, c, testArgs(c))

	seq := testutil.NewRNG(11).RandomDNA(90)
	fwd, err := fd.SequenceVector(seq)
	require.NoError(t, err)
	rev, err := fd.SequenceVector(testutil.ReverseComplement(seq))
	require.NoError(t, err)
	assert.InDeltaSlice(t, fwd, rev, 1e-5)

	_, err = fd.SequenceVector("ACGTN")
	var be *ErrInvalidBase
	require.ErrorAs(t, err, &be)
	assert.Equal(t, byte('N'), be.Base)
}

func TestPredictPairedHierarchicalSoftmax(t *testing.T) {
	c := newCorpus(t)
	args := testArgs(c)
	args.Loss = LossHS
	fd := train(t, c, args)

	_, err := fd.PredictPaired(context.Background(), strings.NewReader(c.fasta), 1, 0)
	require.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestTaxonomy(t *testing.T) {
	c := newCorpus(t)
	path := filepath.Join(t.TempDir(), "tax.txt")
	require.NoError(t, os.WriteFile(path, []byte("n0 20\nl1 0 10 ac\nl2 0 10 ag\n"), 0o644))

	args := testArgs(c)
	args.Loss = LossHS
	args.Taxonomy = path
	fd := New(WithStore(blobstore.NewMemoryStore()))
	require.NoError(t, fd.Train(context.Background(), args))
	require.NoError(t, fd.SaveModel(context.Background(), "tax.bin"))

	loaded := New(WithStore(fd.opts.store))
	require.NoError(t, loaded.LoadModel(context.Background(), "tax.bin"))
	assert.True(t, loaded.taxonomy)

	require.NoError(t, os.WriteFile(path, []byte("n0 20\nl1 0 10 zz\nl2 0 10 ag\n"), 0o644))
	err := New().Train(context.Background(), args)
	require.ErrorIs(t, err, ErrTaxonomyFormat)
	var te *ErrTaxonomyLine
	require.ErrorAs(t, err, &te)
	assert.Equal(t, path, te.File)
}

func TestSaveLoadModel(t *testing.T) {
	c := newCorpus(t)
	store := blobstore.NewMemoryStore()
	fd := train(t, c, testArgs(c), WithStore(store))
	want, err := fd.Predict(context.Background(), strings.NewReader(c.fasta), 2, 0)
	require.NoError(t, err)

	for _, comp := range []codec.Compression{codec.None, codec.Zstd, codec.LZ4} {
		t.Run(comp.String(), func(t *testing.T) {
			fd.opts.compression = comp
			require.NoError(t, fd.SaveModel(context.Background(), "m.bin"))

			loaded := New(WithStore(store))
			require.NoError(t, loaded.LoadModel(context.Background(), "m.bin"))
			assert.Equal(t, fd.Args().Dim, loaded.Args().Dim)
			assert.Equal(t, fd.NumSequences(), loaded.NumSequences())

			got, err := loaded.Predict(context.Background(), strings.NewReader(c.fasta), 2, 0)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestSaveLoadLocalStore(t *testing.T) {
	c := newCorpus(t)
	dir := t.TempDir()
	fd := train(t, c, testArgs(c), WithStore(blobstore.NewLocalStore(dir)), WithCompression(codec.Zstd))
	require.NoError(t, fd.SaveModel(context.Background(), "models/m.bin"))

	loaded := New(WithStore(blobstore.NewLocalStore(dir)))
	require.NoError(t, loaded.LoadModel(context.Background(), "models/m.bin"))
	assert.Equal(t, 2, loaded.NumLabels())
}

func TestLoadModelErrors(t *testing.T) {
	c := newCorpus(t)
	store := blobstore.NewMemoryStore()
	fd := train(t, c, testArgs(c), WithStore(store))
	require.NoError(t, fd.SaveModel(context.Background(), "m.bin"))

	blob, err := store.Open(context.Background(), "m.bin")
	require.NoError(t, err)
	data, err := blob.(blobstore.Mappable).Bytes()
	require.NoError(t, err)

	ctx := context.Background()
	put := func(name string, b []byte) {
		require.NoError(t, store.Put(ctx, name, bytes.NewReader(b)))
	}

	put("truncated.bin", data[:len(data)/2])
	err = New(WithStore(store)).LoadModel(ctx, "truncated.bin")
	require.ErrorIs(t, err, ErrFileFormat)

	bad := append([]byte{}, data...)
	bad[0] ^= 0xff
	put("magic.bin", bad)
	err = New(WithStore(store)).LoadModel(ctx, "magic.bin")
	var mf *ErrModelFormat
	require.ErrorAs(t, err, &mf)
	require.ErrorIs(t, err, ErrFileFormat)

	newer := append([]byte{}, data...)
	newer[4] = 13
	put("version.bin", newer)
	err = New(WithStore(store)).LoadModel(ctx, "version.bin")
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, int32(13), mf.Version)

	err = New(WithStore(store)).LoadModel(ctx, "missing.bin")
	require.ErrorIs(t, err, ErrIO)
}

func TestQuantize(t *testing.T) {
	c := newCorpus(t)
	store := blobstore.NewMemoryStore()
	fd := train(t, c, testArgs(c), WithStore(store))

	q := DefaultQuantizeArgs()
	q.Cutoff = 60
	q.QNorm = true
	q.QOut = true
	q.Retrain = true
	q.Input, q.Labels = c.fastaPath, c.labelsPath
	q.Thread = 1
	require.NoError(t, fd.Quantize(context.Background(), q))
	assert.True(t, fd.IsQuantized())

	res, err := fd.Test(context.Background(), strings.NewReader(c.fasta), strings.NewReader(c.labels), 1, 0)
	require.NoError(t, err)
	assert.Greater(t, res.PrecisionAtK, 0.6)

	require.ErrorIs(t, fd.SaveOutput(&bytes.Buffer{}), ErrUnsupportedOperation)
	require.ErrorIs(t, fd.Dump(&bytes.Buffer{}, "input"), ErrUnsupportedOperation)
	require.ErrorIs(t, fd.Quantize(context.Background(), q), ErrUnsupportedOperation)

	require.NoError(t, fd.SaveModel(context.Background(), "q.bin"))
	loaded := New(WithStore(store))
	require.NoError(t, loaded.LoadModel(context.Background(), "q.bin"))
	assert.True(t, loaded.IsQuantized())
	assert.True(t, loaded.Args().QOut)

	want, err := fd.Predict(context.Background(), strings.NewReader(c.fasta), 1, 0)
	require.NoError(t, err)
	got, err := loaded.Predict(context.Background(), strings.NewReader(c.fasta), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestQuantizeFailureKeepsModel(t *testing.T) {
	c := newCorpus(t)
	fd := train(t, c, testArgs(c))
	want, err := fd.Predict(context.Background(), strings.NewReader(c.fasta), 2, 0)
	require.NoError(t, err)

	otherLabels := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(otherLabels, []byte(strings.Repeat("zz\n", 20)), 0o600))
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := map[string]struct {
		ctx    context.Context
		mutate func(*QuantizeArgs)
		want   error
	}{
		"retrain without input": {context.Background(), func(q *QuantizeArgs) { q.Retrain = true }, ErrInvalidArgument},
		"retrain with bad args": {context.Background(), func(q *QuantizeArgs) {
			q.Retrain, q.Input, q.Labels, q.Epoch = true, c.fastaPath, c.labelsPath, 0
		}, ErrInvalidArgument},
		"retrain with other labels": {context.Background(), func(q *QuantizeArgs) {
			q.Retrain, q.Input, q.Labels = true, c.fastaPath, otherLabels
		}, ErrInvalidArgument},
		"cancelled retrain": {cancelled, func(q *QuantizeArgs) {
			q.Retrain, q.Input, q.Labels = true, c.fastaPath, c.labelsPath
		}, context.Canceled},
		"cancelled quantization": {cancelled, func(*QuantizeArgs) {}, context.Canceled},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			q := DefaultQuantizeArgs()
			q.Cutoff = 10
			q.Thread = 1
			tc.mutate(&q)
			err := fd.Quantize(tc.ctx, q)
			require.Error(t, err)
			if tc.want != nil {
				require.ErrorIs(t, err, tc.want)
			}

			assert.False(t, fd.IsQuantized())
			got, err := fd.Predict(context.Background(), strings.NewReader(c.fasta), 2, 0)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestTrainDefaultsEndToEnd(t *testing.T) {
	c := newCorpus(t)
	args := DefaultArgs()
	args.Input, args.Labels = c.fastaPath, c.labelsPath
	args.K, args.Dim, args.Epoch, args.Thread = 4, 8, 5, 1
	args.Verbose = 0
	fd := train(t, c, args)

	res, err := fd.Test(context.Background(), strings.NewReader(c.fasta), strings.NewReader(c.labels), 1, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 20, res.N)
	assert.GreaterOrEqual(t, res.PrecisionAtK, 0.9)
}

func TestUnsupervised(t *testing.T) {
	c := newCorpus(t)
	for _, kind := range []ModelKind{ModelCBOW, ModelSkipgram} {
		t.Run(kind.String(), func(t *testing.T) {
			args := testArgs(c)
			args.Model = kind
			args.Loss = LossNS
			args.Labels = ""
			args.Epoch = 2
			args.WS = 2
			fd := train(t, c, args)

			_, err := fd.Predict(context.Background(), strings.NewReader(c.fasta), 1, 0)
			require.ErrorIs(t, err, ErrUnsupportedOperation)
			require.ErrorIs(t, fd.Quantize(context.Background(), DefaultQuantizeArgs()), ErrUnsupportedOperation)

			var buf bytes.Buffer
			require.NoError(t, fd.SaveOutput(&buf))
			assert.True(t, strings.HasPrefix(buf.String(), "136 8\n"))
		})
	}
}

func TestSaveVectorsAndPretrained(t *testing.T) {
	c := newCorpus(t)
	fd := train(t, c, testArgs(c))

	var buf bytes.Buffer
	require.NoError(t, fd.SaveVectors(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 137)
	assert.Equal(t, "136 8", lines[0])
	assert.Len(t, strings.Fields(lines[1]), 9)

	path := filepath.Join(t.TempDir(), "pre.vec")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	args := testArgs(c)
	args.PretrainedVectors = path
	args.FreezeEmbeddings = true
	pre := train(t, c, args)

	v1, err := fd.SequenceVector("ACACACAC")
	require.NoError(t, err)
	v2, err := pre.SequenceVector("ACACACAC")
	require.NoError(t, err)
	assert.InDeltaSlice(t, v1, v2, 1e-4)

	args.Dim = 4
	require.ErrorIs(t, New().Train(context.Background(), args), ErrInvalidArgument)
}

func TestDump(t *testing.T) {
	c := newCorpus(t)
	fd := train(t, c, testArgs(c))

	var buf bytes.Buffer
	require.NoError(t, fd.Dump(&buf, "args"))
	assert.Contains(t, buf.String(), "dim 8\n")
	assert.Contains(t, buf.String(), "loss softmax\n")

	buf.Reset()
	require.NoError(t, fd.Dump(&buf, "dict"))
	assert.True(t, strings.HasPrefix(buf.String(), "sequences 20\nread0 ac 200\n"))

	buf.Reset()
	require.NoError(t, fd.Dump(&buf, "output"))
	assert.True(t, strings.HasPrefix(buf.String(), "2 8\n0 "))

	require.ErrorIs(t, fd.Dump(&buf, "bogus"), ErrInvalidArgument)
}

func TestNotTrained(t *testing.T) {
	fd := New()
	_, err := fd.Predict(context.Background(), strings.NewReader(">a\nACGT\n"), 1, 0)
	require.ErrorIs(t, err, ErrNotTrained)
	require.ErrorIs(t, fd.SaveModel(context.Background(), "x"), ErrNotTrained)
	assert.Nil(t, fd.Args())
}

func TestTrainCancelled(t *testing.T) {
	c := newCorpus(t)
	args := testArgs(c)
	args.Epoch = 1_000_000
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, New().Train(ctx, args), context.Canceled)
}

func TestTrainMissingInput(t *testing.T) {
	args := DefaultArgs()
	args.Input = filepath.Join(t.TempDir(), "missing.fasta")
	require.ErrorIs(t, New().Train(context.Background(), args), ErrIO)
}
