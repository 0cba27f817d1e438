package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fastdna"
	"github.com/hupe1980/fastdna/testutil"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(strings.NewReader(stdin), &stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

type fixture struct {
	fasta, labels         string
	fastaPath, labelsPath string
	output                string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	fasta, labels := testutil.NewRNG(42).Corpus(20, 200, testutil.TwoClasses)
	fp, lp := testutil.WriteCorpus(t, fasta, labels)
	return fixture{
		fasta: fasta, labels: labels,
		fastaPath: fp, labelsPath: lp,
		output: filepath.Join(t.TempDir(), "model"),
	}
}

func (fx fixture) train(t *testing.T, extra ...string) {
	t.Helper()
	args := append([]string{"train",
		"--input", fx.fastaPath, "--labels", fx.labelsPath, "--output", fx.output,
		"-k", "4", "--dim", "8", "--epoch", "20", "--length", "50",
		"--lr", "0.5", "--lr-update-rate", "10", "-t", "1", "--seed", "7",
		"--verbose", "0", "--log-level", "error",
	}, extra...)
	_, err := execute(t, "", args...)
	require.NoError(t, err)
}

func TestTrainTestPredict(t *testing.T) {
	fx := newFixture(t)
	fx.train(t, "--save-output", "--compression", "zstd")

	for _, ext := range []string{".bin", ".vec", ".output"} {
		_, err := os.Stat(fx.output + ext)
		require.NoError(t, err, ext)
	}

	out, err := execute(t, "", "test", fx.output+".bin", fx.fastaPath, fx.labelsPath, "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "N\t20", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "P@1\t"))
	assert.True(t, strings.HasPrefix(lines[2], "R@1\t"))

	out, err = execute(t, fx.fasta, "predict", fx.output+".bin", "-", "2")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 20)
	for _, l := range lines {
		assert.Len(t, strings.Fields(l), 2)
	}

	out, err = execute(t, fx.fasta, "predict-prob", fx.output+".bin", "-")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 20)
	assert.Len(t, strings.Fields(lines[0]), 2)
}

func TestPredictEmptyRecord(t *testing.T) {
	fx := newFixture(t)
	fx.train(t)

	out, err := execute(t, ">a\nACGTACGTAC\n>b\nAC\n", "predict", fx.output+".bin", "-")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.NotEmpty(t, lines[0])
	assert.Empty(t, lines[1])
}

func TestQuantizeCommand(t *testing.T) {
	fx := newFixture(t)
	fx.train(t)

	_, err := execute(t, "", "quantize", "--output", fx.output, "--cutoff", "60", "--qnorm",
		"--retrain", "--input", fx.fastaPath, "--labels", fx.labelsPath, "-t", "1",
		"--verbose", "0", "--log-level", "error")
	require.NoError(t, err)

	out, err := execute(t, "", "test", fx.output+".ftz", fx.fastaPath, fx.labelsPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "N\t20\n"))

	_, err = execute(t, "", "dump", fx.output+".ftz", "input")
	require.ErrorIs(t, err, fastdna.ErrUnsupportedOperation)
}

func TestDumpAndPrintVectors(t *testing.T) {
	fx := newFixture(t)
	fx.train(t)

	out, err := execute(t, "", "dump", fx.output+".bin", "args")
	require.NoError(t, err)
	assert.Contains(t, out, "dim 8\n")
	assert.Contains(t, out, "k 4\n")

	out, err = execute(t, "ACGTAC\n\nacgtacgt\n", "print-vectors", fx.output+".bin")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Len(t, strings.Fields(lines[0]), 9)
	assert.True(t, strings.HasPrefix(lines[1], "acgtacgt "))

	_, err = execute(t, "ACGN\n", "print-vectors", fx.output+".bin")
	require.ErrorIs(t, err, fastdna.ErrInvalidArgument)
}

func TestConfigFileAndEnv(t *testing.T) {
	fx := newFixture(t)
	cfg := filepath.Join(t.TempDir(), "fastdna.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("dim: 6\nepoch: 2\nk: 4\nlength: 50\nverbose: 0\nlog-level: error\n"), 0o600))
	t.Setenv("FASTDNA_THREAD", "1")

	_, err := execute(t, "", "train", "--config", cfg,
		"--input", fx.fastaPath, "--labels", fx.labelsPath, "--output", fx.output)
	require.NoError(t, err)

	out, err := execute(t, "", "dump", fx.output+".bin", "args")
	require.NoError(t, err)
	assert.Contains(t, out, "dim 6\n")
	assert.Contains(t, out, "epoch 2\n")
}

func TestUsageErrors(t *testing.T) {
	fx := newFixture(t)

	_, err := execute(t, "", "train", "--input", fx.fastaPath, "--log-level", "error")
	require.ErrorIs(t, err, fastdna.ErrInvalidArgument)

	_, err = execute(t, "", "train", "--input", fx.fastaPath, "--labels", fx.labelsPath,
		"--output", fx.output, "--loss", "hinge", "--log-level", "error")
	require.ErrorIs(t, err, fastdna.ErrInvalidArgument)

	_, err = execute(t, "", "predict", fx.output+".bin", fx.fastaPath, "x")
	require.ErrorIs(t, err, fastdna.ErrInvalidArgument)

	_, err = execute(t, "", "dump", "--store", "ftp://x", "m", "args")
	require.ErrorIs(t, err, fastdna.ErrInvalidArgument)

	_, err = execute(t, "", "test", "only-one-arg")
	require.Error(t, err)

	assert.Equal(t, 1, run(context.Background(), []string{"dump", filepath.Join(t.TempDir(), "missing.bin"), "args"}))
}
