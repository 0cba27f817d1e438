package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRNGReset(t *testing.T) {
	rng := NewRNG(4711)
	a := rng.RandomDNA(32)
	rng.Reset()
	assert.Equal(t, a, rng.RandomDNA(32))
	assert.Equal(t, uint64(4711), rng.Seed())
}

func TestDNAAlphabet(t *testing.T) {
	rng := NewRNG(1)
	seq := rng.DNA(500, "AC")
	assert.Len(t, seq, 500)
	assert.Empty(t, strings.Trim(seq, "AC"))
}

func TestReverseComplement(t *testing.T) {
	assert.Equal(t, "ACGT", ReverseComplement("ACGT"))
	assert.Equal(t, "CCAT", ReverseComplement("ATGG"))
	assert.Equal(t, "", ReverseComplement(""))
}

func TestCorpus(t *testing.T) {
	rng := NewRNG(2)
	fasta, labels := rng.Corpus(4, 130, TwoClasses)

	assert.Equal(t, 4, strings.Count(fasta, ">"))
	assert.Equal(t, "ac\nag\nac\nag\n", labels)
	for _, line := range strings.Split(fasta, "\n") {
		assert.LessOrEqual(t, len(line), 60)
	}

	fp, lp := WriteCorpus(t, fasta, labels)
	got, err := os.ReadFile(fp)
	require.NoError(t, err)
	assert.Equal(t, fasta, string(got))
	got, err = os.ReadFile(lp)
	require.NoError(t, err)
	assert.Equal(t, labels, string(got))
}
