package testutil

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed uint64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed uint64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewPCG(seed, seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewPCG(r.seed, r.seed))
}

// Seed returns the initial seed.
func (r *RNG) Seed() uint64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.IntN(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// DNA returns n bases drawn uniformly from alphabet.
func (r *RNG) DNA(n int, alphabet string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[r.rand.IntN(len(alphabet))]
	}
	return string(b)
}

// RandomDNA returns n bases drawn uniformly from ACGT.
func (r *RNG) RandomDNA(n int) string {
	return r.DNA(n, "ACGT")
}

// ReverseComplement returns the reverse complement of an ACGT sequence.
// Other bytes are kept in place.
func ReverseComplement(seq string) string {
	b := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		c := seq[i]
		switch c {
		case 'A':
			c = 'T'
		case 'T':
			c = 'A'
		case 'C':
			c = 'G'
		case 'G':
			c = 'C'
		}
		b[len(seq)-1-i] = c
	}
	return string(b)
}

// Class describes one synthetic label: records of the class draw their bases
// from Alphabet.
type Class struct {
	Label    string
	Alphabet string
}

// TwoClasses is a separable two-label setup.
var TwoClasses = []Class{
	{Label: "ac", Alphabet: "AC"},
	{Label: "ag", Alphabet: "AG"},
}

// Corpus returns a FASTA text of records sequences of length bases, wrapped
// at 60 columns, and the matching label file. Record i belongs to
// classes[i%len(classes)].
func (r *RNG) Corpus(records, length int, classes []Class) (fasta, labels string) {
	var fb, lb strings.Builder
	for i := 0; i < records; i++ {
		c := classes[i%len(classes)]
		seq := r.DNA(length, c.Alphabet)
		fmt.Fprintf(&fb, ">read%d\n", i)
		for len(seq) > 60 {
			fb.WriteString(seq[:60])
			fb.WriteByte('\n')
			seq = seq[60:]
		}
		fb.WriteString(seq)
		fb.WriteByte('\n')
		lb.WriteString(c.Label)
		lb.WriteByte('\n')
	}
	return fb.String(), lb.String()
}

// WriteCorpus writes fasta and labels into a temporary directory and returns
// their paths.
func WriteCorpus(tb testing.TB, fasta, labels string) (fastaPath, labelsPath string) {
	tb.Helper()
	dir := tb.TempDir()
	fastaPath = filepath.Join(dir, "train.fasta")
	labelsPath = filepath.Join(dir, "train.labels")
	if err := os.WriteFile(fastaPath, []byte(fasta), 0o644); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(labelsPath, []byte(labels), 0o644); err != nil {
		tb.Fatal(err)
	}
	return fastaPath, labelsPath
}
