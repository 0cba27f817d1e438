// Package scanner slides a k-mer window over FASTA sequence bytes.
package scanner

import (
	"errors"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/hupe1980/fastdna/internal/kmer"
)

// RecordSeparator starts a FASTA header and terminates a sequence.
const RecordSeparator = '>'

// Whole asks Scan to read up to the end of the current record.
const Whole = -1

// Scanner turns a stream of bases into canonical k-mer indices.
//
// A Scanner is not safe for concurrent use; each worker owns one.
type Scanner struct {
	k     int
	mask  uint64
	top   uint
	noise float64
	rng   *rand.Rand
}

// New returns a Scanner for k-mers of length k.
func New(k int) (*Scanner, error) {
	if k < 1 || k > kmer.MaxK {
		return nil, kmer.ErrInvalidK
	}
	return &Scanner{
		k:    k,
		mask: kmer.Mask(k),
		top:  2 * uint(k-1),
	}, nil
}

// WithNoise enables per-base mutation: each observed base is replaced by a
// uniformly random base with probability rate. Used for training only.
func (s *Scanner) WithNoise(rate float64, rng *rand.Rand) *Scanner {
	s.noise = rate
	s.rng = rng
	return s
}

// K returns the window length.
func (s *Scanner) K() int { return s.k }

// Scan reads at most length valid bases from r (Whole reads to the end of the
// record) and appends one canonical index per complete window to dst[:0].
//
// Bytes outside the ACGT alphabet are skipped without resetting the window.
// A RecordSeparator ends the scan and is pushed back so the next call starts at
// the following header. ok reports whether at least k bases were read.
func (s *Scanner) Scan(r io.ByteScanner, length int, dst []uint64) (windows []uint64, ok bool, err error) {
	windows = dst[:0]

	var fwd, rc uint64
	i := 0
	for length == Whole || i < length {
		c, rerr := r.ReadByte()
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return windows, i >= s.k, nil
			}
			return windows, false, rerr
		}
		if c == RecordSeparator {
			if uerr := r.UnreadByte(); uerr != nil {
				return windows, false, uerr
			}
			return windows, i >= s.k, nil
		}

		v, valid := kmer.Base(c)
		if !valid {
			continue
		}
		if s.noise > 0 && s.rng.Float64() < s.noise {
			v = uint64(s.rng.IntN(4))
		}

		fwd = (fwd<<2 | v) & s.mask
		rc = rc>>2 | kmer.Complement(v)<<s.top
		i++
		if i >= s.k {
			windows = append(windows, kmer.Encode(fwd, rc, s.k))
		}
	}
	return windows, i >= s.k, nil
}

// ReadHeader skips blank bytes and consumes one header line, returning its text
// without the separator. When the next record has no header the stream is left
// untouched and an empty name is returned. io.EOF marks the end of input.
func ReadHeader(r io.ByteScanner) (string, error) {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		switch c {
		case '\n', '\r', ' ', '\t':
			continue
		case RecordSeparator:
			return readLine(r)
		default:
			return "", r.UnreadByte()
		}
	}
}

func readLine(r io.ByteScanner) (string, error) {
	var sb strings.Builder
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return strings.TrimRight(sb.String(), "\r"), nil
			}
			return "", err
		}
		if c == '\n' {
			return strings.TrimRight(sb.String(), "\r"), nil
		}
		sb.WriteByte(c)
	}
}
