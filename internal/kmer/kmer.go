// Package kmer maps DNA k-mers onto canonical indices.
//
// A k-mer and its reverse complement share one index in [0, Size(k)). The
// index is built by classifying the (first, last) base pair of the k-mer:
//
//	A..T  T..A  C..G  G..C                   recurse on the (k-2)-mer interior
//	A..A/T..T  C..C/G..G  A..C/G..T          encode the raw (k-2)-mer interior
//	C..A/T..G  A..G/C..T  G..A/T..C
//
// Bases are packed two bits each, first base in the most significant position,
// with A=0, C=1, T=2, G=3 so that complement(x) = (x+2) mod 4.
package kmer

import (
	"errors"
	"fmt"
	"strings"
)

// MaxK is the largest supported k-mer length.
const MaxK = 31

var (
	// ErrInvalidBase is returned for a byte outside the ACGT alphabet.
	ErrInvalidBase = errors.New("kmer: invalid base")

	// ErrInvalidK is returned when k is outside [0, MaxK].
	ErrInvalidK = errors.New("kmer: invalid k")
)

// Base values.
const (
	A uint64 = 0
	C uint64 = 1
	T uint64 = 2
	G uint64 = 3
)

const letters = "ACTG"

// baseTable maps an ASCII byte to its 2-bit value, or -1.
var baseTable = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for v, c := range []byte(letters) {
		t[c] = int8(v)
		t[c+'a'-'A'] = int8(v)
	}
	return t
}()

// endClass is one entry of the (first, last) classification table.
type endClass struct {
	class   uint8
	reverse bool // matched the second member of a dual pair
}

// ends is indexed by first<<2 | last.
var ends = [16]endClass{
	A<<2 | A: {4, false}, A<<2 | C: {6, false}, A<<2 | T: {0, false}, A<<2 | G: {8, false},
	C<<2 | A: {7, false}, C<<2 | C: {5, false}, C<<2 | T: {8, true}, C<<2 | G: {2, false},
	T<<2 | A: {1, false}, T<<2 | C: {9, true}, T<<2 | T: {4, true}, T<<2 | G: {7, true},
	G<<2 | A: {9, false}, G<<2 | C: {3, false}, G<<2 | T: {6, true}, G<<2 | G: {5, true},
}

// classEnds holds the representative (first, last) bases of each class.
var classEnds = [10][2]uint64{
	{A, T}, {T, A}, {C, G}, {G, C},
	{A, A}, {C, C}, {A, C}, {C, A}, {A, G}, {G, A},
}

// Base returns the 2-bit value of b.
func Base(b byte) (uint64, bool) {
	v := baseTable[b]
	if v < 0 {
		return 0, false
	}
	return uint64(v), true
}

// Complement returns the complementary base value.
func Complement(v uint64) uint64 {
	return (v + 2) & 3
}

// Size returns the number of canonical k-mers of length k.
func Size(k int) uint64 {
	switch {
	case k <= 0:
		return 1
	case k == 1:
		return 2
	case k%2 == 0:
		return 1<<(2*k-1) + 1<<(k-1)
	default:
		return 1 << (2*k - 1)
	}
}

// Mask returns the bit mask covering a packed k-mer.
func Mask(k int) uint64 {
	if k >= 32 {
		return ^uint64(0)
	}
	return 1<<(2*uint(k)) - 1
}

// Encode returns the canonical index of the k-mer packed as fwd, whose reverse
// complement is packed as rc.
func Encode(fwd, rc uint64, k int) uint64 {
	if k <= 0 {
		return 0
	}
	if k == 1 {
		return fwd & 1
	}

	shift := 2 * uint(k-1)
	e := ends[(fwd>>shift)<<2|fwd&3]
	inner := Mask(k - 2)

	if e.class < 4 {
		n := Size(k - 2)
		return uint64(e.class)*n + Encode((fwd>>2)&inner, (rc>>2)&inner, k-2)
	}

	interior := (fwd >> 2) & inner
	if e.reverse {
		interior = (rc >> 2) & inner
	}
	return 4*Size(k-2) + uint64(e.class-4)<<(2*uint(k-2)) + interior
}

// Decode returns the packed representative of index.
func Decode(index uint64, k int) uint64 {
	if k <= 0 {
		return 0
	}
	if k == 1 {
		return index & 1
	}

	n := Size(k - 2)
	shift := 2 * uint(k-1)

	var cls, interior uint64
	if index < 4*n {
		cls = index / n
		interior = Decode(index%n, k-2)
	} else {
		r := index - 4*n
		cls = 4 + r>>(2*uint(k-2))
		interior = r & Mask(k-2)
	}

	e := classEnds[cls]
	return e[0]<<shift | interior<<2 | e[1]
}

// DecodeString returns the representative k-mer of index as a string.
func DecodeString(index uint64, k int) string {
	return Unpack(Decode(index, k), k)
}

// ReverseComplementPacked returns the reverse complement of a packed k-mer.
func ReverseComplementPacked(fwd uint64, k int) uint64 {
	var rc uint64
	for i := 0; i < k; i++ {
		rc = rc<<2 | Complement(fwd&3)
		fwd >>= 2
	}
	return rc
}

// BaseError reports a byte outside the ACGT alphabet.
type BaseError struct {
	Base byte
	Pos  int
}

func (e *BaseError) Error() string {
	return fmt.Sprintf("kmer: invalid base %q at position %d", e.Base, e.Pos)
}

func (e *BaseError) Unwrap() error { return ErrInvalidBase }

// Pack converts seq into its forward and reverse-complement packed forms.
func Pack(seq string) (fwd, rc uint64, err error) {
	k := len(seq)
	if k > MaxK {
		return 0, 0, ErrInvalidK
	}
	for i := 0; i < k; i++ {
		v, ok := Base(seq[i])
		if !ok {
			return 0, 0, &BaseError{Base: seq[i], Pos: i}
		}
		fwd = fwd<<2 | v
		rc |= Complement(v) << (2 * uint(i))
	}
	return fwd, rc, nil
}

// Unpack converts a packed k-mer back to its bases.
func Unpack(fwd uint64, k int) string {
	var sb strings.Builder
	sb.Grow(k)
	for i := k - 1; i >= 0; i-- {
		sb.WriteByte(letters[(fwd>>(2*uint(i)))&3])
	}
	return sb.String()
}

// EncodeString returns the canonical index of seq, using k = len(seq).
func EncodeString(seq string) (uint64, error) {
	fwd, rc, err := Pack(seq)
	if err != nil {
		return 0, err
	}
	return Encode(fwd, rc, len(seq)), nil
}

// ReverseComplement returns the reverse complement of seq.
func ReverseComplement(seq string) (string, error) {
	b := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		v, ok := Base(seq[i])
		if !ok {
			return "", &BaseError{Base: seq[i], Pos: i}
		}
		b[len(seq)-1-i] = letters[Complement(v)]
	}
	return string(b), nil
}

// ValidK reports whether k is a supported k-mer length.
func ValidK(k int) error {
	if k < 0 || k > MaxK {
		return ErrInvalidK
	}
	return nil
}
