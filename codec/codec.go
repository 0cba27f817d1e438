// Package codec frames model blobs with optional stream compression.
//
// A compressed blob starts with a 4-byte tag naming the algorithm. Plain
// blobs carry no tag, so NewReader detects both forms and old uncompressed
// model files keep loading.
package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the container algorithm.
type Compression uint8

const (
	// None writes the payload unchanged.
	None Compression = iota
	// Zstd favors ratio; suited for archived models.
	Zstd
	// LZ4 favors decode speed.
	LZ4
)

const tagSize = 4

var (
	tagZstd = []byte("FDZ1")
	tagLZ4  = []byte("FDL1")
)

// ErrUnknownCompression is returned for unrecognized names.
var ErrUnknownCompression = errors.New("codec: unknown compression")

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression returns the Compression named s.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// NewWriter returns a writer that frames everything written to it. Close
// flushes the compressor; it does not close w.
func NewWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopCloser{w}, nil
	case Zstd:
		if _, err := w.Write(tagZstd); err != nil {
			return nil, err
		}
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case LZ4:
		if _, err := w.Write(tagLZ4); err != nil {
			return nil, err
		}
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompression, c)
	}
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// NewReader detects the container of r and returns the payload reader
// together with the detected compression.
func NewReader(r io.Reader) (io.ReadCloser, Compression, error) {
	br := bufio.NewReader(r)
	tag, err := br.Peek(tagSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, None, err
	}

	switch {
	case bytes.Equal(tag, tagZstd):
		_, _ = br.Discard(tagSize)
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, None, err
		}
		return zstdReadCloser{dec}, Zstd, nil
	case bytes.Equal(tag, tagLZ4):
		_, _ = br.Discard(tagSize)
		return io.NopCloser(lz4.NewReader(br)), LZ4, nil
	default:
		return io.NopCloser(br), None, nil
	}
}
