package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
)

// ErrTruncated is returned when input ends inside a value.
var ErrTruncated = errors.New("persistence: truncated input")

// Writer encodes primitive values.
type Writer struct {
	w   io.Writer
	buf [8]byte
	n   int64
	err error
}

// NewWriter creates a new binary writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first write error.
func (bw *Writer) Err() error { return bw.err }

// N returns the number of bytes written.
func (bw *Writer) N() int64 { return bw.n }

func (bw *Writer) write(p []byte) {
	if bw.err != nil {
		return
	}
	n, err := bw.w.Write(p)
	bw.n += int64(n)
	bw.err = err
}

// Int32 writes v.
func (bw *Writer) Int32(v int32) {
	binary.LittleEndian.PutUint32(bw.buf[:4], uint32(v))
	bw.write(bw.buf[:4])
}

// Int64 writes v.
func (bw *Writer) Int64(v int64) {
	binary.LittleEndian.PutUint64(bw.buf[:8], uint64(v))
	bw.write(bw.buf[:8])
}

// Uint64 writes v.
func (bw *Writer) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(bw.buf[:8], v)
	bw.write(bw.buf[:8])
}

// Float32 writes v.
func (bw *Writer) Float32(v float32) {
	binary.LittleEndian.PutUint32(bw.buf[:4], math.Float32bits(v))
	bw.write(bw.buf[:4])
}

// Float64 writes v.
func (bw *Writer) Float64(v float64) {
	binary.LittleEndian.PutUint64(bw.buf[:8], math.Float64bits(v))
	bw.write(bw.buf[:8])
}

// Bool writes v as a single byte.
func (bw *Writer) Bool(v bool) {
	bw.buf[0] = 0
	if v {
		bw.buf[0] = 1
	}
	bw.write(bw.buf[:1])
}

// Byte writes b.
func (bw *Writer) Byte(b byte) {
	bw.buf[0] = b
	bw.write(bw.buf[:1])
}

// String writes s followed by a NUL byte.
func (bw *Writer) String(s string) {
	bw.write([]byte(s))
	bw.Byte(0)
}

// Bytes writes p verbatim.
func (bw *Writer) Bytes(p []byte) {
	bw.write(p)
}

// Float32s writes every element of vec.
func (bw *Writer) Float32s(vec []float32) {
	var chunk [4096]byte
	for len(vec) > 0 && bw.err == nil {
		n := min(len(vec), len(chunk)/4)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(chunk[4*i:], math.Float32bits(vec[i]))
		}
		bw.write(chunk[:4*n])
		vec = vec[n:]
	}
}

// Reader decodes primitive values.
type Reader struct {
	r   *bufio.Reader
	buf [8]byte
	err error
}

// NewReader creates a new binary reader.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 256*1024)
	}
	return &Reader{r: br}
}

// Err returns the first read error. A short read is reported as ErrTruncated.
func (br *Reader) Err() error { return br.err }

func (br *Reader) read(p []byte) bool {
	if br.err != nil {
		return false
	}
	if _, err := io.ReadFull(br.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = ErrTruncated
		}
		br.err = err
		return false
	}
	return true
}

// Int32 reads an int32.
func (br *Reader) Int32() int32 {
	if !br.read(br.buf[:4]) {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(br.buf[:4]))
}

// Int64 reads an int64.
func (br *Reader) Int64() int64 {
	if !br.read(br.buf[:8]) {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(br.buf[:8]))
}

// Uint64 reads a uint64.
func (br *Reader) Uint64() uint64 {
	if !br.read(br.buf[:8]) {
		return 0
	}
	return binary.LittleEndian.Uint64(br.buf[:8])
}

// Float32 reads a float32.
func (br *Reader) Float32() float32 {
	if !br.read(br.buf[:4]) {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(br.buf[:4]))
}

// Float64 reads a float64.
func (br *Reader) Float64() float64 {
	if !br.read(br.buf[:8]) {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(br.buf[:8]))
}

// Bool reads a single-byte bool.
func (br *Reader) Bool() bool {
	return br.Byte() != 0
}

// Byte reads one byte.
func (br *Reader) Byte() byte {
	if !br.read(br.buf[:1]) {
		return 0
	}
	return br.buf[0]
}

// String reads a NUL-terminated string.
func (br *Reader) String() string {
	if br.err != nil {
		return ""
	}
	s, err := br.r.ReadString(0)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrTruncated
		}
		br.err = err
		return ""
	}
	return s[:len(s)-1]
}

// Bytes fills p.
func (br *Reader) Bytes(p []byte) {
	br.read(p)
}

// Float32s fills vec.
func (br *Reader) Float32s(vec []float32) {
	var chunk [4096]byte
	for len(vec) > 0 && br.err == nil {
		n := min(len(vec), len(chunk)/4)
		if !br.read(chunk[:4*n]) {
			return
		}
		for i := 0; i < n; i++ {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(chunk[4*i:]))
		}
		vec = vec[n:]
	}
}

// Count reads a non-negative int64 length prefix bounded by limit.
func (br *Reader) Count(limit int64) int {
	n := br.Int64()
	if br.err == nil && (n < 0 || n > limit) {
		br.err = ErrTruncated
		return 0
	}
	return int(n)
}

// SaveToFile writes through a temporary file in the same directory and renames
// it over filename once writeFunc succeeded.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	tmpName = ""
	return nil
}
