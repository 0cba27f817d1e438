package mmap

import (
	"io"
	"os"
	"sync/atomic"
)

// Mapping is a read-only memory-mapped file.
type Mapping struct {
	data   []byte
	closed atomic.Bool
	unmap  func([]byte) error
	refs   atomic.Int32
}

// Open maps the file at path into memory.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	if size < 0 || int64(int(size)) != size {
		return nil, ErrInvalidSize
	}
	m := &Mapping{}
	m.refs.Store(1)
	if size == 0 {
		return m, nil
	}

	data, unmap, err := osMap(f, int(size))
	if err != nil {
		return nil, err
	}
	m.data = data
	m.unmap = unmap
	return m, nil
}

// Share returns a handle on the same mapping. The memory is released when
// the last handle is closed.
func (m *Mapping) Share() *Handle {
	m.refs.Add(1)
	return &Handle{m: m}
}

// Close releases this reference. The last release unmaps the memory.
func (m *Mapping) Close() error {
	return m.release()
}

func (m *Mapping) release() error {
	if m.refs.Add(-1) > 0 {
		return nil
	}
	if m.closed.Swap(true) {
		return nil
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the mapped bytes. The slice is invalid after the last Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the mapped length in bytes.
func (m *Mapping) Size() int64 {
	return int64(len(m.data))
}

// Advise hints the kernel about the expected access pattern.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.data == nil {
		return nil
	}
	return osAdvise(m.data, pattern)
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Handle is one shared reference on a Mapping.
type Handle struct {
	m    *Mapping
	done atomic.Bool
}

// ReadAt implements io.ReaderAt.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) { return h.m.ReadAt(p, off) }

// Size returns the mapped length in bytes.
func (h *Handle) Size() int64 { return h.m.Size() }

// Close releases the reference once.
func (h *Handle) Close() error {
	if h.done.Swap(true) {
		return nil
	}
	return h.m.release()
}
