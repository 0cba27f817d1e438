// Package persistence provides the binary encoding of model files.
//
// Integers and floats are fixed-width little-endian, strings are
// NUL-terminated. Writer and Reader keep the first error and turn every later
// call into a no-op, so a sequence of fields needs a single error check:
//
//	w := persistence.NewWriter(bufio.NewWriter(f))
//	w.Int32(magic)
//	w.String(label)
//	if err := w.Err(); err != nil { ... }
//
// A short read is reported as ErrTruncated.
package persistence
