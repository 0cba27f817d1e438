// Package mmap provides read-only memory-mapped file access.
//
// A Mapping backs corpus reads during training: every worker shares one
// mapping and reads fragments through ReadAt at random offsets, so no
// worker holds its own file descriptor or buffer copy.
//
// On Unix the mapping uses mmap(2) with madvise(2) access hints. On Windows
// it uses CreateFileMapping/MapViewOfFile and hints are ignored.
//
// Mapping is safe for concurrent reads. Close is idempotent; callers must
// stop reading before Close returns.
package mmap
