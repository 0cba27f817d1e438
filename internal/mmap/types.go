package mmap

import "errors"

// AccessPattern is a hint to the kernel about how the data will be read.
type AccessPattern int

const (
	// AccessDefault is the default access pattern.
	AccessDefault AccessPattern = iota
	// AccessSequential expects data to be read front to back.
	AccessSequential
	// AccessRandom expects reads at scattered offsets.
	AccessRandom
	// AccessWillNeed expects data to be read soon.
	AccessWillNeed
)

var (
	// ErrClosed is returned when reading from a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned when the file size is invalid.
	ErrInvalidSize = errors.New("mmap: invalid file size")
	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)
