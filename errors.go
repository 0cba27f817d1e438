package fastdna

import (
	"errors"
	"fmt"

	"github.com/hupe1980/fastdna/codec"
	"github.com/hupe1980/fastdna/internal/dict"
	"github.com/hupe1980/fastdna/internal/kmer"
	"github.com/hupe1980/fastdna/internal/matrix"
	"github.com/hupe1980/fastdna/internal/model"
	"github.com/hupe1980/fastdna/internal/quantization"
	"github.com/hupe1980/fastdna/internal/trainer"
	"github.com/hupe1980/fastdna/internal/tree"
	"github.com/hupe1980/fastdna/persistence"
)

var (
	// ErrInvalidArgument is returned for hyperparameters or call arguments
	// outside their valid range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrFileFormat is returned when a model file cannot be decoded.
	ErrFileFormat = errors.New("invalid model file format")

	// ErrUnsupportedOperation is returned when the model configuration cannot
	// serve a request, e.g. paired prediction with hierarchical softmax.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrIO wraps failures of the underlying files or blob stores.
	ErrIO = errors.New("i/o error")

	// ErrTaxonomyFormat is returned for malformed taxonomy files.
	ErrTaxonomyFormat = errors.New("invalid taxonomy format")

	// ErrInvalidK is returned when fewer than one prediction is requested. It
	// matches ErrInvalidArgument.
	ErrInvalidK = fmt.Errorf("%w: k must be positive", ErrInvalidArgument)

	// ErrNotTrained is returned when a model is used before Train or LoadModel.
	ErrNotTrained = errors.New("model is not trained")
)

// ErrInvalidBase reports a byte outside the ACGT alphabet. It matches
// ErrInvalidArgument.
type ErrInvalidBase struct {
	Base  byte
	cause error
}

func (e *ErrInvalidBase) Error() string {
	return fmt.Sprintf("invalid base %q", e.Base)
}

func (e *ErrInvalidBase) Unwrap() []error { return []error{ErrInvalidArgument, e.cause} }

// ErrLabelOutOfRange reports a label id outside [0, NumLabels). It matches
// ErrInvalidArgument.
type ErrLabelOutOfRange struct {
	ID        int
	NumLabels int
	cause     error
}

func (e *ErrLabelOutOfRange) Error() string {
	return fmt.Sprintf("label id %d out of range [0, %d)", e.ID, e.NumLabels)
}

func (e *ErrLabelOutOfRange) Unwrap() []error { return []error{ErrInvalidArgument, e.cause} }

// ErrTaxonomyLine locates a taxonomy parse failure.
type ErrTaxonomyLine struct {
	File  string
	Line  int
	cause error
}

func (e *ErrTaxonomyLine) Error() string {
	return e.cause.Error()
}

func (e *ErrTaxonomyLine) Unwrap() []error { return []error{ErrTaxonomyFormat, e.cause} }

// ErrModelFormat reports a model file with a foreign magic number or a newer
// version.
type ErrModelFormat struct {
	Path    string
	Magic   int32
	Version int32
}

func (e *ErrModelFormat) Error() string {
	return fmt.Sprintf("%s has wrong file format (magic %d, version %d)", e.Path, e.Magic, e.Version)
}

func (e *ErrModelFormat) Unwrap() error { return ErrFileFormat }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var be *kmer.BaseError
	if errors.As(err, &be) {
		return &ErrInvalidBase{Base: be.Base, cause: err}
	}
	var te *tree.TaxonomyError
	if errors.As(err, &te) {
		return &ErrTaxonomyLine{File: te.File, Line: te.Line, cause: err}
	}

	switch {
	case errors.Is(err, model.ErrInvalidK):
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	case errors.Is(err, model.ErrUnsupported),
		errors.Is(err, trainer.ErrNotTrainable):
		return fmt.Errorf("%w: %w", ErrUnsupportedOperation, err)
	case errors.Is(err, kmer.ErrInvalidK),
		errors.Is(err, trainer.ErrInvalidConfig),
		errors.Is(err, trainer.ErrEmptyCorpus),
		errors.Is(err, quantization.ErrInvalidDimension),
		errors.Is(err, quantization.ErrNoData),
		errors.Is(err, codec.ErrUnknownCompression),
		errors.Is(err, dict.ErrMissingLabel):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, persistence.ErrTruncated),
		errors.Is(err, dict.ErrCorrupt),
		errors.Is(err, tree.ErrInvalidTree),
		errors.Is(err, matrix.ErrShape):
		return fmt.Errorf("%w: %w", ErrFileFormat, err)
	}
	return err
}

func labelError(id, n int, err error) error {
	if errors.Is(err, dict.ErrLabelOutOfRange) {
		return &ErrLabelOutOfRange{ID: id, NumLabels: n, cause: err}
	}
	return err
}
