package fastdna

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fastdna/internal/dict"
	"github.com/hupe1980/fastdna/internal/kmer"
	"github.com/hupe1980/fastdna/internal/model"
	"github.com/hupe1980/fastdna/internal/tree"
	"github.com/hupe1980/fastdna/persistence"
)

func TestTranslateError(t *testing.T) {
	assert.Nil(t, translateError(nil))

	cases := []struct {
		in   error
		want error
	}{
		{model.ErrInvalidK, ErrInvalidK},
		{model.ErrInvalidK, ErrInvalidArgument},
		{fmt.Errorf("wrapped: %w", model.ErrUnsupported), ErrUnsupportedOperation},
		{kmer.ErrInvalidK, ErrInvalidArgument},
		{dict.ErrMissingLabel, ErrInvalidArgument},
		{persistence.ErrTruncated, ErrFileFormat},
		{tree.ErrInvalidTree, ErrFileFormat},
		{&kmer.BaseError{Base: 'N'}, kmer.ErrInvalidBase},
		{&tree.TaxonomyError{File: "t", Line: 3, Reason: "bad"}, ErrTaxonomyFormat},
	}
	for _, tc := range cases {
		require.ErrorIs(t, translateError(tc.in), tc.want, tc.in.Error())
	}

	other := errors.New("other")
	assert.Equal(t, other, translateError(other))
}

func TestTypedErrors(t *testing.T) {
	var be *ErrInvalidBase
	require.ErrorAs(t, translateError(&kmer.BaseError{Base: 'X', Pos: 2}), &be)
	assert.Equal(t, byte('X'), be.Base)

	var tl *ErrTaxonomyLine
	require.ErrorAs(t, translateError(&tree.TaxonomyError{File: "tax", Line: 7, Reason: "bad"}), &tl)
	assert.Equal(t, 7, tl.Line)

	var lr *ErrLabelOutOfRange
	require.ErrorAs(t, labelError(5, 2, dict.ErrLabelOutOfRange), &lr)
	assert.Equal(t, 5, lr.ID)
	assert.Equal(t, 2, lr.NumLabels)

	mf := &ErrModelFormat{Path: "m.bin", Magic: 1, Version: 12}
	require.ErrorIs(t, mf, ErrFileFormat)
	assert.Contains(t, mf.Error(), "m.bin")
}
