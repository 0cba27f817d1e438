// Package quantization compresses parameter matrices with product
// quantization.
//
// A ProductQuantizer splits every row into sub-vectors of width dsub and
// replaces each by the index of its nearest centroid in a 256-entry codebook,
// so a row of dim floats shrinks to ceil(dim/dsub) bytes. Codebooks are
// learned with k-means on a sample of at most 256*256 rows.
//
// QMatrix wraps the codes of a whole matrix. It can optionally
// quantize the row norms with a one-dimensional quantizer of its own (qnorm)
// and store only a subset of rows, given as a roaring bitmap; the rows left
// out read as zero.
//
//	q, err := quantization.Quantize(ctx, dense, 2, true, kept, seed)
//	score := q.DotRow(hidden, row)
package quantization
