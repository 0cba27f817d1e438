// Package testutil provides testing utilities for fastdna.
//
// This package is intended for use in tests and benchmarks only.
// It generates reproducible DNA and labelled FASTA corpora.
//
//	rng := testutil.NewRNG(seed)
//	fasta, labels := rng.Corpus(20, 200, testutil.TwoClasses)
//	fastaPath, labelsPath := testutil.WriteCorpus(t, fasta, labels)
package testutil
