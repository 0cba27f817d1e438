// Package kmeans implements k-means clustering for quantization training.
//
// Points are stored row-major in a single []float32. Train seeds the
// centroids with k-means++ and runs Lloyd iterations until no assignment
// changes; the assignment step is split across GOMAXPROCS goroutines.
//
// Used by the product quantizer to learn one 256-entry codebook per
// sub-vector.
package kmeans
