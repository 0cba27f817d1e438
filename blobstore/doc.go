// Package blobstore abstracts where model files live.
//
// A model is written once as a single immutable blob and read back either
// sequentially (loading) or at random offsets (training corpora).
//
// # Built-in Implementations
//
//   - LocalStore: local file system, mmap reads and atomic rename writes
//   - MemoryStore: process memory
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
