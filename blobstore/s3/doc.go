// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("models/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//	fd := fastdna.New(fastdna.WithStore(store))
//
// Reads are ranged GETs, writes go through the multipart upload manager.
package s3
