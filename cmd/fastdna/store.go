package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/hupe1980/fastdna"
	"github.com/hupe1980/fastdna/blobstore"
	"github.com/hupe1980/fastdna/blobstore/minio"
	"github.com/hupe1980/fastdna/blobstore/s3"
)

// openStore resolves the --store location.
//
//	""                               working directory
//	/models                          local directory
//	s3://bucket/prefix               AWS S3, credentials from the default chain
//	minio://endpoint/bucket/prefix   MinIO with static credentials
//
// S3 honours s3.region and s3.endpoint; MinIO reads minio.access-key,
// minio.secret-key and minio.secure. All can come from the config file or
// FASTDNA_S3_REGION style environment variables.
func openStore(ctx context.Context, v *viper.Viper) (blobstore.BlobStore, error) {
	loc := v.GetString("store")
	scheme, rest, ok := strings.Cut(loc, "://")
	if !ok {
		return blobstore.NewLocalStore(loc), nil
	}

	switch scheme {
	case "file":
		return blobstore.NewLocalStore(rest), nil
	case "s3":
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("%w: store %q has no bucket", fastdna.ErrInvalidArgument, loc)
		}
		return s3.New(ctx, bucket,
			s3.WithPrefix(prefix),
			s3.WithRegion(v.GetString("s3.region")),
			s3.WithEndpoint(v.GetString("s3.endpoint")),
		)
	case "minio":
		parts := strings.SplitN(rest, "/", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("%w: store %q needs endpoint and bucket", fastdna.ErrInvalidArgument, loc)
		}
		var prefix string
		if len(parts) == 3 {
			prefix = parts[2]
		}
		return minio.Dial(parts[0],
			v.GetString("minio.access-key"),
			v.GetString("minio.secret-key"),
			parts[1], prefix,
			v.GetBool("minio.secure"),
		)
	}
	return nil, fmt.Errorf("%w: unknown store scheme %q", fastdna.ErrInvalidArgument, scheme)
}
