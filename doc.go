// Package fastdna trains and serves k-mer embedding classifiers for DNA
// fragments.
//
// Every k-mer of a read is mapped, together with its reverse complement, to a
// canonical index. A record is represented by the average embedding of its
// windows, and a linear output layer with softmax, hierarchical softmax or
// negative sampling predicts its label. Training runs lock-free SGD on
// several goroutines that share the parameters.
//
// # Quick Start
//
//	ctx := context.Background()
//	args := fastdna.DefaultArgs()
//	args.Input, args.Labels = "train.fasta", "train.labels"
//
//	fd := fastdna.New(fastdna.WithLogLevel(slog.LevelInfo))
//	if err := fd.Train(ctx, args); err != nil {
//	    log.Fatal(err)
//	}
//	preds, _ := fd.Predict(ctx, reads, 3, 0)
//
// # Quantization
//
// Quantize replaces the input matrix, and optionally the output matrix, by a
// product-quantized version with 256 centroids per sub-vector. A cutoff keeps
// only the rows with the largest norm:
//
//	q := fastdna.DefaultQuantizeArgs()
//	q.Cutoff, q.QOut = 100000, true
//	err := fd.Quantize(ctx, q)
//
// # Storage
//
// SaveModel and LoadModel go through a blobstore.BlobStore, local files by
// default. Models may be wrapped in a zstd or lz4 container:
//
//	store, _ := s3.New(ctx, "models")
//	fd := fastdna.New(fastdna.WithStore(store), fastdna.WithCompression(codec.Zstd))
//	err := fd.SaveModel(ctx, "virus.bin")
//
// # Errors
//
// All errors returned by this package match one of the sentinel errors with
// errors.Is, e.g. ErrInvalidArgument, ErrFileFormat or
// ErrUnsupportedOperation. Some carry details in a typed error such as
// *ErrModelFormat.
package fastdna
