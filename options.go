package fastdna

import (
	"log/slog"

	"github.com/hupe1980/fastdna/blobstore"
	"github.com/hupe1980/fastdna/codec"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	store            blobstore.BlobStore
	compression      codec.Compression
	progress         func(Progress)
}

// Option configures a FastDNA instance.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := fastdna.NewJSONLogger(slog.LevelInfo)
//	fd := fastdna.New(fastdna.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithStore sets the blob store that SaveModel and LoadModel use.
// The default is a LocalStore rooted at the working directory.
//
//	store, _ := s3.New(ctx, "models", s3.WithPrefix("fastdna/"))
//	fd := fastdna.New(fastdna.WithStore(store))
func WithStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCompression sets the container compression of saved models. Loading
// detects the container automatically.
func WithCompression(c codec.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithProgress registers a callback for training progress snapshots. It is
// called from the monitor goroutine and must not block.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

func applyOptions(opts []Option) options {
	o := options{
		compression: codec.None,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.store == nil {
		o.store = blobstore.NewLocalStore("")
	}
	return o
}
