package fastdna

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with fastdna-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithThread adds a worker id field to the logger.
func (l *Logger) WithThread(id int) *Logger {
	return &Logger{
		Logger: l.Logger.With("thread", id),
	}
}

// WithK adds a k field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("k", k),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogTrainStart logs the dictionary built for a training run.
func (l *Logger) LogTrainStart(ctx context.Context, args *Args, sequences, labels int) {
	l.InfoContext(ctx, "training prepared",
		"sequences", sequences,
		"labels", labels,
		"k", args.K,
		"dimension", args.Dim,
		"loss", args.Loss.String(),
		"model", args.Model.String(),
		"threads", args.Thread,
	)
}

// LogTrainProgress logs a progress snapshot.
func (l *Logger) LogTrainProgress(ctx context.Context, progress float64, loss float32, lr float64) {
	l.DebugContext(ctx, "training progress",
		"progress", progress,
		"loss", loss,
		"lr", lr,
	)
}

// LogTrainDone logs the end of a training run.
func (l *Logger) LogTrainDone(ctx context.Context, examples int64, loss float32, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "training failed",
			"examples", examples,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "training completed",
			"examples", examples,
			"loss", loss,
			"duration", duration,
		)
	}
}

// LogPredict logs a batch prediction.
func (l *Logger) LogPredict(ctx context.Context, k, sequences int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "prediction failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "prediction completed",
			"k", k,
			"sequences", sequences,
		)
	}
}

// LogQuantize logs a quantization.
func (l *Logger) LogQuantize(ctx context.Context, kept int, qout bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "quantization failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "quantization completed",
			"kept_rows", kept,
			"qout", qout,
		)
	}
}

// LogSave logs a model save.
func (l *Logger) LogSave(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "model save failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "model saved",
			"name", name,
		)
	}
}

// LogLoad logs a model load.
func (l *Logger) LogLoad(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "model load failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "model loaded",
			"name", name,
		)
	}
}
