package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/fastdna"
	"github.com/hupe1980/fastdna/codec"
	"github.com/hupe1980/fastdna/metrics/prometheus"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

const envPrefix = "FASTDNA"

type cliContextKey struct{}

// cliContext carries the initialized dependencies through the command tree.
type cliContext struct {
	v       *viper.Viper
	logger  *fastdna.Logger
	opts    []fastdna.Option
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	closers []func(context.Context) error
}

func getCLIContext(cmd *cobra.Command) *cliContext {
	if cc, ok := cmd.Context().Value(cliContextKey{}).(*cliContext); ok {
		return cc
	}
	return nil
}

// newModel returns an empty FastDNA with the global options applied.
func (cc *cliContext) newModel(extra ...fastdna.Option) *fastdna.FastDNA {
	return fastdna.New(append(append([]fastdna.Option{}, cc.opts...), extra...)...)
}

// loadModel loads name through the configured store.
func (cc *cliContext) loadModel(ctx context.Context, name string) (*fastdna.FastDNA, error) {
	f := cc.newModel()
	if err := f.LoadModel(ctx, name); err != nil {
		return nil, err
	}
	return f, nil
}

func (cc *cliContext) close(ctx context.Context) {
	for i := len(cc.closers) - 1; i >= 0; i-- {
		if err := cc.closers[i](ctx); err != nil {
			cc.logger.WarnContext(ctx, "shutdown failed", "error", err)
		}
	}
	cc.closers = nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	return v
}

// newRootCommand builds the command tree. Streams are injected so tests can
// capture output.
func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fastdna",
		Short: "Canonical k-mer embeddings for DNA sequence classification",
		Long: `fastdna trains and applies k-mer embedding classifiers on FASTA reads.

Every flag can also be set in a YAML config file (--config) or through
FASTDNA_<FLAG> environment variables. Flags take precedence.`,
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return persistentPreRun(cmd, stdin, stdout, stderr)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc := getCLIContext(cmd); cc != nil {
				cc.close(cmd.Context())
			}
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "", "YAML config file")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.String("store", "", "model store: a local directory, s3://bucket/prefix or minio://endpoint/bucket/prefix")
	pf.String("compression", "none", "model container compression (none, zstd, lz4)")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	cmd.AddCommand(
		newTrainCommand(),
		newTestCommand(),
		newPredictCommand("predict", false),
		newPredictCommand("predict-prob", true),
		newQuantizeCommand(),
		newPrintVectorsCommand(),
		newDumpCommand(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, stdin io.Reader, stdout, stderr io.Writer) error {
	v := newViper()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	logger, err := newLogger(v.GetString("log-level"), v.GetString("log-format"), stderr)
	if err != nil {
		return err
	}
	cc := &cliContext{
		v:      v,
		logger: logger,
		opts:   []fastdna.Option{fastdna.WithLogger(logger)},
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	cc.opts = append(cc.opts, fastdna.WithStore(store))

	comp, err := codec.ParseCompression(v.GetString("compression"))
	if err != nil {
		return err
	}
	cc.opts = append(cc.opts, fastdna.WithCompression(comp))

	if addr := v.GetString("metrics-addr"); addr != "" {
		mc, err := serveMetrics(ctx, cc, addr)
		if err != nil {
			return err
		}
		cc.opts = append(cc.opts, fastdna.WithMetricsCollector(mc))
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))
	return nil
}

func newLogger(level, format string, w io.Writer) (*fastdna.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return fastdna.NewLogger(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return fastdna.NewLogger(slog.NewJSONHandler(w, hopts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

func serveMetrics(ctx context.Context, cc *cliContext, addr string) (*prometheus.Collector, error) {
	mc, err := prometheus.NewCollector(prometheus.Config{
		Namespace:            "fastdna",
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	})
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", mc.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cc.logger.ErrorContext(ctx, "metrics server failed", "error", err)
		}
	}()
	cc.logger.InfoContext(ctx, "serving metrics", "addr", ln.Addr().String())

	cc.closers = append(cc.closers, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return mc, nil
}

// parseK reads the optional [k] [threshold] positional arguments.
func parseK(args []string) (int, float32, error) {
	k, th := 1, float32(0)
	if len(args) > 0 {
		if _, err := fmt.Sscan(args[0], &k); err != nil {
			return 0, 0, fmt.Errorf("%w: k %q", fastdna.ErrInvalidArgument, args[0])
		}
	}
	if len(args) > 1 {
		if _, err := fmt.Sscan(args[1], &th); err != nil {
			return 0, 0, fmt.Errorf("%w: threshold %q", fastdna.ErrInvalidArgument, args[1])
		}
	}
	return k, th, nil
}

// openInput opens path, or stdin for "-".
func (cc *cliContext) openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cc.stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fastdna.ErrIO, err)
	}
	return f, nil
}
