// Package trainer runs lock-free multi-worker SGD over a FASTA corpus.
//
// Workers share the model parameters without synchronization. The only
// shared mutable state besides the matrices is the progress counter and the
// cached loss, both atomics.
package trainer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/fastdna/internal/dict"
	"github.com/hupe1980/fastdna/internal/model"
	"github.com/hupe1980/fastdna/internal/scanner"
)

var (
	// ErrNotTrainable is returned when the parameter store is quantized.
	ErrNotTrainable = errors.New("trainer: parameters are not trainable")

	// ErrEmptyCorpus is returned when no record can yield a training example.
	ErrEmptyCorpus = errors.New("trainer: corpus has no usable sequence")

	// ErrInvalidConfig is returned for inconsistent settings.
	ErrInvalidConfig = errors.New("trainer: invalid configuration")
)

// Source is one read handle on the corpus.
type Source interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// OpenFunc opens a fresh corpus handle. Each worker calls it once.
type OpenFunc func(ctx context.Context) (Source, error)

// Config holds the schedule of a training run.
type Config struct {
	Threads      int
	Epoch        int
	LR           float64
	LRUpdateRate int
	Length       int // bases per supervised fragment
	K            int
	Noise        float64
	WindowSize   int // context window of unsupervised models
	Seed         uint64
	Model        model.Config
}

// Progress is a snapshot reported by the monitor.
type Progress struct {
	Fraction float64
	Examples int64
	Loss     float32
	LR       float64
	Elapsed  time.Duration
}

// ProgressFunc receives monitor snapshots. It must not block.
type ProgressFunc func(Progress)

// Result summarizes a finished run.
type Result struct {
	Examples int64
	Loss     float32
	Duration time.Duration
}

// Trainer drives one training run.
type Trainer struct {
	cfg      Config
	dict     *dict.Dictionary
	params   *model.Params
	open     OpenFunc
	logger   *slog.Logger
	progress ProgressFunc
	interval time.Duration

	target     int64
	tokenCount atomic.Int64
	loss       atomic.Uint32
	start      time.Time
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger for progress records.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithProgress registers a monitor callback.
func WithProgress(fn ProgressFunc) Option {
	return func(t *Trainer) { t.progress = fn }
}

// WithMonitorInterval sets the monitor polling interval.
func WithMonitorInterval(d time.Duration) Option {
	return func(t *Trainer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// New validates cfg and returns a Trainer.
func New(cfg Config, d *dict.Dictionary, params *model.Params, open OpenFunc, opts ...Option) (*Trainer, error) {
	switch {
	case cfg.Threads <= 0:
		return nil, fmt.Errorf("%w: threads=%d", ErrInvalidConfig, cfg.Threads)
	case cfg.Epoch <= 0:
		return nil, fmt.Errorf("%w: epoch=%d", ErrInvalidConfig, cfg.Epoch)
	case cfg.Length < cfg.K || cfg.K <= 0:
		return nil, fmt.Errorf("%w: length=%d k=%d", ErrInvalidConfig, cfg.Length, cfg.K)
	case cfg.Model.Kind != model.Supervised && cfg.WindowSize <= 0:
		return nil, fmt.Errorf("%w: window size=%d", ErrInvalidConfig, cfg.WindowSize)
	}

	probe := model.New(cfg.Model, params, 0)
	if !probe.Trainable() {
		return nil, ErrNotTrainable
	}

	usable := false
	for _, e := range d.Entries() {
		if e.Count >= int64(cfg.K) {
			usable = true
			break
		}
	}
	if !usable {
		return nil, ErrEmptyCorpus
	}

	t := &Trainer{
		cfg:      cfg,
		dict:     d,
		params:   params,
		open:     open,
		logger:   slog.New(slog.DiscardHandler),
		interval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Run trains until the global example counter reaches
// epoch * corpusSize / length, or ctx is cancelled.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	src, err := t.open(ctx)
	if err != nil {
		return Result{}, err
	}
	size := src.Size()
	_ = src.Close()

	t.target = max(int64(t.cfg.Epoch)*(size/int64(t.cfg.Length)), 1)
	t.start = time.Now()

	t.logger.InfoContext(ctx, "training started",
		"threads", t.cfg.Threads,
		"examples", t.target,
		"loss", t.cfg.Model.Loss.String(),
		"model", t.cfg.Model.Kind.String(),
	)

	done := make(chan struct{})
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		t.monitor(ctx, done)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < t.cfg.Threads; id++ {
		g.Go(func() error {
			return t.worker(gctx, id)
		})
	}
	err = g.Wait()
	close(done)
	<-monitorDone

	res := Result{
		Examples: t.tokenCount.Load(),
		Loss:     t.Loss(),
		Duration: time.Since(t.start),
	}
	if err != nil {
		return res, err
	}

	t.report(Progress{Fraction: 1, Examples: res.Examples, Loss: res.Loss, Elapsed: res.Duration})
	t.logger.InfoContext(ctx, "training finished",
		"examples", res.Examples,
		"loss", res.Loss,
		"duration", res.Duration,
	)
	return res, nil
}

// Loss returns the loss last published by worker 0.
func (t *Trainer) Loss() float32 {
	return math.Float32frombits(t.loss.Load())
}

// Fraction returns the completed share of the schedule.
func (t *Trainer) Fraction() float64 {
	if t.target == 0 {
		return 0
	}
	return min(float64(t.tokenCount.Load())/float64(t.target), 1)
}

func (t *Trainer) lr() float64 {
	return t.cfg.LR * (1 - float64(t.tokenCount.Load())/float64(t.target))
}

func (t *Trainer) report(p Progress) {
	if t.progress != nil {
		t.progress(p)
	}
}

func (t *Trainer) monitor(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p := Progress{
				Fraction: t.Fraction(),
				Examples: t.tokenCount.Load(),
				Loss:     t.Loss(),
				LR:       max(t.lr(), 0),
				Elapsed:  time.Since(t.start),
			}
			t.report(p)
			if limiter.Allow() {
				t.logger.DebugContext(ctx, "training progress",
					"progress", p.Fraction,
					"examples", p.Examples,
					"loss", p.Loss,
					"lr", p.LR,
				)
			}
		}
	}
}

func (t *Trainer) worker(ctx context.Context, id int) error {
	src, err := t.open(ctx)
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	defer src.Close()

	m := model.New(t.cfg.Model, t.params, t.cfg.Seed+uint64(id))
	sc, err := scanner.New(t.cfg.K)
	if err != nil {
		return err
	}

	w := &worker{
		id:    id,
		t:     t,
		m:     m,
		sc:    sc,
		src:   src,
		size:  src.Size(),
		br:    bufio.NewReaderSize(nil, 4096),
		local: 0,
	}
	if t.cfg.Model.Kind == model.Supervised {
		sc.WithNoise(t.cfg.Noise, m.Rand())
	} else {
		w.offset = int64(id) * w.size / int64(t.cfg.Threads)
		w.br.Reset(io.NewSectionReader(src, w.offset, w.size-w.offset))
	}
	return w.run(ctx)
}

type worker struct {
	id      int
	t       *Trainer
	m       *model.Model
	sc      *scanner.Scanner
	src     Source
	size    int64
	br      *bufio.Reader
	offset  int64
	local   int64
	windows []uint64
}

func (w *worker) run(ctx context.Context) error {
	t := w.t
	for t.tokenCount.Load() < t.target {
		if err := ctx.Err(); err != nil {
			return err
		}
		lr := float32(t.lr())

		var err error
		if t.cfg.Model.Kind == model.Supervised {
			err = w.supervised(lr)
		} else {
			err = w.unsupervised(lr)
		}
		if err != nil {
			return fmt.Errorf("worker %d: %w", w.id, err)
		}

		if w.local > int64(t.cfg.LRUpdateRate) {
			t.tokenCount.Add(w.local)
			w.local = 0
			if w.id == 0 {
				t.loss.Store(math.Float32bits(w.m.Loss()))
			}
		}
	}
	if w.id == 0 {
		t.loss.Store(math.Float32bits(w.m.Loss()))
	}
	return nil
}

func (w *worker) supervised(lr float32) error {
	pos := w.m.Rand().Int64N(w.size)
	label := w.t.dict.LabelFromPos(pos)
	if label < 0 {
		return nil
	}
	w.br.Reset(io.NewSectionReader(w.src, pos, w.size-pos))
	windows, ok, err := w.sc.Scan(w.br, w.t.cfg.Length, w.windows)
	w.windows = windows
	if err != nil {
		return err
	}
	if ok {
		w.local++
		w.m.Update(windows, label, lr)
	}
	return nil
}

func (w *worker) unsupervised(lr float32) error {
	if _, err := scanner.ReadHeader(w.br); err != nil {
		if errors.Is(err, io.EOF) {
			w.rewind()
			return nil
		}
		return err
	}
	windows, ok, err := w.sc.Scan(w.br, w.t.cfg.Length, w.windows)
	w.windows = windows
	if err != nil {
		return err
	}
	if !ok {
		if _, perr := w.br.Peek(1); errors.Is(perr, io.EOF) {
			w.rewind()
		}
		return nil
	}
	w.local++
	if w.t.cfg.Model.Kind == model.CBOW {
		w.cbow(lr, windows)
	} else {
		w.skipgram(lr, windows)
	}
	return nil
}

func (w *worker) rewind() {
	w.br.Reset(io.NewSectionReader(w.src, 0, w.size))
}

func (w *worker) cbow(lr float32, line []uint64) {
	bow := make([]uint64, 0, 2*w.t.cfg.WindowSize)
	for i := range line {
		b := w.m.Rand().IntN(w.t.cfg.WindowSize) + 1
		bow = bow[:0]
		for c := -b; c <= b; c++ {
			if c != 0 && i+c >= 0 && i+c < len(line) {
				bow = append(bow, line[i+c])
			}
		}
		w.m.Update(bow, int32(line[i]), lr)
	}
}

func (w *worker) skipgram(lr float32, line []uint64) {
	for i := range line {
		b := w.m.Rand().IntN(w.t.cfg.WindowSize) + 1
		for c := -b; c <= b; c++ {
			if c != 0 && i+c >= 0 && i+c < len(line) {
				w.m.Update(line[i:i+1], int32(line[i+c]), lr)
			}
		}
	}
}
