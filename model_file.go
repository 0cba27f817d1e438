package fastdna

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/fastdna/blobstore"
	"github.com/hupe1980/fastdna/codec"
	"github.com/hupe1980/fastdna/internal/dict"
	"github.com/hupe1980/fastdna/internal/matrix"
	"github.com/hupe1980/fastdna/internal/quantization"
	"github.com/hupe1980/fastdna/internal/tree"
	"github.com/hupe1980/fastdna/persistence"
)

const (
	fileMagic   int32 = 793712314
	fileVersion int32 = 12
)

// SaveModel writes the model to the configured store under name.
func (f *FastDNA) SaveModel(ctx context.Context, name string) (err error) {
	defer func() { f.opts.logger.LogSave(ctx, name, err) }()

	if err := f.ready(); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := f.writeModel(pw)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := f.opts.store.Put(gctx, name, pr)
		pr.CloseWithError(err)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
		return nil
	})
	return g.Wait()
}

func (f *FastDNA) writeModel(w io.Writer) error {
	cw, err := codec.NewWriter(w, f.opts.compression)
	if err != nil {
		return translateError(err)
	}
	bw := bufio.NewWriterSize(cw, 1<<20)
	out := persistence.NewWriter(bw)

	out.Int32(fileMagic)
	out.Int32(fileVersion)
	f.args.save(out)
	if err := f.dict.Save(out); err != nil {
		return err
	}

	out.Bool(f.qinput != nil)
	if f.qinput != nil {
		if err := f.qinput.Save(out); err != nil {
			return err
		}
	} else {
		f.input.Save(out)
	}

	out.Bool(f.qoutput != nil)
	if f.qoutput != nil {
		if err := f.qoutput.Save(out); err != nil {
			return err
		}
	} else {
		f.output.Save(out)
	}

	out.Bool(f.taxonomy)
	if f.taxonomy {
		f.tree.Save(out)
	}

	if err := out.Err(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return cw.Close()
}

// LoadModel replaces the current model with the one stored under name.
// Plain, zstd and lz4 containers are recognized.
func (f *FastDNA) LoadModel(ctx context.Context, name string) (err error) {
	defer func() { f.opts.logger.LogLoad(ctx, name, err) }()

	blob, err := f.opts.store.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer blob.Close()

	rc, _, err := codec.NewReader(bufio.NewReaderSize(blobstore.NewReader(blob), 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileFormat, err)
	}
	defer rc.Close()

	loaded, err := readModel(persistence.NewReader(rc), name)
	if err != nil {
		if errors.Is(err, ErrFileFormat) {
			return err
		}
		if te := translateError(err); errors.Is(te, ErrFileFormat) {
			return te
		}
		return fmt.Errorf("%w: %w", ErrFileFormat, err)
	}

	loaded.opts = f.opts
	*f = *loaded
	return nil
}

func readModel(r *persistence.Reader, name string) (*FastDNA, error) {
	magic, version := r.Int32(), r.Int32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if magic != fileMagic || version > fileVersion {
		return nil, &ErrModelFormat{Path: name, Magic: magic, Version: version}
	}

	args, err := loadArgs(r)
	if err != nil {
		return nil, err
	}
	d, err := dict.Load(r, args.K)
	if err != nil {
		return nil, err
	}
	f := &FastDNA{args: args, dict: d}

	if r.Bool() {
		if f.qinput, err = quantization.LoadQMatrix(r); err != nil {
			return nil, err
		}
	} else {
		if d.IsPruned() {
			return nil, fmt.Errorf("%w: pruned dictionary with a dense input matrix", ErrFileFormat)
		}
		if f.input, err = matrix.LoadDense(r); err != nil {
			return nil, err
		}
	}

	if r.Bool() {
		if f.qoutput, err = quantization.LoadQMatrix(r); err != nil {
			return nil, err
		}
	} else {
		if f.output, err = matrix.LoadDense(r); err != nil {
			return nil, err
		}
	}

	if r.Bool() {
		if f.tree, err = tree.Load(r); err != nil {
			return nil, err
		}
		f.taxonomy = true
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if err := f.checkShapes(); err != nil {
		return nil, err
	}

	f.buildTargets(nil, false)
	f.rebuild()
	return f, nil
}

func (f *FastDNA) checkShapes() error {
	var in, out matrix.Matrix = f.input, f.output
	if f.qinput != nil {
		in = f.qinput
	}
	if f.qoutput != nil {
		out = f.qoutput
	}

	outRows := f.dict.NumLabels()
	if f.args.Model != ModelSupervised {
		outRows = f.dict.NumWords()
	}
	switch {
	case in.Rows() != f.dict.NumWords()+f.args.Bucket || in.Cols() != f.args.Dim:
		return fmt.Errorf("%w: input matrix is %dx%d", ErrFileFormat, in.Rows(), in.Cols())
	case out.Rows() != outRows || out.Cols() != f.args.Dim:
		return fmt.Errorf("%w: output matrix is %dx%d", ErrFileFormat, out.Rows(), out.Cols())
	case f.tree != nil && f.tree.NumLeaves() != outRows:
		return fmt.Errorf("%w: tree has %d leaves", ErrFileFormat, f.tree.NumLeaves())
	}
	return nil
}
