// Package dataset turns folders of images into batched tensors.
//
// Labeled folders follow root/<class>/<image>; unlabeled folders hold images
// directly under root. Accepted extensions are png, jpeg, jpg and bmp in any
// letter case.
package dataset

import (
	"context"
	"math/rand"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/transfer-classifier/internal/imageload"
	"github.com/Brownie44l1/transfer-classifier/internal/tensor"
)

// Labeled is a shuffled training set. Inputs row i belongs to Labels[i] and
// Paths[i]; Labels index into Classes.
type Labeled struct {
	Inputs  tensor.Tensor
	Labels  []int
	Classes []string
	Paths   []string
}

// Unlabeled is an inference set in directory order.
type Unlabeled struct {
	Inputs tensor.Tensor
	Names  []string
	Paths  []string
}

// Builder owns everything accumulated during one build. It is not safe for
// concurrent use because Rand is not.
type Builder struct {
	Size    imageload.Size
	Workers int
	Rand    *rand.Rand
	Logger  *zap.SugaredLogger
}

// BuildLabeled loads root/<class>/<image>, assigns class indices in
// first-seen order and shuffles inputs and labels with one permutation.
func (b *Builder) BuildLabeled(ctx context.Context, root string) (*Labeled, error) {
	logger := b.logger()
	logger.Infow("identifying image list", "root", root)
	found, err := discoverLabeled(root)
	if err != nil {
		return nil, err
	}
	if len(found.paths) == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "%s", root)
	}
	logger.Infow("files found", "count", len(found.paths), "classes", found.classes)

	samples, err := b.loadAll(ctx, found.paths)
	if err != nil {
		return nil, err
	}

	perm := Permutation(len(samples), b.rng())
	samples = Reorder(samples, perm)
	labels := Reorder(found.labels, perm)
	paths := Reorder(found.paths, perm)

	inputs, err := stack(samples)
	if err != nil {
		return nil, err
	}
	logger.Debugw("images converted to tensors", "x", inputs.Shape(), "y", len(labels))
	return &Labeled{
		Inputs:  inputs,
		Labels:  labels,
		Classes: found.classes,
		Paths:   paths,
	}, nil
}

// BuildUnlabeled loads root/<image> in lexical order. Names are base names.
func (b *Builder) BuildUnlabeled(ctx context.Context, root string) (*Unlabeled, error) {
	logger := b.logger()
	logger.Infow("identifying image list", "root", root)
	paths, err := discoverImages(root)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "%s", root)
	}
	logger.Infow("files found", "count", len(paths))

	samples, err := b.loadAll(ctx, paths)
	if err != nil {
		return nil, err
	}
	inputs, err := stack(samples)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return &Unlabeled{Inputs: inputs, Names: names, Paths: paths}, nil
}

// loadAll decodes paths concurrently. Every worker writes only its own slot,
// so out[i] always belongs to paths[i].
func (b *Builder) loadAll(ctx context.Context, paths []string) ([]tensor.Tensor, error) {
	if err := b.Size.Validate(); err != nil {
		return nil, err
	}
	out := make([]tensor.Tensor, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers())
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := imageload.Load(path, b.Size)
			if err != nil {
				if errors.Is(err, imageload.ErrDecode) {
					return err
				}
				return &AccessError{Path: path, Err: err}
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// stack batches samples and drops the per-file tensors.
func stack(samples []tensor.Tensor) (tensor.Tensor, error) {
	x, err := tensor.Stack(samples)
	clear(samples)
	if err != nil {
		return tensor.Tensor{}, errors.Wrap(err, "failed to stack images")
	}
	return x, nil
}

func (b *Builder) workers() int {
	if b.Workers > 0 {
		return b.Workers
	}
	return runtime.NumCPU()
}

func (b *Builder) rng() *rand.Rand {
	if b.Rand == nil {
		b.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return b.Rand
}

func (b *Builder) logger() *zap.SugaredLogger {
	if b.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return b.Logger
}
