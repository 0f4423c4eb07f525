// Package features wraps the frozen models that turn image batches into
// feature vectors for the classifier head.
package features

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Brownie44l1/transfer-classifier/internal/tensor"
)

const (
	KindONNX = "onnx"
	KindGrid = "grid"
)

// Extractor is a loaded feature model. Predict takes [N, H, W, 3] images and
// returns [N, Dim()] features.
type Extractor interface {
	Predict(ctx context.Context, images tensor.Tensor) (tensor.Tensor, error)
	Dim() int
	Close() error
}

type Config struct {
	Kind      string     `yaml:"kind"`
	ONNX      ONNXConfig `yaml:"onnx"`
	GridCells int        `yaml:"grid_cells"`
}

// Open loads the extractor selected by cfg.Kind.
func Open(cfg Config, logger *zap.SugaredLogger) (Extractor, error) {
	switch cfg.Kind {
	case KindONNX:
		ext, err := OpenONNX(cfg.ONNX, logger)
		if err != nil {
			return nil, err
		}
		return ext, nil
	case KindGrid, "":
		return NewGrid(cfg.GridCells), nil
	default:
		return nil, errors.Errorf("unknown feature extractor %q", cfg.Kind)
	}
}
