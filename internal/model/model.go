package model

import (
	"context"

	"github.com/Brownie44l1/transfer-classifier/internal/tensor"
)

// Predictor maps a batch tensor to an output batch tensor. The feature
// extractor and the classifier head both satisfy it.
type Predictor interface {
	Predict(ctx context.Context, batch tensor.Tensor) (tensor.Tensor, error)
}
