package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Brownie44l1/transfer-classifier/internal/dataset"
	"github.com/Brownie44l1/transfer-classifier/internal/imageload"
	"github.com/Brownie44l1/transfer-classifier/internal/model"
	"github.com/Brownie44l1/transfer-classifier/internal/store"
)

// DefaultImageSide matches the input of the common mobile feature models.
const DefaultImageSide = 224

// ErrModelNotTrained is matched by the error Inference.Run returns when no
// usable model is stored.
var ErrModelNotTrained = errors.New("model not trained")

// ModelError wraps the store failure behind ErrModelNotTrained.
type ModelError struct {
	Dir string
	Err error
}

func (e *ModelError) Error() string {
	return "model not trained in " + e.Dir + ": " + e.Err.Error()
}

func (e *ModelError) Unwrap() error { return e.Err }

func (e *ModelError) Is(target error) bool { return target == ErrModelNotTrained }

// Inference scores a folder of images with the stored head.
type Inference struct {
	Extractor model.Predictor
	Store     *store.Store
	Logger    *zap.SugaredLogger
	ImageSize imageload.Size
	Workers   int
}

// Run returns one prediction per image in dir, in directory order.
func (in *Inference) Run(ctx context.Context, dir string) (*model.PredictionReport, error) {
	if in.Extractor == nil || in.Store == nil {
		return nil, errors.New("inference pipeline needs an extractor and a store")
	}
	start := time.Now()
	logger := in.logger()

	size := in.ImageSize
	if size == (imageload.Size{}) {
		size = imageload.Square(DefaultImageSide)
	}
	builder := &dataset.Builder{Size: size, Workers: in.Workers, Logger: logger}
	ds, err := builder.BuildUnlabeled(ctx, dir)
	if err != nil {
		return nil, err
	}

	head, classes, err := in.Store.Load()
	if err != nil {
		return nil, &ModelError{Dir: in.Store.Dir, Err: err}
	}

	features, err := in.Extractor.Predict(ctx, ds.Inputs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to extract features")
	}
	probs, err := head.Predict(ctx, features)
	if err != nil {
		return nil, err
	}

	report := &model.PredictionReport{
		Classes: classes,
		Images:  make([]model.ImagePrediction, 0, len(ds.Names)),
	}
	for i, name := range ds.Names {
		confidence := append([]float32(nil), probs.Row(i)...)
		report.Images = append(report.Images, model.NewImagePrediction(name, confidence, classes))
	}
	report.ExecTimeMS = float64(time.Since(start).Microseconds()) / 1000
	logger.Infow("inference done", "dir", dir, "images", len(report.Images), "ms", report.ExecTimeMS)
	return report, nil
}

func (in *Inference) logger() *zap.SugaredLogger {
	if in.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return in.Logger
}
