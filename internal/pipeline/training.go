// Package pipeline wires the dataset builder, feature extractor, classifier
// head and model store into training and inference runs.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Brownie44l1/transfer-classifier/internal/dataset"
	"github.com/Brownie44l1/transfer-classifier/internal/imageload"
	"github.com/Brownie44l1/transfer-classifier/internal/model"
	"github.com/Brownie44l1/transfer-classifier/internal/progress"
	"github.com/Brownie44l1/transfer-classifier/internal/store"
)

// Options are the knobs of a training run. Zero values take defaults.
type Options struct {
	ImageSize    imageload.Size
	Hidden       int
	Epochs       int
	BatchSize    int
	LearningRate float64
	// Seed drives the shuffle and the weight initialization. Zero picks a
	// time based seed.
	Seed    int64
	Workers int
}

type TrainResult struct {
	RunID        string
	Classes      []string
	Examples     int
	FeatureShape []int
	History      model.History
}

// Training runs LoadingImages → ExtractingFeatures → Training → Saving →
// Done, moving to Failed on the first error. A Training value may be reused
// for sequential runs but not concurrent ones.
type Training struct {
	Extractor model.Predictor
	Store     *store.Store
	Notifier  *progress.Notifier
	Logger    *zap.SugaredLogger
	Options   Options

	state atomic.Int32
	stop  atomic.Bool
}

func (t *Training) State() State { return State(t.state.Load()) }

// StopTraining ends the running fit after its current epoch. The model
// trained so far is still saved.
func (t *Training) StopTraining() { t.stop.Store(true) }

// Run trains a head on the labeled folder dataDir and saves it.
func (t *Training) Run(ctx context.Context, dataDir string) (*TrainResult, error) {
	if t.Extractor == nil || t.Store == nil {
		return nil, errors.New("training pipeline needs an extractor and a store")
	}
	runID := uuid.NewString()
	logger := t.logger().With("run", runID)
	t.stop.Store(false)
	seed := t.Options.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	t.enter(logger, StateLoadingImages, "loading images")
	builder := &dataset.Builder{
		Size:    t.imageSize(),
		Workers: t.Options.Workers,
		Rand:    rand.New(rand.NewSource(seed)),
		Logger:  logger,
	}
	ds, err := builder.BuildLabeled(ctx, dataDir)
	if err != nil {
		return nil, t.fail(logger, err)
	}
	logger.Infow("classes", "classes", ds.Classes, "examples", len(ds.Labels))

	t.enter(logger, StateExtractingFeatures, "creating features")
	features, err := t.Extractor.Predict(ctx, ds.Inputs)
	if err != nil {
		return nil, t.fail(logger, err)
	}
	if features.Rank() != 2 || features.Len() != len(ds.Labels) {
		return nil, t.fail(logger, errors.Wrapf(model.ErrShapeMismatch,
			"extractor returned %v for %d images", features.Shape(), len(ds.Labels)))
	}
	ds.Inputs = features
	t.Notifier.Log(fmt.Sprintf("Features stack %v", features.Shape()))
	logger.Infow("features stack", "shape", features.Shape())

	t.enter(logger, StateTraining, "training")
	head, err := model.NewClassifier(model.Architecture{
		Inputs:  features.Dim(1),
		Hidden:  t.Options.Hidden,
		Outputs: len(ds.Classes),
	}, seed)
	if err != nil {
		return nil, t.fail(logger, err)
	}
	head.SetLogger(logger)
	head.Compile(model.Adam{LearningRate: t.Options.LearningRate})
	history, err := head.Fit(ctx, features, ds.Labels, model.FitOptions{
		Epochs:    t.Options.Epochs,
		BatchSize: t.Options.BatchSize,
		Stop:      t.stop.Load,
		OnEpochEnd: func(logs model.EpochLogs) error {
			logger.Infow("epoch", "epoch", logs.Epoch, "acc", logs.Accuracy, "loss", logs.Loss)
			t.Notifier.UpdateProgress(logs.Epoch)
			return nil
		},
	})
	if err != nil {
		return nil, t.fail(logger, err)
	}
	t.Notifier.Log("learned")

	t.enter(logger, StateSaving, "saving model")
	if err := t.Store.Save(head, ds.Classes); err != nil {
		return nil, t.fail(logger, err)
	}
	t.enter(logger, StateDone, "model saved")

	return &TrainResult{
		RunID:        runID,
		Classes:      ds.Classes,
		Examples:     len(ds.Labels),
		FeatureShape: features.Shape(),
		History:      history,
	}, nil
}

func (t *Training) enter(logger *zap.SugaredLogger, s State, msg string) {
	t.state.Store(int32(s))
	logger.Infow(msg, "state", s.String())
	t.Notifier.Log(msg)
}

func (t *Training) fail(logger *zap.SugaredLogger, err error) error {
	failed := t.State()
	t.state.Store(int32(StateFailed))
	logger.Errorw("training failed", "state", failed.String(), "error", err)
	t.Notifier.Log("failed: " + err.Error())
	return &StageError{State: failed, Err: err}
}

func (t *Training) imageSize() imageload.Size {
	if t.Options.ImageSize == (imageload.Size{}) {
		return imageload.Square(DefaultImageSide)
	}
	return t.Options.ImageSize
}

func (t *Training) logger() *zap.SugaredLogger {
	if t.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return t.Logger
}
