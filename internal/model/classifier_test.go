package model

import (
	"context"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Brownie44l1/transfer-classifier/internal/tensor"
)

// blobs returns n rows of width dim where class k is centered on axis k.
func blobs(t *testing.T, n, dim, classes int, seed int64) (tensor.Tensor, []int) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]float32, n*dim)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		label := i % classes
		labels[i] = label
		for j := 0; j < dim; j++ {
			data[i*dim+j] = float32(rng.NormFloat64() * 0.1)
		}
		data[i*dim+label] += 1
	}
	x, err := tensor.New([]int{n, dim}, data)
	require.NoError(t, err)
	return x, labels
}

func newCompiled(t *testing.T, arch Architecture) *Classifier {
	t.Helper()
	clf, err := NewClassifier(arch, 7)
	require.NoError(t, err)
	clf.SetLogger(zaptest.NewLogger(t).Sugar())
	clf.Compile(Adam{LearningRate: 0.05})
	return clf
}

func TestFitReducesLoss(t *testing.T) {
	x, labels := blobs(t, 60, 8, 3, 1)
	clf := newCompiled(t, Architecture{Inputs: 8, Hidden: 16, Outputs: 3})

	history, err := clf.Fit(context.Background(), x, labels, FitOptions{Epochs: 60})
	require.NoError(t, err)
	require.Len(t, history, 60)
	first, last := history[0], history[len(history)-1]
	if last.Loss >= first.Loss {
		t.Fatalf("expected loss to decrease; first=%f last=%f", first.Loss, last.Loss)
	}
	assert.Equal(t, 1.0, last.Accuracy)

	loss, acc, err := clf.Evaluate(x, labels)
	require.NoError(t, err)
	assert.Less(t, loss, first.Loss)
	assert.Equal(t, 1.0, acc)
}

func TestFitMiniBatches(t *testing.T) {
	x, labels := blobs(t, 50, 4, 2, 2)
	clf := newCompiled(t, Architecture{Inputs: 4, Hidden: 8, Outputs: 2})

	history, err := clf.Fit(context.Background(), x, labels, FitOptions{Epochs: 20, BatchSize: 8})
	require.NoError(t, err)
	assert.Less(t, history[19].Loss, history[0].Loss)
}

func TestPredictRowsAreDistributions(t *testing.T) {
	x, labels := blobs(t, 30, 6, 4, 3)
	clf := newCompiled(t, Architecture{Inputs: 6, Outputs: 4})
	assert.Equal(t, DefaultHidden, clf.Architecture().Hidden)

	check := func() {
		p, err := clf.Predict(context.Background(), x)
		require.NoError(t, err)
		require.Equal(t, []int{30, 4}, p.Shape())
		for i := 0; i < p.Len(); i++ {
			var sum float64
			for _, v := range p.Row(i) {
				assert.GreaterOrEqual(t, v, float32(0))
				assert.LessOrEqual(t, v, float32(1))
				sum += float64(v)
			}
			assert.InDelta(t, 1.0, sum, 1e-4)
		}
	}
	check()
	_, err := clf.Fit(context.Background(), x, labels, FitOptions{Epochs: 5})
	require.NoError(t, err)
	check()
}

func TestShapeMismatch(t *testing.T) {
	clf := newCompiled(t, Architecture{Inputs: 4, Hidden: 4, Outputs: 2})
	ctx := context.Background()

	wide, labels := blobs(t, 4, 5, 2, 1)
	_, err := clf.Fit(ctx, wide, labels, FitOptions{Epochs: 1})
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
	_, err = clf.Predict(ctx, wide)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)

	x, _ := blobs(t, 4, 4, 2, 1)
	_, err = clf.Fit(ctx, x, []int{0, 1, 0}, FitOptions{Epochs: 1})
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
	_, err = clf.Fit(ctx, x, []int{0, 1, 2, 0}, FitOptions{Epochs: 1})
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)

	flat, _ := tensor.New([]int{4}, []float32{1, 2, 3, 4})
	_, err = clf.Predict(ctx, flat)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
}

func TestFitRequiresCompile(t *testing.T) {
	clf, err := NewClassifier(Architecture{Inputs: 2, Hidden: 2, Outputs: 2}, 1)
	require.NoError(t, err)
	x, labels := blobs(t, 2, 2, 2, 1)
	_, err = clf.Fit(context.Background(), x, labels, FitOptions{})
	assert.ErrorIs(t, err, ErrNotCompiled)
}

func TestEpochCallbackFailuresDoNotAbort(t *testing.T) {
	x, labels := blobs(t, 10, 4, 2, 1)
	clf := newCompiled(t, Architecture{Inputs: 4, Hidden: 4, Outputs: 2})

	var seen []int
	history, err := clf.Fit(context.Background(), x, labels, FitOptions{
		Epochs: 6,
		OnEpochEnd: func(logs EpochLogs) error {
			seen = append(seen, logs.Epoch)
			switch logs.Epoch {
			case 1:
				return errors.New("observer went away")
			case 3:
				panic("observer exploded")
			}
			return nil
		},
	})
	require.NoError(t, err)
	assert.Len(t, history, 6)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, seen)
}

func TestStopTrainingBetweenEpochs(t *testing.T) {
	x, labels := blobs(t, 10, 4, 2, 1)
	clf := newCompiled(t, Architecture{Inputs: 4, Hidden: 4, Outputs: 2})

	history, err := clf.Fit(context.Background(), x, labels, FitOptions{
		Epochs: 50,
		OnEpochEnd: func(logs EpochLogs) error {
			if logs.Epoch == 2 {
				clf.StopTraining()
			}
			return nil
		},
	})
	require.NoError(t, err)
	assert.Len(t, history, 3)

	calls := 0
	history, err = clf.Fit(context.Background(), x, labels, FitOptions{
		Epochs: 50,
		Stop:   func() bool { calls++; return calls > 4 },
	})
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestFitCanceled(t *testing.T) {
	x, labels := blobs(t, 10, 4, 2, 1)
	clf := newCompiled(t, Architecture{Inputs: 4, Hidden: 4, Outputs: 2})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := clf.Fit(ctx, x, labels, FitOptions{
		Epochs: 10,
		OnEpochEnd: func(logs EpochLogs) error {
			cancel()
			return nil
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWeightsRoundTrip(t *testing.T) {
	x, labels := blobs(t, 20, 5, 3, 4)
	clf := newCompiled(t, Architecture{Inputs: 5, Hidden: 7, Outputs: 3})
	_, err := clf.Fit(context.Background(), x, labels, FitOptions{Epochs: 10})
	require.NoError(t, err)

	restored, err := FromWeights(clf.Weights())
	require.NoError(t, err)
	assert.Equal(t, clf.Architecture(), restored.Architecture())

	want, err := clf.Predict(context.Background(), x)
	require.NoError(t, err)
	got, err := restored.Predict(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, want.Data(), got.Data())

	w := clf.Weights()
	w.FC2.Weights = w.FC2.Weights[:3]
	_, err = FromWeights(w)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
}

func TestNewImagePrediction(t *testing.T) {
	pred := NewImagePrediction("a.png", []float32{0.1, 0.7, 0.2}, []string{"cat", "dog", "bird"})
	assert.Equal(t, "dog", pred.Class)
	assert.Equal(t, float32(0.7), pred.Probability)

	empty := NewImagePrediction("b.png", nil, []string{"cat"})
	assert.Equal(t, "", empty.Class)
}
