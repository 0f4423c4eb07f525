// Package model contains the trainable classifier head that sits on top of
// the frozen feature extractor, and the report types it produces.
package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/transfer-classifier/internal/tensor"
)

const (
	DefaultHidden = 64
	DefaultEpochs = 100

	// clipping applied to probabilities before taking the log
	lossEpsilon = 1e-7
)

var (
	// ErrShapeMismatch reports features or labels that do not fit the head.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNotCompiled is returned by Fit before Compile was called.
	ErrNotCompiled = errors.New("classifier not compiled")
)

// Architecture describes Dense(Inputs→Hidden, relu) → Dense(Hidden→Outputs, softmax).
type Architecture struct {
	Inputs  int `json:"input_size"`
	Hidden  int `json:"hidden_size"`
	Outputs int `json:"output_size"`
}

func (a Architecture) Validate() error {
	if a.Inputs <= 0 || a.Hidden <= 0 || a.Outputs <= 0 {
		return errors.Errorf("invalid architecture %d→%d→%d", a.Inputs, a.Hidden, a.Outputs)
	}
	return nil
}

func (a Architecture) String() string {
	return fmt.Sprintf("%d→%d→%d", a.Inputs, a.Hidden, a.Outputs)
}

type dense struct {
	w *mat.Dense // in × out
	b []float64
}

// Classifier is the trainable head. Fit must not run concurrently with
// itself or with Predict.
type Classifier struct {
	arch   Architecture
	fc1    dense
	fc2    dense
	opt    *adamState
	stop   atomic.Bool
	logger *zap.SugaredLogger
}

// NewClassifier builds a head with Glorot-uniform weights and zero biases.
func NewClassifier(arch Architecture, seed int64) (*Classifier, error) {
	if arch.Hidden == 0 {
		arch.Hidden = DefaultHidden
	}
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	return &Classifier{
		arch:   arch,
		fc1:    glorot(arch.Inputs, arch.Hidden, rng),
		fc2:    glorot(arch.Hidden, arch.Outputs, rng),
		logger: zap.NewNop().Sugar(),
	}, nil
}

func glorot(in, out int, rng *rand.Rand) dense {
	limit := math.Sqrt(6 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return dense{w: mat.NewDense(in, out, data), b: make([]float64, out)}
}

func (c *Classifier) Architecture() Architecture { return c.arch }

// Outputs is the number of classes the head scores.
func (c *Classifier) Outputs() int { return c.arch.Outputs }

func (c *Classifier) SetLogger(logger *zap.SugaredLogger) {
	if logger != nil {
		c.logger = logger
	}
}

// Compile selects the optimizer. Loss is categorical cross-entropy and the
// reported metric is accuracy.
func (c *Classifier) Compile(opt Adam) {
	c.opt = newAdamState(opt)
}

// StopTraining asks a running Fit to return after the current epoch.
func (c *Classifier) StopTraining() { c.stop.Store(true) }

// EpochLogs is passed to FitOptions.OnEpochEnd.
type EpochLogs struct {
	Epoch    int     `json:"epoch"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"acc"`
}

type History []EpochLogs

type FitOptions struct {
	Epochs int
	// BatchSize of zero trains on the whole dataset per step.
	BatchSize int
	// OnEpochEnd errors and panics are logged, never returned.
	OnEpochEnd func(EpochLogs) error
	// Stop is polled between epochs.
	Stop func() bool
}

// Fit trains on features [N, Inputs] and integer labels in [0, Outputs).
func (c *Classifier) Fit(ctx context.Context, features tensor.Tensor, labels []int, opts FitOptions) (History, error) {
	if c.opt == nil {
		return nil, ErrNotCompiled
	}
	x, err := c.inputMatrix(features)
	if err != nil {
		return nil, err
	}
	y, err := c.targetMatrix(labels, features.Len())
	if err != nil {
		return nil, err
	}
	epochs := opts.Epochs
	if epochs <= 0 {
		epochs = DefaultEpochs
	}
	n, _ := x.Dims()
	batch := opts.BatchSize
	if batch <= 0 || batch > n {
		batch = n
	}
	defer c.stop.Store(false)

	history := make(History, 0, epochs)
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}
		if c.stop.Load() || (opts.Stop != nil && opts.Stop()) {
			c.logger.Infow("training stopped", "epoch", epoch)
			break
		}
		var lossSum, hits float64
		for start := 0; start < n; start += batch {
			end := min(start+batch, n)
			xb := x.Slice(start, end, 0, c.arch.Inputs).(*mat.Dense)
			yb := y.Slice(start, end, 0, c.arch.Outputs).(*mat.Dense)
			loss, correct := c.trainStep(xb, yb)
			lossSum += loss * float64(end-start)
			hits += correct
		}
		logs := EpochLogs{Epoch: epoch, Loss: lossSum / float64(n), Accuracy: hits / float64(n)}
		history = append(history, logs)
		c.logger.Debugw("epoch", "epoch", epoch, "acc", logs.Accuracy, "loss", logs.Loss)
		c.notify(opts.OnEpochEnd, logs)
	}
	return history, nil
}

func (c *Classifier) notify(fn func(EpochLogs) error, logs EpochLogs) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warnw("epoch callback panicked", "epoch", logs.Epoch, "panic", r)
		}
	}()
	if err := fn(logs); err != nil {
		c.logger.Warnw("epoch callback failed", "epoch", logs.Epoch, "error", err)
	}
}

// trainStep runs forward and backward over one batch and applies one Adam
// update. It returns the mean loss and the number of correct predictions,
// both measured before the update.
func (c *Classifier) trainStep(x, y *mat.Dense) (float64, float64) {
	z1, a1, p := c.forward(x)
	loss, hits := crossEntropy(p, y)
	rows, _ := x.Dims()

	var dz2 mat.Dense
	dz2.Sub(p, y)
	dz2.Scale(1/float64(rows), &dz2)

	var dw2 mat.Dense
	dw2.Mul(a1.T(), &dz2)
	db2 := colSums(&dz2)

	var dz1 mat.Dense
	dz1.Mul(&dz2, c.fc2.w.T())
	dz1.Apply(func(i, j int, v float64) float64 {
		if z1.At(i, j) <= 0 {
			return 0
		}
		return v
	}, &dz1)

	var dw1 mat.Dense
	dw1.Mul(x.T(), &dz1)
	db1 := colSums(&dz1)

	c.opt.step(
		[][]float64{c.fc1.w.RawMatrix().Data, c.fc1.b, c.fc2.w.RawMatrix().Data, c.fc2.b},
		[][]float64{dw1.RawMatrix().Data, db1, dw2.RawMatrix().Data, db2},
	)
	return loss, hits
}

func (c *Classifier) forward(x mat.Matrix) (z1, a1, p *mat.Dense) {
	z1 = &mat.Dense{}
	z1.Mul(x, c.fc1.w)
	addBias(z1, c.fc1.b)

	a1 = &mat.Dense{}
	a1.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z1)

	p = &mat.Dense{}
	p.Mul(a1, c.fc2.w)
	addBias(p, c.fc2.b)
	softmaxRows(p)
	return z1, a1, p
}

// Predict returns one probability row per feature row, columns in class
// index order.
func (c *Classifier) Predict(ctx context.Context, features tensor.Tensor) (tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return tensor.Tensor{}, err
	}
	x, err := c.inputMatrix(features)
	if err != nil {
		return tensor.Tensor{}, err
	}
	_, _, p := c.forward(x)
	rows, cols := p.Dims()
	out := make([]float32, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for _, v := range p.RawRowView(i) {
			out = append(out, float32(v))
		}
	}
	return tensor.New([]int{rows, cols}, out)
}

// Evaluate reports mean loss and accuracy without training.
func (c *Classifier) Evaluate(features tensor.Tensor, labels []int) (loss, accuracy float64, err error) {
	x, err := c.inputMatrix(features)
	if err != nil {
		return 0, 0, err
	}
	y, err := c.targetMatrix(labels, features.Len())
	if err != nil {
		return 0, 0, err
	}
	_, _, p := c.forward(x)
	loss, hits := crossEntropy(p, y)
	return loss, hits / float64(len(labels)), nil
}

func (c *Classifier) inputMatrix(features tensor.Tensor) (*mat.Dense, error) {
	if features.Rank() != 2 || features.Dim(1) != c.arch.Inputs {
		return nil, errors.Wrapf(ErrShapeMismatch, "features %v, head expects [N %d]", features.Shape(), c.arch.Inputs)
	}
	src := features.Data()
	data := make([]float64, len(src))
	for i, v := range src {
		data[i] = float64(v)
	}
	return mat.NewDense(features.Len(), c.arch.Inputs, data), nil
}

func (c *Classifier) targetMatrix(labels []int, rows int) (*mat.Dense, error) {
	if len(labels) != rows {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d labels for %d feature rows", len(labels), rows)
	}
	y, err := tensor.OneHot(labels, c.arch.Outputs)
	if err != nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "%v", err)
	}
	data := make([]float64, len(y.Data()))
	for i, v := range y.Data() {
		data[i] = float64(v)
	}
	return mat.NewDense(rows, c.arch.Outputs, data), nil
}

func addBias(m *mat.Dense, b []float64) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += b[j]
		}
	}
}

func softmaxRows(m *mat.Dense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		maxLogit := row[0]
		for _, v := range row {
			if v > maxLogit {
				maxLogit = v
			}
		}
		sum := 0.0
		for j, v := range row {
			row[j] = math.Exp(v - maxLogit)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

func colSums(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j, v := range m.RawRowView(i) {
			out[j] += v
		}
	}
	return out
}

// crossEntropy returns the mean categorical cross-entropy and the count of
// rows whose argmax matches the one-hot target.
func crossEntropy(p, y *mat.Dense) (float64, float64) {
	rows, _ := p.Dims()
	var loss, hits float64
	for i := 0; i < rows; i++ {
		pr, yr := p.RawRowView(i), y.RawRowView(i)
		for j, t := range yr {
			if t != 0 {
				loss -= t * math.Log(math.Min(math.Max(pr[j], lossEpsilon), 1-lossEpsilon))
			}
		}
		if argmax(pr) == argmax(yr) {
			hits++
		}
	}
	return loss / float64(rows), hits
}

func argmax(row []float64) int {
	best := 0
	for j, v := range row {
		if v > row[best] {
			best = j
		}
	}
	return best
}
