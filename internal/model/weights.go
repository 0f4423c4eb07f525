package model

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Layer holds one dense layer: Weights is [in][out].
type Layer struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

type Weights struct {
	FC1 Layer `json:"fc1"`
	FC2 Layer `json:"fc2"`
}

// Weights returns a deep copy of the trained parameters.
func (c *Classifier) Weights() Weights {
	return Weights{FC1: exportLayer(c.fc1), FC2: exportLayer(c.fc2)}
}

func exportLayer(d dense) Layer {
	rows, _ := d.w.Dims()
	out := Layer{Weights: make([][]float64, rows), Bias: append([]float64(nil), d.b...)}
	for i := 0; i < rows; i++ {
		out.Weights[i] = append([]float64(nil), d.w.RawRowView(i)...)
	}
	return out
}

// FromWeights rebuilds an uncompiled head. The architecture is inferred from
// the layer shapes, which must chain.
func FromWeights(w Weights) (*Classifier, error) {
	fc1, err := importLayer(w.FC1)
	if err != nil {
		return nil, errors.Wrap(err, "fc1")
	}
	fc2, err := importLayer(w.FC2)
	if err != nil {
		return nil, errors.Wrap(err, "fc2")
	}
	in, hidden := fc1.w.Dims()
	hidden2, out := fc2.w.Dims()
	if hidden != hidden2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "fc1 has %d outputs, fc2 has %d inputs", hidden, hidden2)
	}
	return &Classifier{
		arch:   Architecture{Inputs: in, Hidden: hidden, Outputs: out},
		fc1:    fc1,
		fc2:    fc2,
		logger: zap.NewNop().Sugar(),
	}, nil
}

func importLayer(l Layer) (dense, error) {
	rows := len(l.Weights)
	if rows == 0 || len(l.Weights[0]) == 0 {
		return dense{}, errors.Wrap(ErrShapeMismatch, "empty weight matrix")
	}
	cols := len(l.Weights[0])
	data := make([]float64, 0, rows*cols)
	for i, row := range l.Weights {
		if len(row) != cols {
			return dense{}, errors.Wrapf(ErrShapeMismatch, "row %d has %d columns, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	if len(l.Bias) != cols {
		return dense{}, errors.Wrapf(ErrShapeMismatch, "bias has %d entries, want %d", len(l.Bias), cols)
	}
	return dense{w: mat.NewDense(rows, cols, data), b: append([]float64(nil), l.Bias...)}, nil
}
