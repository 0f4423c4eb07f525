// Package tensor holds the dense float32 arrays passed between the loader,
// the feature extractor and the classifier head.
package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Tensor is a row-major n-dimensional float32 array.
type Tensor struct {
	shape []int
	data  []float32
}

func New(shape []int, data []float32) (Tensor, error) {
	size, err := volume(shape)
	if err != nil {
		return Tensor{}, err
	}
	if size != len(data) {
		return Tensor{}, errors.Errorf("shape %v needs %d values, got %d", shape, size, len(data))
	}
	return Tensor{shape: append([]int(nil), shape...), data: data}, nil
}

func Zeros(shape ...int) (Tensor, error) {
	size, err := volume(shape)
	if err != nil {
		return Tensor{}, err
	}
	return Tensor{shape: append([]int(nil), shape...), data: make([]float32, size)}, nil
}

func volume(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, errors.New("tensor shape is empty")
	}
	size := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, errors.Errorf("invalid dimension %d in shape %v", d, shape)
		}
		size *= d
	}
	return size, nil
}

func (t Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Data returns the backing slice. Writes are visible to t.
func (t Tensor) Data() []float32 { return t.data }

func (t Tensor) Rank() int { return len(t.shape) }

func (t Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.shape) {
		return 0
	}
	return t.shape[i]
}

// Len is the size of the first (batch) dimension.
func (t Tensor) Len() int { return t.Dim(0) }

// RowSize is the number of values in one element of the batch dimension.
func (t Tensor) RowSize() int {
	if len(t.shape) == 0 {
		return 0
	}
	return len(t.data) / t.shape[0]
}

// Row returns a view of the i-th element of the batch dimension.
func (t Tensor) Row(i int) []float32 {
	n := t.RowSize()
	return t.data[i*n : (i+1)*n]
}

func (t Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

// Stack joins equally shaped tensors along a new leading dimension.
func Stack(ts []Tensor) (Tensor, error) {
	if len(ts) == 0 {
		return Tensor{}, errors.New("stack of zero tensors")
	}
	inner := ts[0].shape
	size := len(ts[0].data)
	data := make([]float32, 0, size*len(ts))
	for i, t := range ts {
		if !sameShape(t.shape, inner) {
			return Tensor{}, errors.Errorf("stack: tensor %d has shape %v, want %v", i, t.shape, inner)
		}
		data = append(data, t.data...)
	}
	shape := append([]int{len(ts)}, inner...)
	return Tensor{shape: shape, data: data}, nil
}

// OneHot encodes labels as rows of width depth with a single 1.
func OneHot(labels []int, depth int) (Tensor, error) {
	if depth <= 0 {
		return Tensor{}, errors.Errorf("one-hot depth must be > 0 (got %d)", depth)
	}
	out, err := Zeros(len(labels), depth)
	if err != nil {
		return Tensor{}, err
	}
	for i, l := range labels {
		if l < 0 || l >= depth {
			return Tensor{}, errors.Errorf("label %d at %d outside [0, %d)", l, i, depth)
		}
		out.data[i*depth+l] = 1
	}
	return out, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
