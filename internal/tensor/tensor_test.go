package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChecksVolume(t *testing.T) {
	_, err := New([]int{2, 3}, make([]float32, 5))
	require.Error(t, err)

	_, err = New([]int{2, 0}, nil)
	require.Error(t, err)

	x, err := New([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, 2, x.Len())
	assert.Equal(t, 3, x.RowSize())
	assert.Equal(t, []float32{4, 5, 6}, x.Row(1))
}

func TestStack(t *testing.T) {
	a, _ := New([]int{2, 2}, []float32{1, 2, 3, 4})
	b, _ := New([]int{2, 2}, []float32{5, 6, 7, 8})

	s, err := Stack([]Tensor{a, b})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, s.Shape())
	assert.Equal(t, []float32{5, 6, 7, 8}, s.Row(1))

	c, _ := New([]int{4}, []float32{1, 2, 3, 4})
	_, err = Stack([]Tensor{a, c})
	require.Error(t, err)

	_, err = Stack(nil)
	require.Error(t, err)
}

func TestOneHot(t *testing.T) {
	y, err := OneHot([]int{0, 2, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3}, y.Shape())
	assert.Equal(t, []float32{
		1, 0, 0,
		0, 0, 1,
		0, 1, 0,
	}, y.Data())

	_, err = OneHot([]int{3}, 3)
	require.Error(t, err)
	_, err = OneHot([]int{-1}, 3)
	require.Error(t, err)
}
