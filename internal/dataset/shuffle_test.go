package dataset

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermutationIsPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, n := range []int{0, 1, 2, 17, 100} {
		perm := Permutation(n, rng)
		require.Len(t, perm, n)
		sorted := append([]int(nil), perm...)
		sort.Ints(sorted)
		for i := range sorted {
			assert.Equal(t, i, sorted[i])
		}
	}
}

func TestPermutationDeterministicForSeed(t *testing.T) {
	a := Permutation(50, rand.New(rand.NewSource(11)))
	b := Permutation(50, rand.New(rand.NewSource(11)))
	assert.Equal(t, a, b)
}

func TestReorderKeepsParallelSlicesPaired(t *testing.T) {
	type sample struct {
		id    int
		label int
	}
	samples := make([]sample, 40)
	labels := make([]int, 40)
	for i := range samples {
		samples[i] = sample{id: i, label: i % 4}
		labels[i] = i % 4
	}

	perm := Permutation(len(samples), rand.New(rand.NewSource(5)))
	gotSamples := Reorder(samples, perm)
	gotLabels := Reorder(labels, perm)

	for i := range gotSamples {
		assert.Equal(t, gotSamples[i].label, gotLabels[i])
	}
	// input slices are untouched
	assert.Equal(t, 7, samples[7].id)
}

func TestReorderPanicsOnLengthMismatch(t *testing.T) {
	assert.Panics(t, func() { Reorder([]int{1, 2}, []int{0}) })
}
