package dataset

import "math/rand"

// Permutation returns a uniformly random ordering of [0, n) built with
// Fisher–Yates: walking from the last index down, each position swaps with a
// random index in [0, i].
func Permutation(n int, rng *rand.Rand) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// Reorder returns a new slice whose i-th element is s[perm[i]]. Applying the
// same perm to parallel slices keeps their elements paired.
func Reorder[T any](s []T, perm []int) []T {
	if len(s) != len(perm) {
		panic("dataset: permutation length does not match slice length")
	}
	out := make([]T, len(perm))
	for i, p := range perm {
		out[i] = s[p]
	}
	return out
}
