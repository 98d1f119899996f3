package main

import (
	"math/rand"
)

// newPlayOrder returns a fresh uniformly random permutation of song
// indices [0, n). Every call reshuffles, so consecutive games get
// independent orders.
func newPlayOrder(n int) []int {
	if n <= 0 {
		return []int{}
	}
	return rand.Perm(n)
}
