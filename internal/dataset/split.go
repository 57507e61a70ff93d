package dataset

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// Split shuffles every store index with seed and holds out the trailing
// fraction as the test set. A non-zero fraction always leaves at least one
// index on each side when the store has two or more items.
func Split(store *Store, fraction float64, seed uint64) (train, test []int, err error) {
	if fraction < 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in [0,1), got %v", fraction)
	}
	n := store.Len()
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := int(float64(n) * fraction)
	if fraction > 0 && nTest == 0 && n > 1 {
		nTest = 1
	}
	return perm[:n-nTest], perm[n-nTest:], nil
}
