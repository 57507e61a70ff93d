package dataset

import (
	"fmt"
	"sync"

	"golang.org/x/exp/rand"
)

// Loader hands out collated batches over a fixed index set, reshuffling with
// its own seeded source on every Reset.
type Loader struct {
	store     *Store
	indices   []int
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	position  int
	mu        sync.Mutex
}

// NewLoader iterates over indices, or every store index when indices is nil.
func NewLoader(store *Store, indices []int, batchSize int, shuffle bool, seed uint64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	if indices == nil {
		indices = make([]int, store.Len())
		for i := range indices {
			indices[i] = i
		}
	} else {
		indices = append([]int(nil), indices...)
	}
	if len(indices) == 0 {
		return nil, ErrEmptyStore
	}
	l := &Loader{
		store:     store,
		indices:   indices,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
	l.Reset()
	return l, nil
}

// Len returns the number of batches in an epoch.
func (l *Loader) Len() int {
	return (len(l.indices) + l.batchSize - 1) / l.batchSize
}

func (l *Loader) Size() int {
	return len(l.indices)
}

// Reset rewinds for a new epoch.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.position = 0
	if l.shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}
}

func (l *Loader) HasNext() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position < len(l.indices)
}

// Next returns the next batch, or nil once the epoch is exhausted.
func (l *Loader) Next() (*Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position >= len(l.indices) {
		return nil, nil
	}
	end := l.position + l.batchSize
	if end > len(l.indices) {
		end = len(l.indices)
	}
	picked := append([]int(nil), l.indices[l.position:end]...)
	l.position = end

	items, err := l.store.Items(picked)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	batch := Collate(items)
	batch.Indices = picked
	return &batch, nil
}
