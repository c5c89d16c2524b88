package dataset

import "math/rand"

// Loader serves a LineDataset as a sequence of batches.
type Loader struct {
	ds        *LineDataset
	batchSize int
	shuffle   bool
	workers   int
	rng       *rand.Rand
}

// NewLoader creates a Loader. workers 0 assembles batches synchronously in
// Next; workers 1 prefetches from a single background goroutine. Values
// above 1 are clamped to 1: batch order must stay deterministic, and image
// decoding is not the bottleneck here.
func NewLoader(ds *LineDataset, batchSize int, shuffle bool, workers int) *Loader {
	if batchSize < 1 {
		batchSize = 1
	}
	if workers > 1 {
		workers = 1
	}
	if workers < 0 {
		workers = 0
	}
	return &Loader{
		ds:        ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		workers:   workers,
		rng:       rand.New(rand.NewSource(rand.Int63())),
	}
}

// Len returns the number of batches per pass.
func (l *Loader) Len() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Iterator yields the batches of one pass over the dataset.
type Iterator struct {
	ds      *LineDataset
	chunks  [][]int
	pos     int
	results chan iterResult // non-nil when prefetching
	stop    chan struct{}   // closed to release the prefetch goroutine
	stopped bool
}

type iterResult struct {
	batch *Batch
	err   error
}

// Iter starts a new pass. With shuffling enabled each pass draws a fresh
// permutation.
func (l *Loader) Iter() *Iterator {
	indices := make([]int, l.ds.Len())
	for i := range indices {
		indices[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	chunks := make([][]int, 0, l.Len())
	for start := 0; start < len(indices); start += l.batchSize {
		end := start + l.batchSize
		if end > len(indices) {
			end = len(indices)
		}
		chunks = append(chunks, indices[start:end])
	}

	it := &Iterator{ds: l.ds, chunks: chunks}
	if l.workers > 0 {
		it.results = make(chan iterResult, 1)
		it.stop = make(chan struct{})
		go func() {
			defer close(it.results)
			for _, chunk := range chunks {
				b, err := l.ds.batch(chunk)
				select {
				case it.results <- iterResult{batch: b, err: err}:
				case <-it.stop:
					return
				}
				if err != nil {
					return
				}
			}
		}()
	}
	return it
}

// Close ends the pass and releases the prefetch goroutine. Required when a
// pass is abandoned before exhaustion; safe to call more than once.
func (it *Iterator) Close() {
	if it.stopped {
		return
	}
	it.stopped = true
	if it.stop != nil {
		close(it.stop)
	}
}

// Next returns the next batch, or (nil, nil) when the pass is exhausted
// or closed.
func (it *Iterator) Next() (*Batch, error) {
	if it.stopped {
		return nil, nil
	}
	if it.results != nil {
		res, ok := <-it.results
		if !ok {
			return nil, nil
		}
		return res.batch, res.err
	}
	if it.pos >= len(it.chunks) {
		return nil, nil
	}
	chunk := it.chunks[it.pos]
	it.pos++
	return it.ds.batch(chunk)
}
