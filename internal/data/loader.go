package data

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Batch is a mini-batch of flattened windows and their labels.
type Batch struct {
	X [][]float64
	Y []float64
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int { return len(b.Y) }

// LoaderConfig configures batching.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool // reshuffle sample order every epoch
	DropLast  bool // skip a trailing partial batch
	Workers   int  // goroutines assembling batches ahead of the consumer; 0 assembles inline
	Seed      int64
}

// Loader iterates a Windowed data set in mini-batches.
type Loader struct {
	ds  *Windowed
	cfg LoaderConfig
	rng *rand.Rand
}

// NewLoader creates a loader over ds.
func NewLoader(ds *Windowed, cfg LoaderConfig) (*Loader, error) {
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("loader: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Workers < 0 {
		return nil, errors.Errorf("loader: workers must not be negative, got %d", cfg.Workers)
	}
	return &Loader{ds: ds, cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Dataset returns the underlying data set.
func (l *Loader) Dataset() *Windowed { return l.ds }

// NumBatches returns the number of batches one epoch yields.
func (l *Loader) NumBatches() int {
	n := l.ds.Len() / l.cfg.BatchSize
	if !l.cfg.DropLast && l.ds.Len()%l.cfg.BatchSize != 0 {
		n++
	}
	return n
}

func (l *Loader) order() []int {
	if l.cfg.Shuffle {
		return l.rng.Perm(l.ds.Len())
	}
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	return order
}

func (l *Loader) assemble(order []int, b int) Batch {
	start := b * l.cfg.BatchSize
	end := start + l.cfg.BatchSize
	if end > len(order) {
		end = len(order)
	}

	size := l.ds.SampleSize()
	backing := make([]float64, (end-start)*size)
	batch := Batch{X: make([][]float64, end-start), Y: make([]float64, end-start)}
	for i, idx := range order[start:end] {
		x := backing[i*size : (i+1)*size]
		batch.Y[i] = l.ds.Sample(idx, x)
		batch.X[i] = x
	}
	return batch
}

// Each runs one epoch, calling fn for every batch in order. With Workers > 0
// batches are assembled concurrently, at most 2*Workers ahead of fn.
// Iteration stops at the first error from fn or when ctx is done.
func (l *Loader) Each(ctx context.Context, fn func(i int, b Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	order := l.order()
	n := l.NumBatches()

	if l.cfg.Workers == 0 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(i, l.assemble(order, i)); err != nil {
				return err
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	slots := make([]chan Batch, n)
	for i := range slots {
		slots[i] = make(chan Batch, 1)
	}
	jobs := make(chan int)
	ahead := make(chan struct{}, 2*l.cfg.Workers)

	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case ahead <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < l.cfg.Workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				slots[i] <- l.assemble(order, i)
			}
			return nil
		})
	}

	g.Go(func() error {
		for i := 0; i < n; i++ {
			select {
			case b := <-slots[i]:
				if err := fn(i, b); err != nil {
					return err
				}
				<-ahead
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}
