// Package data loads BES signal events and turns them into windowed
// training samples.
package data

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Channels is the number of sensor readings per time step (8x8 grid).
const Channels = 64

// Event is one contiguous recording: Len() time steps of Channels readings
// each, with a binary label per time step.
type Event struct {
	ID      int
	Signals []float64 // [Len() * Channels], time-major
	Labels  []float64 // [Len()], 0 or 1
}

// Len returns the number of time steps.
func (e *Event) Len() int { return len(e.Labels) }

// Step returns the readings at time t.
func (e *Event) Step(t int) []float64 {
	return e.Signals[t*Channels : (t+1)*Channels]
}

func (e *Event) validate() error {
	if len(e.Signals) != len(e.Labels)*Channels {
		return errors.Errorf("event %d: %d readings for %d time steps", e.ID, len(e.Signals), len(e.Labels))
	}
	for t, y := range e.Labels {
		if y != 0 && y != 1 {
			return errors.Errorf("event %d: label %v at step %d is not 0 or 1", e.ID, y, t)
		}
	}
	return nil
}

// SplitConfig controls how events are divided between train, validation
// and test sets.
type SplitConfig struct {
	ValidFraction float64
	TestFraction  float64
	Shuffle       bool
	Seed          int64
}

// Split holds events partitioned by role. Events are never split across
// sets, so no window leaks between them.
type Split struct {
	Train []*Event
	Valid []*Event
	Test  []*Event
}

func fractionCount(n int, f float64) int {
	c := int(math.Round(float64(n) * f))
	if f > 0 && c == 0 {
		c = 1
	}
	return c
}

// SplitEvents partitions events. Test events are taken first, then
// validation events; the rest is training data.
func SplitEvents(events []*Event, cfg SplitConfig) (Split, error) {
	if cfg.ValidFraction < 0 || cfg.TestFraction < 0 || cfg.ValidFraction+cfg.TestFraction >= 1 {
		return Split{}, errors.Errorf("split: invalid fractions valid=%v test=%v", cfg.ValidFraction, cfg.TestFraction)
	}

	order := append([]*Event(nil), events...)
	if cfg.Shuffle {
		rng := rand.New(rand.NewSource(cfg.Seed))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	n := len(order)
	nTest := fractionCount(n, cfg.TestFraction)
	nValid := fractionCount(n, cfg.ValidFraction)
	if nTest+nValid >= n {
		return Split{}, errors.Errorf("split: %d events are not enough for %d test and %d validation events", n, nTest, nValid)
	}

	return Split{
		Test:  order[:nTest],
		Valid: order[nTest : nTest+nValid],
		Train: order[nTest+nValid:],
	}, nil
}

// Fold re-partitions the train and validation events into k folds and
// returns the split whose validation set is fold i. The test set is kept.
func (s Split) Fold(k, i int) (Split, error) {
	if k < 2 {
		return Split{}, errors.Errorf("fold: need at least 2 folds, got %d", k)
	}
	if i < 0 || i >= k {
		return Split{}, errors.Wrapf(ErrFoldRange, "fold %d not in [0, %d)", i, k)
	}
	pool := make([]*Event, 0, len(s.Train)+len(s.Valid))
	pool = append(pool, s.Valid...)
	pool = append(pool, s.Train...)
	if len(pool) < k {
		return Split{}, errors.Errorf("fold: %d events cannot form %d folds", len(pool), k)
	}

	start := i * len(pool) / k
	end := (i + 1) * len(pool) / k
	out := Split{Test: s.Test, Valid: pool[start:end]}
	out.Train = append(out.Train, pool[:start]...)
	out.Train = append(out.Train, pool[end:]...)
	return out, nil
}

// ErrFoldRange is returned when a fold index is outside [0, k).
var ErrFoldRange = errors.New("fold index out of range")
