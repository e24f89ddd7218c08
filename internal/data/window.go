package data

import (
	"math/rand"

	"github.com/pkg/errors"
)

type sampleRef struct {
	event int
	start int
}

// Windowed exposes fixed-length signal windows as samples. Sample i is the
// window signals[t : t+window] of one event, labelled with
// labels[t + window + lookAhead - 1]. Windows and their labels never cross
// event boundaries.
type Windowed struct {
	events    []*Event
	window    int
	lookAhead int
	index     []sampleRef
}

// NewWindowed indexes every valid window start of every event.
func NewWindowed(events []*Event, window, lookAhead int) (*Windowed, error) {
	if window <= 0 {
		return nil, errors.Errorf("windowed: window must be positive, got %d", window)
	}
	if lookAhead < 0 {
		return nil, errors.Errorf("windowed: look-ahead must not be negative, got %d", lookAhead)
	}

	w := &Windowed{events: events, window: window, lookAhead: lookAhead}
	for ei, e := range events {
		if err := e.validate(); err != nil {
			return nil, err
		}
		last := e.Len() - window - lookAhead
		for t := 0; t <= last; t++ {
			w.index = append(w.index, sampleRef{event: ei, start: t})
		}
	}
	return w, nil
}

// Len returns the number of samples.
func (w *Windowed) Len() int { return len(w.index) }

// SampleSize is the length of one flattened sample.
func (w *Windowed) SampleSize() int { return w.window * Channels }

// Sample copies sample i into x, which must hold SampleSize values, and
// returns its label.
func (w *Windowed) Sample(i int, x []float64) float64 {
	ref := w.index[i]
	e := w.events[ref.event]
	copy(x, e.Signals[ref.start*Channels:(ref.start+w.window)*Channels])
	return w.Label(i)
}

// Label returns the label of sample i.
func (w *Windowed) Label(i int) float64 {
	ref := w.index[i]
	return w.events[ref.event].Labels[ref.start+w.window+w.lookAhead-1]
}

// Positives counts samples labelled 1.
func (w *Windowed) Positives() int {
	n := 0
	for i := range w.index {
		if w.Label(i) == 1 {
			n++
		}
	}
	return n
}

// Shuffle permutes the sample order.
func (w *Windowed) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(w.index), func(i, j int) { w.index[i], w.index[j] = w.index[j], w.index[i] })
}

// Balance undersamples negative windows down to the number of positive
// ones, keeping the relative order of the retained samples. It does
// nothing if negatives do not outnumber positives or there are no positives.
func (w *Windowed) Balance(rng *rand.Rand) {
	var pos, neg []int
	for i := range w.index {
		if w.Label(i) == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	if len(pos) == 0 || len(neg) <= len(pos) {
		return
	}

	keep := make([]bool, len(w.index))
	for _, i := range pos {
		keep[i] = true
	}
	for _, j := range rng.Perm(len(neg))[:len(pos)] {
		keep[neg[j]] = true
	}

	index := make([]sampleRef, 0, 2*len(pos))
	for i, ref := range w.index {
		if keep[i] {
			index = append(index, ref)
		}
	}
	w.index = index
}
