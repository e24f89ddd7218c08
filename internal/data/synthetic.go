package data

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// SynthConfig describes a reproducible synthetic data set: each event is
// background noise until a random onset, after which a localized burst
// grows on the grid and the label switches to 1.
type SynthConfig struct {
	Events int
	Length int     // time steps per event
	Noise  float64 // standard deviation of the background
	Growth float64 // burst amplitude gained per step after onset
	Seed   int64
}

// DefaultSynthConfig is small enough for tests and demos.
func DefaultSynthConfig() SynthConfig {
	return SynthConfig{Events: 20, Length: 200, Noise: 0.1, Growth: 0.05, Seed: 42}
}

// Synthetic generates events per cfg.
func Synthetic(cfg SynthConfig) ([]*Event, error) {
	if cfg.Events <= 0 || cfg.Length < 4 {
		return nil, errors.Errorf("synthetic: need events > 0 and length >= 4, got %d and %d", cfg.Events, cfg.Length)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	events := make([]*Event, cfg.Events)
	for i := range events {
		e := &Event{
			ID:      i,
			Signals: make([]float64, cfg.Length*Channels),
			Labels:  make([]float64, cfg.Length),
		}
		onset := cfg.Length/2 + rng.Intn(cfg.Length/4)
		cy, cx := 2+rng.Float64()*3, 2+rng.Float64()*3

		for t := 0; t < cfg.Length; t++ {
			amp := 0.0
			if t >= onset {
				e.Labels[t] = 1
				amp = 1 + cfg.Growth*float64(t-onset)
			}
			step := e.Step(t)
			for c := range step {
				y, x := float64(c/8), float64(c%8)
				d2 := (y-cy)*(y-cy) + (x-cx)*(x-cx)
				step[c] = rng.NormFloat64()*cfg.Noise + amp*math.Exp(-d2/4)
			}
		}
		events[i] = e
	}
	return events, nil
}
