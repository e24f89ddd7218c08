// Package train runs model training and validation over windowed BES data.
package train

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/besnet/internal/activations"
	"github.com/FlavioCFOliveira/besnet/internal/data"
	"github.com/FlavioCFOliveira/besnet/internal/logging"
	"github.com/FlavioCFOliveira/besnet/internal/loss"
	"github.com/FlavioCFOliveira/besnet/internal/net"
	"github.com/FlavioCFOliveira/besnet/internal/opt"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Workers is the number of model replicas sharing each batch. Values
	// below 1 mean 1.
	Workers int

	// Probabilities reports that the model ends in a sigmoid, so its
	// outputs are used as predictions directly.
	Probabilities   bool
	TrainPrintEvery int
	ValidPrintEvery int
}

// Engine trains and evaluates one model. Each batch is split across
// replicas of the model; their gradients are summed into the primary model,
// which takes the optimizer step, and the replicas are then resynchronized.
type Engine struct {
	model    *net.Sequential
	replicas []*net.Sequential // replicas[0] is model
	grads    [][]float64
	loss     loss.Loss
	opt      opt.Optimizer
	cfg      EngineConfig
	log      *log.Entry
}

// Evaluation is the outcome of one validation pass.
type Evaluation struct {
	Loss   float64
	Preds  []float64 // positive class probabilities
	Labels []float64
}

// NewEngine prepares m for training with the given loss and optimizer.
func NewEngine(m *net.Sequential, l loss.Loss, o opt.Optimizer, cfg EngineConfig, logger log.FieldLogger) (*Engine, error) {
	if size := m.OutShape().Size(); size != 1 {
		return nil, errors.Errorf("engine: model %s has %d outputs, want 1", m.Name(), size)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	e := &Engine{
		model: m,
		loss:  l,
		opt:   o,
		cfg:   cfg,
		log:   logging.Component(logger, "engine"),
	}
	m.ZeroGrad()
	e.replicas = append(e.replicas, m)
	for i := 1; i < cfg.Workers; i++ {
		e.replicas = append(e.replicas, m.Clone())
	}
	e.grads = make([][]float64, cfg.Workers)
	for i := range e.grads {
		e.grads[i] = make([]float64, 1)
	}
	return e, nil
}

// Model returns the primary model.
func (e *Engine) Model() *net.Sequential { return e.model }

func (e *Engine) setTraining(training bool) {
	for _, r := range e.replicas {
		r.SetTraining(training)
	}
}

// parallel splits [0, n) into contiguous chunks, one per replica.
func (e *Engine) parallel(n int, fn func(r, start, end int)) {
	if n == 0 {
		return
	}
	workers := min(len(e.replicas), n)
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for r := 0; r < workers; r++ {
		start, end := r*chunk, min((r+1)*chunk, n)
		if start >= end {
			break
		}
		wg.Add(1)
		go func(r, start, end int) {
			defer wg.Done()
			fn(r, start, end)
		}(r, start, end)
	}
	wg.Wait()
}

func (e *Engine) lossGrad(out, target, buf []float64) []float64 {
	if in, ok := e.loss.(loss.BackwardInPlacer); ok {
		in.BackwardInPlace(out, target, buf)
		return buf
	}
	return e.loss.Backward(out, target)
}

func (e *Engine) prob(out []float64) float64 {
	if e.cfg.Probabilities {
		return out[0]
	}
	return activations.Logistic(out[0])
}

// trainBatch performs one optimizer step on the mean loss of b and returns
// that loss.
func (e *Engine) trainBatch(b data.Batch) float64 {
	losses := make([]float64, len(e.replicas))
	e.parallel(b.Size(), func(r, start, end int) {
		m := e.replicas[r]
		for i := start; i < end; i++ {
			target := b.Y[i : i+1]
			out := m.Forward(b.X[i])
			losses[r] += e.loss.Forward(out, target)
			m.Backward(e.lossGrad(out, target, e.grads[r]))
		}
	})

	for _, r := range e.replicas[1:] {
		e.model.AddGradients(r)
	}
	e.model.Step(e.opt, 1/float64(b.Size()))
	e.model.ZeroGrad()
	for _, r := range e.replicas[1:] {
		r.CopyParamsFrom(e.model)
		r.ZeroGrad()
	}
	return floats.Sum(losses) / float64(b.Size())
}

// TrainEpoch runs one pass over loader and returns the sample-weighted
// average training loss. epoch is zero-based.
func (e *Engine) TrainEpoch(ctx context.Context, loader *data.Loader, epoch int) (float64, error) {
	e.setTraining(true)
	start := time.Now()
	total := loader.NumBatches()

	var sum float64
	var seen int
	err := loader.Each(ctx, func(i int, b data.Batch) error {
		l := e.trainBatch(b)
		sum += l * float64(b.Size())
		seen += b.Size()
		if every := e.cfg.TrainPrintEvery; every > 0 && (i%every == 0 || i == total-1) {
			e.log.Infof("Epoch: [%d][%d/%d] Elapsed %s Loss: %.4f(%.4f)",
				epoch+1, i, total, time.Since(start).Round(time.Millisecond), l, sum/float64(seen))
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "train epoch %d", epoch+1)
	}
	if seen == 0 {
		return 0, errors.New("train epoch: loader produced no batches")
	}
	return sum / float64(seen), nil
}

// Evaluate runs the model in inference mode over loader.
func (e *Engine) Evaluate(ctx context.Context, loader *data.Loader) (*Evaluation, error) {
	e.setTraining(false)
	defer e.setTraining(true)

	start := time.Now()
	total := loader.NumBatches()
	ev := &Evaluation{}
	var sum float64
	err := loader.Each(ctx, func(i int, b data.Batch) error {
		preds := make([]float64, b.Size())
		losses := make([]float64, len(e.replicas))
		e.parallel(b.Size(), func(r, lo, hi int) {
			m := e.replicas[r]
			for j := lo; j < hi; j++ {
				out := m.Forward(b.X[j])
				losses[r] += e.loss.Forward(out, b.Y[j:j+1])
				preds[j] = e.prob(out)
			}
		})
		sum += floats.Sum(losses)
		ev.Preds = append(ev.Preds, preds...)
		ev.Labels = append(ev.Labels, b.Y...)
		if every := e.cfg.ValidPrintEvery; every > 0 && (i%every == 0 || i == total-1) {
			e.log.Infof("Evaluating: [%d/%d] Elapsed %s Loss: %.4f",
				i, total, time.Since(start).Round(time.Millisecond), sum/float64(len(ev.Labels)))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	if len(ev.Labels) == 0 {
		return nil, errors.New("evaluate: loader produced no batches")
	}
	ev.Loss = sum / float64(len(ev.Labels))
	return ev, nil
}
