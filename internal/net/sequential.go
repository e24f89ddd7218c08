// Package net provides the sequential network container.
package net

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/besnet/internal/layer"
	"github.com/FlavioCFOliveira/besnet/internal/opt"
)

// Sequential is a stack of layers applied in order.
type Sequential struct {
	name   string
	layers []layer.Layer
}

// NewSequential creates a new Sequential model. Consecutive layers must
// agree on the number of values passed between them.
func NewSequential(name string, layers ...layer.Layer) (*Sequential, error) {
	if len(layers) == 0 {
		return nil, errors.New("sequential: no layers")
	}
	for i := 1; i < len(layers); i++ {
		prev, next := layers[i-1].OutShape(), layers[i].InShape()
		if prev.Size() != next.Size() {
			return nil, errors.Errorf("sequential: layer %d (%s) outputs %v but layer %d (%s) expects %v",
				i-1, layers[i-1].Name(), prev, i, layers[i].Name(), next)
		}
	}
	return &Sequential{name: name, layers: layers}, nil
}

// Name returns the model name given at construction.
func (s *Sequential) Name() string { return s.name }

// Layers returns the network's layers slice.
func (s *Sequential) Layers() []layer.Layer { return s.layers }

// InShape is the input shape of the first layer.
func (s *Sequential) InShape() layer.Shape { return s.layers[0].InShape() }

// OutShape is the output shape of the last layer.
func (s *Sequential) OutShape() layer.Shape { return s.layers[len(s.layers)-1].OutShape() }

// Forward performs a forward pass through all layers.
// The returned slice is owned by the last layer.
func (s *Sequential) Forward(x []float64) []float64 {
	curr := x
	for _, l := range s.layers {
		curr = l.Forward(curr)
	}
	return curr
}

// Predict performs a forward pass and returns a copy of the output.
func (s *Sequential) Predict(x []float64) []float64 {
	return append([]float64(nil), s.Forward(x)...)
}

// Backward performs a backward pass through all layers, accumulating
// parameter gradients.
func (s *Sequential) Backward(grad []float64) []float64 {
	curr := grad
	for i := len(s.layers) - 1; i >= 0; i-- {
		curr = s.layers[i].Backward(curr)
	}
	return curr
}

// ZeroGrad clears the accumulated gradients of every layer.
func (s *Sequential) ZeroGrad() {
	for _, l := range s.layers {
		l.ZeroGrad()
	}
}

// SetTraining sets the training mode for the model.
func (s *Sequential) SetTraining(training bool) {
	for _, l := range s.layers {
		if t, ok := l.(layer.Trainer); ok {
			t.SetTraining(training)
		}
	}
}

// Step scales the accumulated gradients (1/batch for mean reduction), adds
// the L2 penalty gradient 2*l2*w and applies one optimizer update per layer.
func (s *Sequential) Step(o opt.Optimizer, scale float64) {
	for i, l := range s.layers {
		params, grads := l.Params(), l.Gradients()
		if len(params) == 0 {
			continue
		}
		floats.Scale(scale, grads)
		if r, ok := l.(layer.Regularized); ok && r.L2() > 0 {
			floats.AddScaled(grads, 2*r.L2(), params)
		}
		o.Step(i, params, grads)
	}
}

// L2Penalty returns sum(l2 * ||w||^2) over regularized layers.
func (s *Sequential) L2Penalty() float64 {
	var total float64
	for _, l := range s.layers {
		if r, ok := l.(layer.Regularized); ok && r.L2() > 0 {
			p := l.Params()
			total += r.L2() * floats.Dot(p, p)
		}
	}
	return total
}

// AddGradients adds the accumulated gradients of other, a replica with the
// same architecture, into s.
func (s *Sequential) AddGradients(other *Sequential) {
	for i, l := range s.layers {
		if g := l.Gradients(); len(g) > 0 {
			floats.Add(g, other.layers[i].Gradients())
		}
	}
}

// CopyParamsFrom overwrites the parameters of s with those of other.
func (s *Sequential) CopyParamsFrom(other *Sequential) {
	for i, l := range s.layers {
		copy(l.Params(), other.layers[i].Params())
	}
}

// NumParams returns the total number of learnable parameters.
func (s *Sequential) NumParams() int {
	n := 0
	for _, l := range s.layers {
		n += len(l.Params())
	}
	return n
}

// Params returns a copy of every layer's parameters.
func (s *Sequential) Params() [][]float64 {
	out := make([][]float64, len(s.layers))
	for i, l := range s.layers {
		out[i] = append([]float64(nil), l.Params()...)
	}
	return out
}

// SetParams loads per-layer parameters, as returned by Params.
func (s *Sequential) SetParams(params [][]float64) error {
	if len(params) != len(s.layers) {
		return errors.Errorf("set params: got %d layers, model has %d", len(params), len(s.layers))
	}
	for i, l := range s.layers {
		if len(params[i]) != len(l.Params()) {
			return errors.Errorf("set params: layer %d (%s) has %d params, got %d",
				i, l.Name(), len(l.Params()), len(params[i]))
		}
	}
	for i, l := range s.layers {
		copy(l.Params(), params[i])
	}
	return nil
}

// Clone returns an independent replica with the same parameters.
func (s *Sequential) Clone() *Sequential {
	layers := make([]layer.Layer, len(s.layers))
	for i, l := range s.layers {
		layers[i] = l.Clone()
	}
	return &Sequential{name: s.name, layers: layers}
}

// Summary prints a summary of the network architecture.
func (s *Sequential) Summary(w io.Writer) {
	rule := strings.Repeat("_", 65)
	fmt.Fprintf(w, "Model: %s\n", s.name)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-25s %-20s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, strings.Repeat("=", 65))
	fmt.Fprintf(w, "%-25s %-20s %-10d\n", "Input", s.InShape(), 0)

	for i, l := range s.layers {
		fmt.Fprintf(w, "%-25s %-20s %-10d\n", fmt.Sprintf("%s_%d", l.Name(), i), l.OutShape(), len(l.Params()))
	}
	fmt.Fprintln(w, strings.Repeat("=", 65))
	fmt.Fprintf(w, "Total params: %d\n", s.NumParams())
	fmt.Fprintln(w, rule)
}
