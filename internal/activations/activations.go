// Package activations provides scalar activation functions with derivatives.
package activations

import (
	"math"

	"github.com/pkg/errors"
)

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x) where x is the pre-activation value.
	Derivative(x float64) float64

	// Name identifies the activation in summaries and checkpoints.
	Name() string
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func (r ReLU) Name() string { return "relu" }

// LeakyReLU keeps a small slope for negative inputs.
// PyTorch reference: torch.nn.LeakyReLU(negative_slope)
type LeakyReLU struct {
	Alpha float64 // Slope for x <= 0
}

// NewLeakyReLU creates a LeakyReLU with the given negative slope.
func NewLeakyReLU(alpha float64) *LeakyReLU {
	return &LeakyReLU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*x
func (l *LeakyReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return l.Alpha * x
}

// Derivative returns 1 if x > 0, else alpha
func (l *LeakyReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return l.Alpha
}

func (l *LeakyReLU) Name() string { return "leaky_relu" }

// Sigmoid activation function.
type Sigmoid struct{}

// Logistic computes 1 / (1 + exp(-x)) without overflowing for large |x|.
func Logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float64) float64 {
	return Logistic(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float64) float64 {
	sigma := Logistic(x)
	return sigma * (1 - sigma)
}

func (s Sigmoid) Name() string { return "sigmoid" }

// Linear is the identity. Output layers that emit logits use it.
type Linear struct{}

func (Linear) Activate(x float64) float64   { return x }
func (Linear) Derivative(x float64) float64 { return 1 }
func (Linear) Name() string                 { return "linear" }

// ByName rebuilds an activation from its Name. alpha is only used by leaky_relu.
func ByName(name string, alpha float64) (Activation, error) {
	switch name {
	case "relu":
		return ReLU{}, nil
	case "leaky_relu":
		return NewLeakyReLU(alpha), nil
	case "sigmoid":
		return Sigmoid{}, nil
	case "linear", "":
		return Linear{}, nil
	default:
		return nil, errors.Errorf("unknown activation %q", name)
	}
}

// Alpha returns the negative slope of a LeakyReLU, or 0 for anything else.
func Alpha(act Activation) float64 {
	if l, ok := act.(*LeakyReLU); ok {
		return l.Alpha
	}
	return 0
}
