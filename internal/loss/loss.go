// Package loss provides binary classification loss functions.
package loss

import (
	"math"

	"github.com/FlavioCFOliveira/besnet/internal/activations"
)

// BackwardInPlacer is an optional interface for loss functions that support
// in-place gradient computation to avoid allocations.
type BackwardInPlacer interface {
	BackwardInPlace(yPred, yTrue, grad []float64)
}

// Loss is a loss function with derivative.
type Loss interface {
	// Forward computes the loss between predicted and true values.
	Forward(yPred, yTrue []float64) float64

	// Backward computes the gradient of the loss w.r.t. prediction.
	// This creates a new slice and should be avoided in hot loops.
	Backward(yPred, yTrue []float64) []float64
}

// softplus computes log(1 + exp(z)) without overflow.
func softplus(z float64) float64 {
	return math.Max(z, 0) + math.Log1p(math.Exp(-math.Abs(z)))
}

// BCEWithLogits combines a sigmoid with binary cross entropy for numerical
// stability. PosWeight multiplies the loss of positive targets, the way
// torch.nn.BCEWithLogitsLoss(pos_weight=...) does; zero means 1.
type BCEWithLogits struct {
	PosWeight float64
}

// NewBCEWithLogits creates the loss with the given positive class weight.
func NewBCEWithLogits(posWeight float64) BCEWithLogits {
	return BCEWithLogits{PosWeight: posWeight}
}

func (b BCEWithLogits) weight() float64 {
	if b.PosWeight == 0 {
		return 1
	}
	return b.PosWeight
}

// Forward computes mean(-[w*y*log(sigmoid(x)) + (1-y)*log(1-sigmoid(x))]).
// Uses log(sigmoid(x)) = -softplus(-x) and log(1-sigmoid(x)) = -softplus(x).
func (b BCEWithLogits) Forward(yPred, yTrue []float64) float64 {
	n := len(yPred)
	if n != len(yTrue) {
		panic("BCEWithLogits: prediction and target must have same length")
	}

	w := b.weight()
	var sum float64
	for i := 0; i < n; i++ {
		x, y := yPred[i], yTrue[i]
		sum += w*y*softplus(-x) + (1-y)*softplus(x)
	}
	return sum / float64(n)
}

// Backward computes gradient for BCEWithLogits.
// Gradient is: (sigmoid(x)*(w*y + 1 - y) - w*y) / n
func (b BCEWithLogits) Backward(yPred, yTrue []float64) []float64 {
	grad := make([]float64, len(yPred))
	b.BackwardInPlace(yPred, yTrue, grad)
	return grad
}

// BackwardInPlace computes gradient and stores it in the grad slice.
func (b BCEWithLogits) BackwardInPlace(yPred, yTrue, grad []float64) {
	n := len(yPred)
	if n != len(yTrue) || n != len(grad) {
		panic("BCEWithLogits: slices must have same length")
	}

	w := b.weight()
	for i := 0; i < n; i++ {
		s := activations.Logistic(yPred[i])
		y := yTrue[i]
		grad[i] = (s*(w*y+1-y) - w*y) / float64(n)
	}
}

// BCE is binary cross entropy on probabilities in (0, 1), for models whose
// output layer already applies a sigmoid.
type BCE struct {
	PosWeight float64
}

const bceEps = 1e-7

func clip(p float64) float64 {
	return math.Min(math.Max(p, bceEps), 1-bceEps)
}

// Forward computes mean(-[w*y*log(p) + (1-y)*log(1-p)]).
func (b BCE) Forward(yPred, yTrue []float64) float64 {
	n := len(yPred)
	if n != len(yTrue) {
		panic("BCE: prediction and target must have same length")
	}

	w := BCEWithLogits(b).weight()
	var sum float64
	for i := 0; i < n; i++ {
		p, y := clip(yPred[i]), yTrue[i]
		sum += -(w*y*math.Log(p) + (1-y)*math.Log(1-p))
	}
	return sum / float64(n)
}

// Backward computes gradient for BCE loss.
func (b BCE) Backward(yPred, yTrue []float64) []float64 {
	grad := make([]float64, len(yPred))
	b.BackwardInPlace(yPred, yTrue, grad)
	return grad
}

// BackwardInPlace computes gradient and stores it in the grad slice.
func (b BCE) BackwardInPlace(yPred, yTrue, grad []float64) {
	n := len(yPred)
	if n != len(yTrue) || n != len(grad) {
		panic("BCE: slices must have same length")
	}

	w := BCEWithLogits(b).weight()
	for i := 0; i < n; i++ {
		p, y := clip(yPred[i]), yTrue[i]
		grad[i] = (-w*y/p + (1-y)/(1-p)) / float64(n)
	}
}
