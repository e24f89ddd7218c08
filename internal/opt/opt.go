// Package opt provides optimization algorithms.
package opt

import "math"

// Optimizer updates network parameters based on gradients.
//
// Parameters are organised in groups (one per layer) so stateful
// optimizers can keep per-parameter moments between steps.
type Optimizer interface {
	// Step updates params in place from gradients.
	Step(group int, params, gradients []float64)

	LearningRate() float64
	SetLearningRate(lr float64)
}

// SGD (Stochastic Gradient Descent) optimizer with optional weight decay.
type SGD struct {
	LR          float64
	WeightDecay float64
}

// Step updates params in-place: params -= lr * (gradients + wd*params)
func (s *SGD) Step(group int, params, gradients []float64) {
	for i := range params {
		params[i] -= s.LR * (gradients[i] + s.WeightDecay*params[i])
	}
}

func (s *SGD) LearningRate() float64      { return s.LR }
func (s *SGD) SetLearningRate(lr float64) { s.LR = lr }

// Adam optimizer with the PyTorch update rule: bias-corrected moments and
// weight decay added to the gradient (not decoupled as in AdamW).
type Adam struct {
	LR          float64
	Beta1       float64 // Exponential decay rate for first moment
	Beta2       float64 // Exponential decay rate for second moment
	Epsilon     float64 // Small constant for numerical stability
	WeightDecay float64

	state map[int]*adamState
}

type adamState struct {
	step int
	m    []float64
	v    []float64
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam(learningRate, weightDecay float64) *Adam {
	return &Adam{
		LR:          learningRate,
		Beta1:       0.9,
		Beta2:       0.999,
		Epsilon:     1e-8,
		WeightDecay: weightDecay,
		state:       make(map[int]*adamState),
	}
}

// Step computes updated parameters using Adam.
func (a *Adam) Step(group int, params, gradients []float64) {
	if len(params) == 0 {
		return
	}
	if a.state == nil {
		a.state = make(map[int]*adamState)
	}
	st, ok := a.state[group]
	if !ok || len(st.m) != len(params) {
		st = &adamState{m: make([]float64, len(params)), v: make([]float64, len(params))}
		a.state[group] = st
	}
	st.step++

	bias1 := 1 - math.Pow(a.Beta1, float64(st.step))
	bias2 := 1 - math.Pow(a.Beta2, float64(st.step))
	stepSize := a.LR / bias1
	sqrtBias2 := math.Sqrt(bias2)

	for i, g := range gradients {
		if a.WeightDecay != 0 {
			g += a.WeightDecay * params[i]
		}
		st.m[i] = a.Beta1*st.m[i] + (1-a.Beta1)*g
		st.v[i] = a.Beta2*st.v[i] + (1-a.Beta2)*g*g
		denom := math.Sqrt(st.v[i])/sqrtBias2 + a.Epsilon
		params[i] -= stepSize * st.m[i] / denom
	}
}

func (a *Adam) LearningRate() float64      { return a.LR }
func (a *Adam) SetLearningRate(lr float64) { a.LR = lr }
