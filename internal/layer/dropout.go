package layer

import "math/rand"

// Dropout implements inverted dropout regularization.
// During training, randomly sets inputs to 0 with probability rate and
// scales the survivors by 1/(1-rate). During inference, passes inputs
// through unchanged.
type Dropout struct {
	rate     float64
	shape    Shape
	training bool
	rng      *rand.Rand

	maskBuf   []float64
	outputBuf []float64
	gradInBuf []float64
}

// NewDropout creates a new dropout layer in training mode.
func NewDropout(rate float64, shape Shape, rng *rand.Rand) *Dropout {
	n := shape.Size()
	return &Dropout{
		rate:      rate,
		shape:     shape,
		training:  true,
		rng:       rng,
		maskBuf:   make([]float64, n),
		outputBuf: make([]float64, n),
		gradInBuf: make([]float64, n),
	}
}

// SetTraining sets whether the layer should be in training or inference mode.
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

// IsTraining returns whether the layer is in training mode.
func (d *Dropout) IsTraining() bool {
	return d.training
}

// Rate returns the drop probability.
func (d *Dropout) Rate() float64 { return d.rate }

// Forward performs a forward pass through the dropout layer.
func (d *Dropout) Forward(x []float64) []float64 {
	if !d.training || d.rate <= 0 {
		for i := range d.maskBuf {
			d.maskBuf[i] = 1
		}
		copy(d.outputBuf, x)
		return d.outputBuf
	}

	scale := 1.0 / (1.0 - d.rate)
	for i, v := range x {
		if d.rng.Float64() < d.rate {
			d.maskBuf[i] = 0
			d.outputBuf[i] = 0
		} else {
			d.maskBuf[i] = scale
			d.outputBuf[i] = v * scale
		}
	}
	return d.outputBuf
}

// Backward applies the mask from the last forward pass.
func (d *Dropout) Backward(grad []float64) []float64 {
	for i, g := range grad {
		d.gradInBuf[i] = g * d.maskBuf[i]
	}
	return d.gradInBuf
}

// Dropout has no learnable parameters.
func (d *Dropout) Params() []float64    { return nil }
func (d *Dropout) Gradients() []float64 { return nil }
func (d *Dropout) ZeroGrad()            {}

func (d *Dropout) InShape() Shape  { return d.shape }
func (d *Dropout) OutShape() Shape { return d.shape }
func (d *Dropout) Name() string    { return "Dropout" }

// Clone returns a copy with its own mask stream derived from this layer's RNG.
func (d *Dropout) Clone() Layer {
	c := NewDropout(d.rate, d.shape, rand.New(rand.NewSource(d.rng.Int63())))
	c.training = d.training
	return c
}
