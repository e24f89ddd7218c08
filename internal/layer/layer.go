// Package layer provides neural network layer implementations.
//
// Layers process one sample at a time on flat, channel-first buffers.
// Forward returns a buffer owned by the layer; it stays valid until the
// next Forward call. Backward accumulates parameter gradients, so callers
// must ZeroGrad between optimizer steps.
package layer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/besnet/internal/activations"
)

// Layer is a neural network layer.
type Layer interface {
	Forward(x []float64) []float64
	Backward(grad []float64) []float64

	// Params and Gradients alias the layer storage, weights first then biases.
	Params() []float64
	Gradients() []float64
	ZeroGrad()

	InShape() Shape
	OutShape() Shape

	// Clone returns a copy with identical parameters and private buffers.
	Clone() Layer
	Name() string
}

// Trainer is implemented by layers that behave differently while training.
type Trainer interface {
	SetTraining(training bool)
}

// Regularized is implemented by layers carrying an L2 penalty on all of
// their parameters (weights and biases).
type Regularized interface {
	L2() float64
}

// Shape describes a channel-first volume: channels, depth (time), height, width.
type Shape struct {
	C, D, H, W int
}

// Vector is the shape of a flat feature vector of length n.
func Vector(n int) Shape {
	return Shape{C: n, D: 1, H: 1, W: 1}
}

// Size returns the number of values in the volume.
func (s Shape) Size() int {
	return s.C * s.D * s.H * s.W
}

func (s Shape) valid() bool {
	return s.C > 0 && s.D > 0 && s.H > 0 && s.W > 0
}

func (s Shape) String() string {
	if s.D == 1 && s.H == 1 && s.W == 1 {
		return fmt.Sprintf("(%d)", s.C)
	}
	return fmt.Sprintf("(%d, %d, %d, %d)", s.C, s.D, s.H, s.W)
}

// Dense is a fully connected layer.
type Dense struct {
	// params holds weights [out*in] (row-major, weight for output o and
	// input i at o*in+i) followed by biases [out].
	params  []float64
	grads   []float64
	act     activations.Activation
	inSize  int
	outSize int
	l2      float64

	inputBuf  []float64
	preActBuf []float64
	outputBuf []float64
	gradInBuf []float64
}

// NewDense creates a dense layer with Xavier/Glorot initialization.
func NewDense(in, out int, act activations.Activation, rng *rand.Rand) (*Dense, error) {
	if in <= 0 || out <= 0 {
		return nil, errors.Errorf("dense: invalid size %dx%d", in, out)
	}
	d := newDense(in, out, act)

	scale := math.Sqrt(6.0 / (float64(in) + float64(out)))
	weights := d.params[:in*out]
	for i := range weights {
		weights[i] = rng.Float64()*2*scale - scale
	}
	return d, nil
}

func newDense(in, out int, act activations.Activation) *Dense {
	return &Dense{
		params:    make([]float64, out*in+out),
		grads:     make([]float64, out*in+out),
		act:       act,
		inSize:    in,
		outSize:   out,
		inputBuf:  make([]float64, in),
		preActBuf: make([]float64, out),
		outputBuf: make([]float64, out),
		gradInBuf: make([]float64, in),
	}
}

// SetL2 sets the L2 regularization factor.
func (d *Dense) SetL2(factor float64) { d.l2 = factor }

// L2 returns the L2 regularization factor.
func (d *Dense) L2() float64 { return d.l2 }

// Forward computes act(Wx + b).
func (d *Dense) Forward(x []float64) []float64 {
	copy(d.inputBuf, x)

	inSize := d.inSize
	weights := d.params[:d.outSize*inSize]
	biases := d.params[d.outSize*inSize:]
	for o := 0; o < d.outSize; o++ {
		sum := biases[o]
		row := weights[o*inSize : (o+1)*inSize]
		for i, w := range row {
			sum += w * d.inputBuf[i]
		}
		d.preActBuf[o] = sum
		d.outputBuf[o] = d.act.Activate(sum)
	}
	return d.outputBuf
}

// Backward accumulates dL/dW and dL/db and returns dL/dx.
func (d *Dense) Backward(grad []float64) []float64 {
	inSize := d.inSize
	nw := d.outSize * inSize
	weights := d.params[:nw]
	gradW := d.grads[:nw]
	gradB := d.grads[nw:]

	for i := range d.gradInBuf {
		d.gradInBuf[i] = 0
	}
	for o := 0; o < d.outSize; o++ {
		dz := grad[o] * d.act.Derivative(d.preActBuf[o])
		gradB[o] += dz
		base := o * inSize
		for i := 0; i < inSize; i++ {
			gradW[base+i] += dz * d.inputBuf[i]
			d.gradInBuf[i] += dz * weights[base+i]
		}
	}
	return d.gradInBuf
}

func (d *Dense) Params() []float64    { return d.params }
func (d *Dense) Gradients() []float64 { return d.grads }

func (d *Dense) ZeroGrad() {
	for i := range d.grads {
		d.grads[i] = 0
	}
}

func (d *Dense) InShape() Shape  { return Vector(d.inSize) }
func (d *Dense) OutShape() Shape { return Vector(d.outSize) }
func (d *Dense) Name() string    { return "Dense" }

// Clone returns a deep copy of the layer.
func (d *Dense) Clone() Layer {
	c := newDense(d.inSize, d.outSize, d.act)
	copy(c.params, d.params)
	c.l2 = d.l2
	return c
}

// GetWeight gets a single weight at (row, col).
func (d *Dense) GetWeight(row, col int) float64 {
	return d.params[row*d.inSize+col]
}

// SetWeight sets a single weight at (row, col).
func (d *Dense) SetWeight(row, col int, val float64) {
	d.params[row*d.inSize+col] = val
}

// SetBias sets a single bias.
func (d *Dense) SetBias(idx int, val float64) {
	d.params[d.outSize*d.inSize+idx] = val
}
