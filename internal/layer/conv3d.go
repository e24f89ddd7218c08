package layer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/besnet/internal/activations"
)

// Conv3D implements a valid (unpadded) 3D convolution over (depth, height, width).
// Uses direct convolution computation; the volumes involved are small.
type Conv3D struct {
	in      Shape
	out     Shape
	filters int
	kernel  [3]int
	stride  [3]int
	act     activations.Activation
	l2      float64

	// params holds weights [filters, in.C, kd, kh, kw] followed by biases [filters].
	params []float64
	grads  []float64

	savedInput []float64
	preActBuf  []float64
	outputBuf  []float64
	gradInBuf  []float64
}

// NewConv3D creates a 3D convolutional layer.
// kernel and stride are given as (depth, height, width).
func NewConv3D(in Shape, filters int, kernel, stride [3]int, act activations.Activation, rng *rand.Rand) (*Conv3D, error) {
	c, err := newConv3D(in, filters, kernel, stride, act)
	if err != nil {
		return nil, err
	}

	// He initialization (better for ReLU)
	fanIn := in.C * kernel[0] * kernel[1] * kernel[2]
	scale := math.Sqrt(6.0 / float64(fanIn))
	weights := c.params[:c.numWeights()]
	for i := range weights {
		weights[i] = rng.Float64()*2*scale - scale
	}
	return c, nil
}

func newConv3D(in Shape, filters int, kernel, stride [3]int, act activations.Activation) (*Conv3D, error) {
	if !in.valid() {
		return nil, errors.Errorf("conv3d: invalid input shape %v", in)
	}
	if filters <= 0 {
		return nil, errors.Errorf("conv3d: filters must be positive, got %d", filters)
	}
	dims := [3]int{in.D, in.H, in.W}
	var outDims [3]int
	for i := range dims {
		if kernel[i] <= 0 || stride[i] <= 0 {
			return nil, errors.Errorf("conv3d: kernel %v and stride %v must be positive", kernel, stride)
		}
		if kernel[i] > dims[i] {
			return nil, errors.Errorf("conv3d: kernel %v larger than input %v", kernel, in)
		}
		outDims[i] = (dims[i]-kernel[i])/stride[i] + 1
	}

	c := &Conv3D{
		in:      in,
		out:     Shape{C: filters, D: outDims[0], H: outDims[1], W: outDims[2]},
		filters: filters,
		kernel:  kernel,
		stride:  stride,
		act:     act,
	}
	n := c.numWeights() + filters
	c.params = make([]float64, n)
	c.grads = make([]float64, n)
	c.savedInput = make([]float64, in.Size())
	c.preActBuf = make([]float64, c.out.Size())
	c.outputBuf = make([]float64, c.out.Size())
	c.gradInBuf = make([]float64, in.Size())
	return c, nil
}

func (c *Conv3D) numWeights() int {
	return c.filters * c.in.C * c.kernel[0] * c.kernel[1] * c.kernel[2]
}

// SetL2 sets the L2 regularization factor.
func (c *Conv3D) SetL2(factor float64) { c.l2 = factor }

// L2 returns the L2 regularization factor.
func (c *Conv3D) L2() float64 { return c.l2 }

// Forward performs a forward pass through the convolutional layer.
// input: flattened [C, D, H, W]
// Returns: flattened [filters, outD, outH, outW]
func (c *Conv3D) Forward(input []float64) []float64 {
	if len(input) != c.in.Size() {
		panic(fmt.Sprintf("Conv3D: input length %d does not match shape %v", len(input), c.in))
	}
	copy(c.savedInput, input)

	kd, kh, kw := c.kernel[0], c.kernel[1], c.kernel[2]
	sd, sh, sw := c.stride[0], c.stride[1], c.stride[2]
	in, out := c.in, c.out
	kernelVol := kd * kh * kw
	weights := c.params[:c.numWeights()]
	biases := c.params[c.numWeights():]

	pos := 0
	for f := 0; f < c.filters; f++ {
		fBase := f * in.C * kernelVol
		for od := 0; od < out.D; od++ {
			for oh := 0; oh < out.H; oh++ {
				for ow := 0; ow < out.W; ow++ {
					sum := biases[f]
					for ch := 0; ch < in.C; ch++ {
						wBase := fBase + ch*kernelVol
						for i := 0; i < kd; i++ {
							d := od*sd + i
							for j := 0; j < kh; j++ {
								h := oh*sh + j
								rowBase := ((ch*in.D+d)*in.H+h)*in.W + ow*sw
								kBase := wBase + (i*kh+j)*kw
								for k := 0; k < kw; k++ {
									sum += weights[kBase+k] * input[rowBase+k]
								}
							}
						}
					}
					c.preActBuf[pos] = sum
					c.outputBuf[pos] = c.act.Activate(sum)
					pos++
				}
			}
		}
	}
	return c.outputBuf
}

// Backward performs backpropagation through the convolutional layer.
// grad: gradient of loss w.r.t. activated output
// Returns: gradient of loss w.r.t. input
func (c *Conv3D) Backward(grad []float64) []float64 {
	kd, kh, kw := c.kernel[0], c.kernel[1], c.kernel[2]
	sd, sh, sw := c.stride[0], c.stride[1], c.stride[2]
	in, out := c.in, c.out
	kernelVol := kd * kh * kw
	nw := c.numWeights()
	weights := c.params[:nw]
	gradW := c.grads[:nw]
	gradB := c.grads[nw:]

	for i := range c.gradInBuf {
		c.gradInBuf[i] = 0
	}

	pos := 0
	for f := 0; f < c.filters; f++ {
		fBase := f * in.C * kernelVol
		for od := 0; od < out.D; od++ {
			for oh := 0; oh < out.H; oh++ {
				for ow := 0; ow < out.W; ow++ {
					dz := grad[pos] * c.act.Derivative(c.preActBuf[pos])
					pos++
					if dz == 0 {
						continue
					}
					gradB[f] += dz
					for ch := 0; ch < in.C; ch++ {
						wBase := fBase + ch*kernelVol
						for i := 0; i < kd; i++ {
							d := od*sd + i
							for j := 0; j < kh; j++ {
								h := oh*sh + j
								rowBase := ((ch*in.D+d)*in.H+h)*in.W + ow*sw
								kBase := wBase + (i*kh+j)*kw
								for k := 0; k < kw; k++ {
									gradW[kBase+k] += dz * c.savedInput[rowBase+k]
									c.gradInBuf[rowBase+k] += dz * weights[kBase+k]
								}
							}
						}
					}
				}
			}
		}
	}
	return c.gradInBuf
}

func (c *Conv3D) Params() []float64    { return c.params }
func (c *Conv3D) Gradients() []float64 { return c.grads }

// ZeroGrad zeroes out the accumulated gradients.
func (c *Conv3D) ZeroGrad() {
	for i := range c.grads {
		c.grads[i] = 0
	}
}

func (c *Conv3D) InShape() Shape  { return c.in }
func (c *Conv3D) OutShape() Shape { return c.out }
func (c *Conv3D) Name() string    { return "Conv3D" }

// Kernel returns the kernel extent as (depth, height, width).
func (c *Conv3D) Kernel() [3]int { return c.kernel }

// Clone creates a deep copy of the convolutional layer.
func (c *Conv3D) Clone() Layer {
	// Shape was validated when c was built.
	n, _ := newConv3D(c.in, c.filters, c.kernel, c.stride, c.act)
	copy(n.params, c.params)
	n.l2 = c.l2
	return n
}
