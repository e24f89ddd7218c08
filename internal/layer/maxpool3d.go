package layer

import (
	"math"

	"github.com/pkg/errors"
)

// MaxPool3D implements non-overlapping 3D max pooling (stride equals the pool size).
// Stores argmax indices for correct gradient flow during backward pass.
type MaxPool3D struct {
	in   Shape
	out  Shape
	pool [3]int

	outputBuf []float64
	gradInBuf []float64
	argmaxBuf []int
}

// NewMaxPool3D creates a max pooling layer with pool extent (depth, height, width).
// Every input dimension must be divisible by the matching pool extent.
func NewMaxPool3D(in Shape, pool [3]int) (*MaxPool3D, error) {
	if !in.valid() {
		return nil, errors.Errorf("maxpool3d: invalid input shape %v", in)
	}
	dims := [3]int{in.D, in.H, in.W}
	for i, p := range pool {
		if p <= 0 {
			return nil, errors.Errorf("maxpool3d: pool %v must be positive", pool)
		}
		if dims[i]%p != 0 {
			return nil, errors.Errorf("maxpool3d: input %v not divisible by pool %v", in, pool)
		}
	}
	out := Shape{C: in.C, D: in.D / pool[0], H: in.H / pool[1], W: in.W / pool[2]}
	return &MaxPool3D{
		in:        in,
		out:       out,
		pool:      pool,
		outputBuf: make([]float64, out.Size()),
		gradInBuf: make([]float64, in.Size()),
		argmaxBuf: make([]int, out.Size()),
	}, nil
}

// Forward takes the maximum over each pooling window.
func (m *MaxPool3D) Forward(input []float64) []float64 {
	pd, ph, pw := m.pool[0], m.pool[1], m.pool[2]
	in, out := m.in, m.out

	pos := 0
	for ch := 0; ch < out.C; ch++ {
		for od := 0; od < out.D; od++ {
			for oh := 0; oh < out.H; oh++ {
				for ow := 0; ow < out.W; ow++ {
					best := math.Inf(-1)
					bestIdx := -1
					for i := 0; i < pd; i++ {
						for j := 0; j < ph; j++ {
							row := ((ch*in.D+od*pd+i)*in.H+oh*ph+j)*in.W + ow*pw
							for k := 0; k < pw; k++ {
								if v := input[row+k]; v > best || bestIdx < 0 {
									best = v
									bestIdx = row + k
								}
							}
						}
					}
					m.outputBuf[pos] = best
					m.argmaxBuf[pos] = bestIdx
					pos++
				}
			}
		}
	}
	return m.outputBuf
}

// Backward routes each output gradient to the input that won the max.
func (m *MaxPool3D) Backward(grad []float64) []float64 {
	for i := range m.gradInBuf {
		m.gradInBuf[i] = 0
	}
	for pos, idx := range m.argmaxBuf {
		m.gradInBuf[idx] += grad[pos]
	}
	return m.gradInBuf
}

// MaxPool3D has no learnable parameters.
func (m *MaxPool3D) Params() []float64    { return nil }
func (m *MaxPool3D) Gradients() []float64 { return nil }
func (m *MaxPool3D) ZeroGrad()            {}

func (m *MaxPool3D) InShape() Shape  { return m.in }
func (m *MaxPool3D) OutShape() Shape { return m.out }
func (m *MaxPool3D) Name() string    { return "MaxPool3D" }

func (m *MaxPool3D) Clone() Layer {
	c, _ := NewMaxPool3D(m.in, m.pool)
	return c
}
