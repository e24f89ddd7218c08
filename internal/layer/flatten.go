package layer

// Flatten reshapes a volume into a feature vector.
// The buffers are already flat, so data passes through untouched.
type Flatten struct {
	in Shape
}

// NewFlatten creates a flatten layer for the given input shape.
func NewFlatten(in Shape) *Flatten {
	return &Flatten{in: in}
}

func (f *Flatten) Forward(x []float64) []float64    { return x }
func (f *Flatten) Backward(grad []float64) []float64 { return grad }

func (f *Flatten) Params() []float64    { return nil }
func (f *Flatten) Gradients() []float64 { return nil }
func (f *Flatten) ZeroGrad()            {}

func (f *Flatten) InShape() Shape  { return f.in }
func (f *Flatten) OutShape() Shape { return Vector(f.in.Size()) }
func (f *Flatten) Name() string    { return "Flatten" }
func (f *Flatten) Clone() Layer    { return NewFlatten(f.in) }
