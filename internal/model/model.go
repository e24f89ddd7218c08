// Package model declares the binary classifiers trained on windows of the
// 8x8 BES sensor grid. Each builder returns a network whose input is
// (1, LookBack, 8, 8) and whose single output is a logit, or a probability
// when UseSigmoid is set.
package model

import (
	"io"
	"math/rand"
	"sort"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/besnet/internal/activations"
	"github.com/FlavioCFOliveira/besnet/internal/layer"
	"github.com/FlavioCFOliveira/besnet/internal/net"
)

// GridSize is the side of the square sensor array.
const GridSize = 8

// Architecture names accepted by Build.
const (
	CNNName       = "cnn"
	DensePoolName = "dense_pool"
	FeatureName   = "feature"
)

// Options are the hyperparameters shared by the architectures. Fields an
// architecture does not use are ignored.
type Options struct {
	LookBack    int     `yaml:"lookback" msgpack:"lookback" json:"lookback"`
	ConvSize    int     `yaml:"conv_size" msgpack:"conv_size" json:"conv_size"`
	CNNLayers   []int   `yaml:"cnn_layers" msgpack:"cnn_layers" json:"cnn_layers"`
	PoolSize    int     `yaml:"pool_size" msgpack:"pool_size" json:"pool_size"`
	NoPool      bool    `yaml:"no_pool" msgpack:"no_pool" json:"no_pool"`
	Filters     int     `yaml:"filters" msgpack:"filters" json:"filters"`
	DenseLayers []int   `yaml:"dense_layers" msgpack:"dense_layers" json:"dense_layers"`
	DropoutRate float64 `yaml:"dropout_rate" msgpack:"dropout_rate" json:"dropout_rate"`
	L2Factor    float64 `yaml:"l2_factor" msgpack:"l2_factor" json:"l2_factor"`
	LeakySlope  float64 `yaml:"relu_negative_slope" msgpack:"relu_negative_slope" json:"relu_negative_slope"`
	UseSigmoid  bool    `yaml:"use_sigmoid" msgpack:"use_sigmoid" json:"use_sigmoid"`
	Seed        int64   `yaml:"seed" msgpack:"seed" json:"seed"`
}

// Builder constructs a network from options.
type Builder func(Options) (*net.Sequential, error)

var registry = map[string]struct {
	build    Builder
	defaults Options
}{
	CNNName: {CNN, Options{
		LookBack:    8,
		ConvSize:    3,
		CNNLayers:   []int{4, 8},
		DenseLayers: []int{40, 20},
		DropoutRate: 0.2,
		L2Factor:    5e-3,
		LeakySlope:  0.02,
	}},
	DensePoolName: {DensePool, Options{
		LookBack:    8,
		PoolSize:    2,
		Filters:     10,
		DenseLayers: []int{40, 20},
		DropoutRate: 0.2,
		L2Factor:    5e-3,
		LeakySlope:  0.02,
	}},
	FeatureName: {Feature, Options{
		LookBack:    16,
		Filters:     10,
		DenseLayers: []int{32, 16},
		DropoutRate: 0.3,
		LeakySlope:  0.02,
	}},
}

// Names lists the registered architectures.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the default options of an architecture.
func Defaults(name string) (Options, error) {
	r, ok := registry[name]
	if !ok {
		return Options{}, errors.Errorf("unknown model %q (known: %v)", name, Names())
	}
	o := r.defaults
	o.CNNLayers = append([]int(nil), o.CNNLayers...)
	o.DenseLayers = append([]int(nil), o.DenseLayers...)
	return o, nil
}

// Build constructs the named architecture.
func Build(name string, opts Options) (*net.Sequential, error) {
	r, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown model %q (known: %v)", name, Names())
	}
	if err := opts.validate(); err != nil {
		return nil, errors.Wrapf(err, "model %s", name)
	}
	m, err := r.build(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", name)
	}
	return m, nil
}

// Describe builds the named architecture and writes its summary to w.
func Describe(w io.Writer, name string, opts Options) (*net.Sequential, error) {
	m, err := Build(name, opts)
	if err != nil {
		return nil, err
	}
	m.Summary(w)
	return m, nil
}

func (o Options) validate() error {
	if o.LookBack <= 0 {
		return errors.Errorf("lookback must be positive, got %d", o.LookBack)
	}
	if o.DropoutRate < 0 || o.DropoutRate >= 1 {
		return errors.Errorf("dropout rate must be in [0, 1), got %v", o.DropoutRate)
	}
	if o.L2Factor < 0 {
		return errors.Errorf("l2 factor must not be negative, got %v", o.L2Factor)
	}
	for _, n := range o.DenseLayers {
		if n <= 0 {
			return errors.Errorf("dense layer sizes must be positive, got %v", o.DenseLayers)
		}
	}
	return nil
}

// InputShape is the network input for a window of lookBack time points.
func InputShape(lookBack int) layer.Shape {
	return layer.Shape{C: 1, D: lookBack, H: GridSize, W: GridSize}
}

// builder accumulates layers and tracks the running output shape.
type builder struct {
	opts   Options
	rng    *rand.Rand
	layers []layer.Layer
	shape  layer.Shape
}

func newBuilder(opts Options) *builder {
	return &builder{
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed)),
		shape: InputShape(opts.LookBack),
	}
}

func (b *builder) add(l layer.Layer) {
	b.layers = append(b.layers, l)
	b.shape = l.OutShape()
}

func (b *builder) leaky() activations.Activation {
	return activations.NewLeakyReLU(b.opts.LeakySlope)
}

func (b *builder) conv(filters int, kernel, stride [3]int) error {
	c, err := layer.NewConv3D(b.shape, filters, kernel, stride, b.leaky(), b.rng)
	if err != nil {
		return err
	}
	c.SetL2(b.opts.L2Factor)
	b.add(c)
	b.dropout()
	return nil
}

func (b *builder) dropout() {
	if b.opts.DropoutRate > 0 {
		b.add(layer.NewDropout(b.opts.DropoutRate, b.shape, b.rng))
	}
}

func (b *builder) flatten() {
	b.add(layer.NewFlatten(b.shape))
}

// fullyConnected adds the hidden dense stack with dropout and the final
// single-unit classification layer.
func (b *builder) fullyConnected() error {
	for _, size := range b.opts.DenseLayers {
		d, err := layer.NewDense(b.shape.Size(), size, b.leaky(), b.rng)
		if err != nil {
			return err
		}
		d.SetL2(b.opts.L2Factor)
		b.add(d)
		b.dropout()
	}

	var out activations.Activation = activations.Linear{}
	if b.opts.UseSigmoid {
		out = activations.Sigmoid{}
	}
	d, err := layer.NewDense(b.shape.Size(), 1, out, b.rng)
	if err != nil {
		return err
	}
	b.add(d)
	return nil
}

func (b *builder) finish(name string) (*net.Sequential, error) {
	return net.NewSequential(name, b.layers...)
}

// CNN is a stack of 3D convolutions followed by fully connected layers.
// The first convolution spans the whole lookback window; later ones are
// purely spatial.
func CNN(opts Options) (*net.Sequential, error) {
	if len(opts.CNNLayers) == 0 {
		return nil, errors.New("cnn: at least one conv layer is required")
	}
	if opts.ConvSize <= 0 {
		return nil, errors.Errorf("cnn: conv size must be positive, got %d", opts.ConvSize)
	}

	b := newBuilder(opts)
	for i, filters := range opts.CNNLayers {
		kernel := [3]int{1, opts.ConvSize, opts.ConvSize}
		if i == 0 {
			kernel[0] = opts.LookBack
		}
		if err := b.conv(filters, kernel, [3]int{1, 1, 1}); err != nil {
			return nil, errors.Wrapf(err, "conv layer %d", i)
		}
	}
	b.flatten()
	if err := b.fullyConnected(); err != nil {
		return nil, err
	}
	return b.finish(CNNName)
}

// DensePool optionally max-pools over the spatial dimensions, then applies
// Filters kernels that each cover the whole remaining volume, which makes
// them a dense layer with a 3D receptive field.
func DensePool(opts Options) (*net.Sequential, error) {
	if opts.Filters <= 0 {
		return nil, errors.Errorf("dense_pool: filters must be positive, got %d", opts.Filters)
	}

	b := newBuilder(opts)
	if !opts.NoPool {
		if opts.PoolSize <= 0 || GridSize%opts.PoolSize != 0 {
			return nil, errors.Errorf("dense_pool: pool size %d must divide the grid size %d", opts.PoolSize, GridSize)
		}
		p, err := layer.NewMaxPool3D(b.shape, [3]int{1, opts.PoolSize, opts.PoolSize})
		if err != nil {
			return nil, err
		}
		b.add(p)
	}

	full := [3]int{b.shape.D, b.shape.H, b.shape.W}
	if err := b.conv(opts.Filters, full, full); err != nil {
		return nil, err
	}
	b.flatten()
	if err := b.fullyConnected(); err != nil {
		return nil, err
	}
	return b.finish(DensePoolName)
}

// Feature is the feature-extraction network used by the training driver:
// a single full-window convolution producing Filters features, followed by
// the fully connected head.
func Feature(opts Options) (*net.Sequential, error) {
	if opts.Filters <= 0 {
		return nil, errors.Errorf("feature: filters must be positive, got %d", opts.Filters)
	}

	b := newBuilder(opts)
	if err := b.conv(opts.Filters, [3]int{opts.LookBack, GridSize, GridSize}, [3]int{1, 1, 1}); err != nil {
		return nil, err
	}
	b.flatten()
	if err := b.fullyConnected(); err != nil {
		return nil, err
	}
	return b.finish(FeatureName)
}
