// Package synapse implements stateful convolutional synaptic cables whose
// kernels adapt through local, Hebbian-style learning rules rather than
// global backpropagation.
//
// A synapse owns its kernel, optional bias, and a set of transient
// compartments (inputs, outputs, pre, post, gradient slots) that the
// surrounding circuit clamps and reads between simulation steps:
//
//	syn, _ := synapse.NewHebbianConvSynapse(cfg)
//
//	syn.Inputs = batch            // clamped by the host
//	out, _ := syn.Forward(syn.Inputs)
//	syn.Outputs = out
//
//	syn.Pre, syn.Post = syn.Inputs, syn.Outputs
//	syn.Evolve()                  // local kernel/bias update
//	syn.Backtransmit()            // credit signal for the upstream unit
//	syn.Reset()                   // clear transient state between episodes
//
// The forward pass, the kernel-gradient contraction used by Evolve, and the
// transposed convolution used by Backtransmit are written by hand (no
// autodiff graph); a one-time shape-calibration probe at construction keeps
// the three numerically consistent under every stride/padding combination.
package synapse

import (
	"fmt"
	"math/rand"
)

// PaddingMode selects the pre-operator padding of the forward convolution.
type PaddingMode string

const (
	PaddingSame  PaddingMode = "SAME"
	PaddingValid PaddingMode = "VALID"
)

// SynapseShape describes a synaptic kernel:
// kernel height x kernel width x input channels x output channels.
// Kernels are assumed square (height == width). Immutable after construction.
type SynapseShape struct {
	KernelHeight int
	KernelWidth  int
	InChannels   int
	OutChannels  int
}

// Config holds the fixed hyperparameters of a convolutional synapse.
// All fields are read at construction and never change afterwards.
type Config struct {
	// Name identifies the synapse inside a circuit.
	Name string

	// Shape of the synaptic kernel.
	Shape SynapseShape

	// XSize is the spatial dimension of the (square) input signal.
	XSize int

	// BatchSize is the batch dimension of every signal through this synapse.
	BatchSize int

	// Eta is the global learning rate handed to the optimizer.
	Eta float32

	// FilterInit drives kernel initialization. Nil selects fan-in scaled
	// Gaussian initialization.
	FilterInit Initializer

	// BiasInit drives bias initialization. Nil disables biases entirely
	// for the synapse's lifetime.
	BiasInit Initializer

	// Stride of the forward convolution.
	Stride int

	// Padding mode, PaddingSame or PaddingValid.
	Padding PaddingMode

	// ResistScale is a fixed scaling factor applied to the synaptic
	// transform: out = conv(in, K) * ResistScale + b.
	ResistScale float32

	// WBound bounds kernel values after each update; 0 disables bounding.
	WBound float32

	// IsNonnegative clips bounded kernels to [0, WBound] instead of
	// [-WBound, WBound].
	IsNonnegative bool

	// WDecay is the L2-style decay applied to the kernel update; biases
	// are never decayed.
	WDecay float32

	// SignValue multiplies every computed update. -1 yields descent-style
	// updates compatible with gradient-descent optimizers; +1 keeps the
	// natural ascent form of a Hebbian rule. Other magnitudes scale the
	// update accordingly.
	SignValue float32

	// OptimType selects the optimizer: "sgd" or "adam".
	OptimType string

	// Seed drives the RNG used by the initializers.
	Seed int64
}

// withDefaults fills zero-valued fields with their documented defaults.
func (c Config) withDefaults() Config {
	if c.Stride == 0 {
		c.Stride = 1
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1
	}
	if c.ResistScale == 0 {
		c.ResistScale = 1
	}
	if c.SignValue == 0 {
		c.SignValue = 1
	}
	if c.Padding == "" {
		c.Padding = PaddingValid
	}
	if c.OptimType == "" {
		c.OptimType = "sgd"
	}
	return c
}

// validate rejects construction-time configurations the synapse cannot run.
func (c Config) validate() error {
	s := c.Shape
	if s.KernelHeight <= 0 || s.KernelWidth <= 0 || s.InChannels <= 0 || s.OutChannels <= 0 {
		return fmt.Errorf("%w: kernel shape %dx%dx%dx%d must be positive",
			ErrConfiguration, s.KernelHeight, s.KernelWidth, s.InChannels, s.OutChannels)
	}
	if s.KernelHeight != s.KernelWidth {
		return fmt.Errorf("%w: kernels must be square, got %dx%d",
			ErrConfiguration, s.KernelHeight, s.KernelWidth)
	}
	if c.XSize < s.KernelHeight {
		return fmt.Errorf("%w: input size %d smaller than kernel size %d",
			ErrConfiguration, c.XSize, s.KernelHeight)
	}
	if c.Stride < 1 {
		return fmt.Errorf("%w: stride %d", ErrConfiguration, c.Stride)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size %d", ErrConfiguration, c.BatchSize)
	}
	switch c.Padding {
	case PaddingSame, PaddingValid:
	default:
		return fmt.Errorf("%w: unsupported padding mode %q", ErrConfiguration, c.Padding)
	}
	return nil
}

// ConvSynapse is a convolutional synaptic cable: it owns a kernel, an
// optional bias, and the transient compartments the surrounding circuit
// clamps signals into. The forward transform is
// outputs = conv(inputs, Weights, stride, padding) * ResistScale + Biases.
type ConvSynapse struct {
	cfg Config

	// Derived spatial arithmetic, fixed at construction.
	outSize int
	pad     PadPair

	// Parameters. Weights is mutated only by Evolve; Biases is nil for the
	// synapse's lifetime when bias is disabled.
	Weights *Tensor
	Biases  *Tensor

	// Transient compartments. The host clamps Inputs/Pre/Post and reads
	// Outputs/DInputs/DWeights/DBiases; none survive a Reset.
	Inputs   *Tensor
	Outputs  *Tensor
	Pre      *Tensor
	Post     *Tensor
	DInputs  *Tensor
	DWeights *Tensor
	DBiases  *Tensor

	// T is the synapse's step clock, advanced by Step and zeroed by Reset.
	T  float32
	DT float32
}

// NewConvSynapse constructs the synapse state container and forward
// transform. Construction fails fast on any invalid configuration.
func NewConvSynapse(cfg Config) (*ConvSynapse, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	shape := cfg.Shape

	filterInit := cfg.FilterInit
	if filterInit == nil {
		filterInit = fanInInit(shape.InChannels * shape.KernelHeight * shape.KernelWidth)
	}
	kernelSize := shape.KernelHeight * shape.KernelWidth * shape.InChannels * shape.OutChannels
	weights := NewTensorFrom(filterInit(rng, kernelSize),
		shape.KernelHeight, shape.KernelWidth, shape.InChannels, shape.OutChannels)

	var biases *Tensor
	if cfg.BiasInit != nil {
		biases = NewTensorFrom(cfg.BiasInit(rng, shape.OutChannels), 1, shape.OutChannels)
	}

	var outSize int
	var pad PadPair
	switch cfg.Padding {
	case PaddingSame:
		outSize, pad = SamePadding(cfg.XSize, shape.KernelHeight, cfg.Stride)
	case PaddingValid:
		outSize, pad = ValidPadding(cfg.XSize, shape.KernelHeight, cfg.Stride)
	}

	s := &ConvSynapse{
		cfg:     cfg,
		outSize: outSize,
		pad:     pad,
		Weights: weights,
		Biases:  biases,
		DT:      1,
	}
	s.Reset()
	return s, nil
}

// Config returns the synapse's fixed construction-time configuration.
func (s *ConvSynapse) Config() Config { return s.cfg }

// Name returns the synapse's circuit name.
func (s *ConvSynapse) Name() string { return s.cfg.Name }

// OutSize returns the spatial dimension of the forward output.
func (s *ConvSynapse) OutSize() int { return s.outSize }

// InShape returns the shape of the input compartment.
func (s *ConvSynapse) InShape() []int {
	return []int{s.cfg.BatchSize, s.cfg.XSize, s.cfg.XSize, s.cfg.Shape.InChannels}
}

// OutShape returns the shape of the output compartment.
func (s *ConvSynapse) OutShape() []int {
	return []int{s.cfg.BatchSize, s.outSize, s.outSize, s.cfg.Shape.OutChannels}
}

// checkInput validates an incoming signal against the configured geometry.
func (s *ConvSynapse) checkInput(x *Tensor) error {
	if x == nil || len(x.Shape) != 4 {
		return fmt.Errorf("%w: inputs must be rank-4 [batch][h][w][channels]", ErrShapeMismatch)
	}
	if x.Shape[3] != s.cfg.Shape.InChannels {
		return fmt.Errorf("%w: inputs have %d channels, synapse expects %d",
			ErrShapeMismatch, x.Shape[3], s.cfg.Shape.InChannels)
	}
	if x.Shape[1] != s.cfg.XSize || x.Shape[2] != s.cfg.XSize {
		return fmt.Errorf("%w: inputs are %dx%d, synapse expects %dx%d",
			ErrShapeMismatch, x.Shape[1], x.Shape[2], s.cfg.XSize, s.cfg.XSize)
	}
	return nil
}

// Forward computes the synaptic transform of inputs. It has no side effects;
// the caller stores the result into the Outputs compartment.
func (s *ConvSynapse) Forward(inputs *Tensor) (*Tensor, error) {
	if err := s.checkInput(inputs); err != nil {
		return nil, err
	}

	out := Conv2D(inputs, s.Weights, s.cfg.Stride, s.pad)
	if s.cfg.ResistScale != 1 {
		out = out.Scale(s.cfg.ResistScale)
	}
	if s.Biases != nil {
		outC := s.cfg.Shape.OutChannels
		for i := range out.Data {
			out.Data[i] += s.Biases.Data[i%outC]
		}
	}
	return out, nil
}

// Step advances the synapse one simulation tick: it transforms the clamped
// Inputs compartment into Outputs and advances the step clock.
func (s *ConvSynapse) Step() error {
	out, err := s.Forward(s.Inputs)
	if err != nil {
		return err
	}
	s.Outputs = out
	s.T += s.DT
	return nil
}

// Reset zeroes every transient compartment and the step clock. The kernel,
// bias, and any cached calibration offsets are left untouched.
func (s *ConvSynapse) Reset() {
	in := NewTensor(s.InShape()...)
	out := NewTensor(s.OutShape()...)
	s.Inputs = in
	s.Outputs = out
	s.Pre = in.Clone()
	s.Post = out.Clone()
	s.DInputs = NewTensor(s.InShape()...)
	s.T = 0
}
