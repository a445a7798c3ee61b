package synapse

import "fmt"

// HebbianConvSynapse is a convolutional synaptic cable whose kernel evolves
// through a local Hebbian-style rule: the update is a convolution-like
// contraction of whatever pre/post-synaptic signals the circuit clamps into
// the Pre and Post compartments, composed with sign, decay, optimizer, and
// bound-projection policies. Backtransmit produces the credit signal for the
// upstream unit via a transposed convolution, so credit propagates backward
// without a differentiation graph.
type HebbianConvSynapse struct {
	ConvSynapse

	opt Optimizer

	// Calibrated shape corrections, computed once at construction.
	deltaShape  DeltaShape
	xDeltaShape DeltaShape
}

// NewHebbianConvSynapse constructs a Hebbian-evolved convolutional synapse.
// Beyond the base state container this runs the one-time shape-calibration
// probe and seeds the optimizer from the kernel (and bias, if enabled).
func NewHebbianConvSynapse(cfg Config) (*HebbianConvSynapse, error) {
	base, err := NewConvSynapse(cfg)
	if err != nil {
		return nil, err
	}
	cfg = base.cfg

	opt, err := NewOptimizer(cfg.OptimType, cfg.Eta)
	if err != nil {
		return nil, err
	}

	s := &HebbianConvSynapse{
		ConvSynapse: *base,
		opt:         opt,
	}
	s.DWeights = ZerosLike(s.Weights)
	if s.Biases != nil {
		s.DBiases = ZerosLike(s.Biases)
	}
	s.calibrate()
	return s, nil
}

// calibrate performs the one-time shape-correction dry run: a zero-valued
// input and a zero-valued error tensor of the forward output's shape are
// pushed through both gradient primitives, and the signed differences
// between what they produce and what the live kernel/input require are
// cached for every subsequent Evolve/Backtransmit call.
func (s *HebbianConvSynapse) calibrate() {
	x := NewTensor(s.InShape()...)
	d := Conv2D(x, s.Weights, s.cfg.Stride, s.pad)

	dK := convKernelGradRaw(x, d, s.cfg.Stride, s.pad)
	s.deltaShape = DeltaShape{
		DX: dK.Shape[0] - s.Weights.Shape[0],
		DY: dK.Shape[1] - s.Weights.Shape[1],
	}

	dX := convInputGradRaw(s.Weights, d, s.cfg.Stride, s.pad)
	s.xDeltaShape = DeltaShape{
		DX: dX.Shape[1] - x.Shape[1],
		DY: dX.Shape[2] - x.Shape[2],
	}
}

// DeltaShape returns the calibrated kernel-gradient shape correction.
func (s *HebbianConvSynapse) DeltaShape() DeltaShape { return s.deltaShape }

// XDeltaShape returns the calibrated input-gradient shape correction.
func (s *HebbianConvSynapse) XDeltaShape() DeltaShape { return s.xDeltaShape }

// Optimizer returns the synapse's optimizer.
func (s *HebbianConvSynapse) Optimizer() Optimizer { return s.opt }

// checkPost validates the clamped post-synaptic compartment.
func (s *HebbianConvSynapse) checkPost() error {
	if s.Post == nil || len(s.Post.Shape) != 4 {
		return fmt.Errorf("%w: post compartment must be rank-4", ErrShapeMismatch)
	}
	if s.Post.Shape[3] != s.cfg.Shape.OutChannels {
		return fmt.Errorf("%w: post compartment has %d channels, synapse produces %d",
			ErrShapeMismatch, s.Post.Shape[3], s.cfg.Shape.OutChannels)
	}
	return nil
}

// Evolve applies one local learning step from the clamped Pre/Post
// compartments: it computes the raw kernel (and bias) update, applies the
// sign convention and decay, feeds the result through the optimizer, and
// projects the updated kernel back into its configured bounds. The full new
// state is computed before anything is committed, so a failed step leaves
// the kernel, bias, and optimizer state untouched.
func (s *HebbianConvSynapse) Evolve() error {
	if err := s.checkInput(s.Pre); err != nil {
		return fmt.Errorf("pre compartment: %w", err)
	}
	if err := s.checkPost(); err != nil {
		return err
	}

	cfg := s.cfg

	// Raw local update from the pre/post contraction, under the cached
	// shape correction.
	dWeights := CalcKernelGrad(s.Pre, s.Post, s.deltaShape, cfg.Stride, s.pad)
	if !sameShape(dWeights, s.Weights) {
		return fmt.Errorf("%w: corrected kernel gradient is %v, kernel is %v",
			ErrShapeMismatch, dWeights.Shape, s.Weights.Shape)
	}
	dWeights = dWeights.Scale(cfg.SignValue)
	if cfg.WDecay > 0 {
		dWeights = dWeights.Sub(s.Weights.Scale(cfg.WDecay))
	}

	params := []*Tensor{s.Weights}
	grads := []*Tensor{dWeights}

	var dBiases *Tensor
	if s.Biases != nil {
		dBiases = biasGrad(s.Post, cfg.Shape.OutChannels).Scale(cfg.SignValue)
		params = append(params, s.Biases)
		grads = append(grads, dBiases)
	}

	updated, err := s.opt.Step(params, grads)
	if err != nil {
		return err
	}

	weights := updated[0]
	if cfg.WBound > 0 {
		weights = clipKernel(weights, cfg.WBound, cfg.IsNonnegative)
	}

	// Commit
	s.Weights = weights
	s.DWeights = dWeights
	if s.Biases != nil {
		s.Biases = updated[1]
		s.DBiases = dBiases
	}
	return nil
}

// Backtransmit computes the credit signal propagated to the upstream unit:
// the transposed convolution of the clamped Post compartment with the live
// kernel, under the anti-padding the configured mode requires for Post's
// runtime spatial size, flipped by the synapse's sign convention. The result
// is stored in (and returned from) the DInputs compartment.
func (s *HebbianConvSynapse) Backtransmit() (*Tensor, error) {
	if err := s.checkPost(); err != nil {
		return nil, err
	}

	cfg := s.cfg
	kSize := cfg.Shape.KernelHeight
	outSize := s.Post.Shape[1]

	// The anti-padding depends on Post's runtime shape, not just static
	// configuration, so it is derived here on every call.
	var anti PadPair
	switch cfg.Padding {
	case PaddingSame:
		anti = SameTransposePadding(outSize, cfg.XSize, kSize, cfg.Stride)
	case PaddingValid:
		anti = ValidTransposePadding(outSize, cfg.XSize, kSize, cfg.Stride)
	}

	dInputs := CalcInputGrad(s.Weights, s.Post, s.xDeltaShape, cfg.Stride, anti)
	dInputs = dInputs.Scale(cfg.SignValue)

	s.DInputs = dInputs
	return dInputs, nil
}

// biasGrad reduces a post-synaptic signal to a (1, outChannels) bias
// gradient by summing over the batch and spatial dimensions.
func biasGrad(post *Tensor, outC int) *Tensor {
	out := NewTensor(1, outC)
	for i, v := range post.Data {
		out.Data[i%outC] += v
	}
	return out
}

// clipKernel projects kernel values into [0, bound] when nonnegative, else
// [-bound, bound]. Projection is idempotent.
func clipKernel(kernel *Tensor, bound float32, nonnegative bool) *Tensor {
	lo := -bound
	if nonnegative {
		lo = 0
	}
	out := NewTensor(kernel.Shape...)
	for i, v := range kernel.Data {
		if v < lo {
			v = lo
		} else if v > bound {
			v = bound
		}
		out.Data[i] = v
	}
	return out
}
