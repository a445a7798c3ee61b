package synapse

import (
	"errors"
	"math"
	"testing"
)

func testConfig() Config {
	return Config{
		Name:      "syn0",
		Shape:     SynapseShape{KernelHeight: 3, KernelWidth: 3, InChannels: 1, OutChannels: 4},
		XSize:     8,
		BatchSize: 2,
		Eta:       0.01,
		Stride:    1,
		Padding:   PaddingValid,
		SignValue: 1,
		OptimType: "sgd",
		Seed:      42,
	}
}

// fillPattern clamps a deterministic non-zero signal into a tensor.
func fillPattern(t *Tensor) {
	for i := range t.Data {
		t.Data[i] = float32(i%7)*0.25 - 0.5
	}
}

// TestCalibratorValidStrideOne verifies the first end-to-end scenario:
// shape (3,3,1,4), x_size 8, stride 1, VALID padding, batch 2 gives a
// (2,6,6,4) forward output and no calibration slack.
func TestCalibratorValidStrideOne(t *testing.T) {
	syn, err := NewHebbianConvSynapse(testConfig())
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	out, err := syn.Forward(syn.Inputs)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	wantShape := []int{2, 6, 6, 4}
	for i, d := range wantShape {
		if out.Shape[i] != d {
			t.Fatalf("forward shape: expected %v, got %v", wantShape, out.Shape)
		}
	}

	if syn.DeltaShape() != (DeltaShape{}) {
		t.Errorf("delta_shape: expected (0,0), got %v", syn.DeltaShape())
	}
	if syn.XDeltaShape() != (DeltaShape{}) {
		t.Errorf("x_delta_shape: expected (0,0), got %v", syn.XDeltaShape())
	}
}

// TestBacktransmitSameStrideTwo verifies the second end-to-end scenario:
// SAME padding at stride 2 gives a (2,4,4,4) forward output, and
// backtransmitting a zero post signal of that shape yields a (2,8,8,1)
// credit signal matching the original input shape exactly.
func TestBacktransmitSameStrideTwo(t *testing.T) {
	cfg := testConfig()
	cfg.Padding = PaddingSame
	cfg.Stride = 2

	syn, err := NewHebbianConvSynapse(cfg)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	out, err := syn.Forward(syn.Inputs)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if out.Shape[1] != 4 || out.Shape[2] != 4 || out.Shape[3] != 4 {
		t.Fatalf("forward shape: expected [2 4 4 4], got %v", out.Shape)
	}

	syn.Post = NewTensor(2, 4, 4, 4)
	dIn, err := syn.Backtransmit()
	if err != nil {
		t.Fatalf("backtransmit failed: %v", err)
	}
	if dIn.Shape[0] != 2 || dIn.Shape[1] != 8 || dIn.Shape[2] != 8 || dIn.Shape[3] != 1 {
		t.Errorf("dInputs shape: expected [2 8 8 1], got %v", dIn.Shape)
	}
}

// TestBacktransmitShapeWithStrideSlack verifies the credit signal matches
// the input shape even when the stride/padding arithmetic leaves rounding
// slack and the calibrator records a negative input correction. VALID at
// stride 2 on an 8-wide input is the canonical case: the probe's scatter
// covers only 7 of the 8 input positions, and the per-call anti-padding
// alone must close the gap.
func TestBacktransmitShapeWithStrideSlack(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.Shape.OutChannels = 2
	cfg.Stride = 2

	syn, err := NewHebbianConvSynapse(cfg)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if syn.XDeltaShape() != (DeltaShape{DX: -1, DY: -1}) {
		t.Fatalf("x_delta_shape: expected (-1,-1), got %v", syn.XDeltaShape())
	}

	syn.Post = NewTensor(1, 3, 3, 2)
	dIn, err := syn.Backtransmit()
	if err != nil {
		t.Fatalf("backtransmit failed: %v", err)
	}
	if dIn.Shape[0] != 1 || dIn.Shape[1] != 8 || dIn.Shape[2] != 8 || dIn.Shape[3] != 1 {
		t.Errorf("dInputs shape: expected [1 8 8 1], got %v", dIn.Shape)
	}

	// Every slack-bearing combination must land back on the input shape.
	for _, mode := range []PaddingMode{PaddingValid, PaddingSame} {
		for _, stride := range []int{1, 2, 3} {
			cfg := testConfig()
			cfg.Padding = mode
			cfg.Stride = stride

			syn, err := NewHebbianConvSynapse(cfg)
			if err != nil {
				t.Fatalf("%s stride %d: construction failed: %v", mode, stride, err)
			}

			out, err := syn.Forward(syn.Inputs)
			if err != nil {
				t.Fatalf("%s stride %d: forward failed: %v", mode, stride, err)
			}
			syn.Post = NewTensor(out.Shape...)
			fillPattern(syn.Post)

			dIn, err := syn.Backtransmit()
			if err != nil {
				t.Fatalf("%s stride %d: backtransmit failed: %v", mode, stride, err)
			}
			want := syn.InShape()
			for i, d := range want {
				if dIn.Shape[i] != d {
					t.Errorf("%s stride %d: dInputs shape: expected %v, got %v",
						mode, stride, want, dIn.Shape)
					break
				}
			}
		}
	}
}

// TestEvolveZeroSignalsIsNoOp verifies that zero pre/post signals with no
// decay and no bounds leave the parameters exactly unchanged, across all
// stride/padding combinations.
func TestEvolveZeroSignalsIsNoOp(t *testing.T) {
	for _, mode := range []PaddingMode{PaddingValid, PaddingSame} {
		for _, stride := range []int{1, 2, 3} {
			cfg := testConfig()
			cfg.Padding = mode
			cfg.Stride = stride
			cfg.BiasInit = ConstantInit(0.1)

			syn, err := NewHebbianConvSynapse(cfg)
			if err != nil {
				t.Fatalf("%s stride %d: construction failed: %v", mode, stride, err)
			}

			before := syn.Weights.Clone()
			beforeBias := syn.Biases.Clone()
			if err := syn.Evolve(); err != nil {
				t.Fatalf("%s stride %d: evolve failed: %v", mode, stride, err)
			}

			for i := range before.Data {
				if syn.Weights.Data[i] != before.Data[i] {
					t.Errorf("%s stride %d: weight %d changed on zero signals", mode, stride, i)
					break
				}
			}
			for i := range beforeBias.Data {
				if syn.Biases.Data[i] != beforeBias.Data[i] {
					t.Errorf("%s stride %d: bias %d changed on zero signals", mode, stride, i)
					break
				}
			}
		}
	}
}

// TestEvolveMovesWeights verifies that a non-zero pre/post pairing actually
// updates the kernel through the optimizer.
func TestEvolveMovesWeights(t *testing.T) {
	syn, err := NewHebbianConvSynapse(testConfig())
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	fillPattern(syn.Pre)
	fillPattern(syn.Post)

	before := syn.Weights.Clone()
	if err := syn.Evolve(); err != nil {
		t.Fatalf("evolve failed: %v", err)
	}

	moved := false
	for i := range before.Data {
		if syn.Weights.Data[i] != before.Data[i] {
			moved = true
			break
		}
	}
	if !moved {
		t.Error("Weights unchanged after evolve with non-zero signals")
	}

	// SGD descent: w' = w - eta * dW for every element.
	for i := range before.Data {
		want := before.Data[i] - 0.01*syn.DWeights.Data[i]
		if math.Abs(float64(syn.Weights.Data[i]-want)) > 1e-5 {
			t.Errorf("weight %d: expected %f, got %f", i, want, syn.Weights.Data[i])
			break
		}
	}
}

// TestSignFlip verifies that flipping sign_value exactly negates both the
// kernel update and the back-transmitted credit signal.
func TestSignFlip(t *testing.T) {
	build := func(sign float32) *HebbianConvSynapse {
		cfg := testConfig()
		cfg.SignValue = sign
		syn, err := NewHebbianConvSynapse(cfg)
		if err != nil {
			t.Fatalf("construction failed: %v", err)
		}
		fillPattern(syn.Pre)
		fillPattern(syn.Post)
		return syn
	}

	pos := build(1)
	neg := build(-1)

	if err := pos.Evolve(); err != nil {
		t.Fatalf("evolve failed: %v", err)
	}
	if err := neg.Evolve(); err != nil {
		t.Fatalf("evolve failed: %v", err)
	}
	for i := range pos.DWeights.Data {
		if pos.DWeights.Data[i] != -neg.DWeights.Data[i] {
			t.Errorf("dWeights[%d]: %f is not the negation of %f",
				i, pos.DWeights.Data[i], neg.DWeights.Data[i])
			break
		}
	}

	dPos, err := pos.Backtransmit()
	if err != nil {
		t.Fatalf("backtransmit failed: %v", err)
	}
	dNeg, err := neg.Backtransmit()
	if err != nil {
		t.Fatalf("backtransmit failed: %v", err)
	}
	for i := range dPos.Data {
		if dPos.Data[i] != -dNeg.Data[i] {
			t.Errorf("dInputs[%d]: %f is not the negation of %f", i, dPos.Data[i], dNeg.Data[i])
			break
		}
	}
}

// TestSignValueScalesUpdate verifies that sign_value is a general
// multiplicative factor: non-unit magnitudes are accepted and scale the
// computed update proportionally.
func TestSignValueScalesUpdate(t *testing.T) {
	build := func(sign float32) *HebbianConvSynapse {
		cfg := testConfig()
		cfg.SignValue = sign
		syn, err := NewHebbianConvSynapse(cfg)
		if err != nil {
			t.Fatalf("sign %v: construction failed: %v", sign, err)
		}
		fillPattern(syn.Pre)
		fillPattern(syn.Post)
		return syn
	}

	unit := build(1)
	double := build(2)

	if err := unit.Evolve(); err != nil {
		t.Fatalf("evolve failed: %v", err)
	}
	if err := double.Evolve(); err != nil {
		t.Fatalf("evolve failed: %v", err)
	}
	for i := range unit.DWeights.Data {
		if double.DWeights.Data[i] != 2*unit.DWeights.Data[i] {
			t.Errorf("dWeights[%d]: %f is not twice %f",
				i, double.DWeights.Data[i], unit.DWeights.Data[i])
			break
		}
	}
}

// TestBoundProjectionIdempotent verifies that clipping twice equals clipping
// once, for both signed and non-negative bounds.
func TestBoundProjectionIdempotent(t *testing.T) {
	kernel := NewTensorFrom([]float32{-3, -0.5, 0, 0.25, 1.5, 7}, 6)

	for _, nonneg := range []bool{false, true} {
		once := clipKernel(kernel, 1, nonneg)
		twice := clipKernel(once, 1, nonneg)
		for i := range once.Data {
			if once.Data[i] != twice.Data[i] {
				t.Errorf("nonneg=%v: projection not idempotent at %d: %f vs %f",
					nonneg, i, once.Data[i], twice.Data[i])
			}
		}
	}

	clipped := clipKernel(kernel, 1, true)
	for i, v := range clipped.Data {
		if v < 0 || v > 1 {
			t.Errorf("nonnegative clip left value %f at %d", v, i)
		}
	}
}

// TestEvolveAppliesBounds verifies the projection runs inside Evolve.
func TestEvolveAppliesBounds(t *testing.T) {
	cfg := testConfig()
	cfg.WBound = 0.05
	cfg.IsNonnegative = true
	cfg.Eta = 1 // exaggerate the update so clipping must trigger

	syn, err := NewHebbianConvSynapse(cfg)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	fillPattern(syn.Pre)
	fillPattern(syn.Post)

	if err := syn.Evolve(); err != nil {
		t.Fatalf("evolve failed: %v", err)
	}
	for i, v := range syn.Weights.Data {
		if v < 0 || v > 0.05 {
			t.Errorf("weight %d escaped bounds: %f", i, v)
		}
	}
}

// TestBiasDisabled verifies that a synapse constructed without bias_init
// never allocates or mutates a bias tensor.
func TestBiasDisabled(t *testing.T) {
	syn, err := NewHebbianConvSynapse(testConfig())
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if syn.Biases != nil {
		t.Fatal("bias tensor allocated despite nil BiasInit")
	}

	fillPattern(syn.Pre)
	fillPattern(syn.Post)
	for i := 0; i < 3; i++ {
		if err := syn.Evolve(); err != nil {
			t.Fatalf("evolve %d failed: %v", i, err)
		}
		if syn.Biases != nil {
			t.Fatal("bias tensor appeared during evolve")
		}
		if syn.DBiases != nil {
			t.Fatal("bias gradient allocated despite disabled bias")
		}
	}
}

// TestBiasEnabled verifies the bias path: forward adds the bias, evolve
// updates it, and the exposed gradient matches the post-signal reduction.
func TestBiasEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.BiasInit = ConstantInit(0.5)

	syn, err := NewHebbianConvSynapse(cfg)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if syn.Biases == nil || syn.Biases.Shape[0] != 1 || syn.Biases.Shape[1] != 4 {
		t.Fatalf("expected (1,4) bias tensor, got %v", syn.Biases)
	}

	// Zero inputs: output equals the broadcast bias.
	out, err := syn.Forward(syn.Inputs)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	for i, v := range out.Data {
		if math.Abs(float64(v-0.5)) > 1e-6 {
			t.Errorf("out[%d]: expected bias 0.5, got %f", i, v)
			break
		}
	}

	fillPattern(syn.Post)
	if err := syn.Evolve(); err != nil {
		t.Fatalf("evolve failed: %v", err)
	}
	want := biasGrad(syn.Post, 4)
	for i := range want.Data {
		if syn.DBiases.Data[i] != want.Data[i] {
			t.Errorf("dBiases[%d]: expected %f, got %f", i, want.Data[i], syn.DBiases.Data[i])
		}
	}
}

// TestResetPreservesLearnedState verifies that reset zeroes transient
// compartments and the step clock but never the kernel, bias, or
// calibration caches.
func TestResetPreservesLearnedState(t *testing.T) {
	cfg := testConfig()
	cfg.BiasInit = GaussianInit(0, 0.1)

	syn, err := NewHebbianConvSynapse(cfg)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	fillPattern(syn.Inputs)
	fillPattern(syn.Pre)
	fillPattern(syn.Post)
	if err := syn.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if err := syn.Evolve(); err != nil {
		t.Fatalf("evolve failed: %v", err)
	}
	if _, err := syn.Backtransmit(); err != nil {
		t.Fatalf("backtransmit failed: %v", err)
	}

	weights := syn.Weights.Clone()
	biases := syn.Biases.Clone()
	delta, xDelta := syn.DeltaShape(), syn.XDeltaShape()

	syn.Reset()

	if syn.T != 0 {
		t.Errorf("step clock not cleared: %f", syn.T)
	}
	for _, comp := range []*Tensor{syn.Inputs, syn.Outputs, syn.Pre, syn.Post, syn.DInputs} {
		for _, v := range comp.Data {
			if v != 0 {
				t.Error("transient compartment not zeroed by reset")
				break
			}
		}
	}
	for i := range weights.Data {
		if syn.Weights.Data[i] != weights.Data[i] {
			t.Error("reset modified the kernel")
			break
		}
	}
	for i := range biases.Data {
		if syn.Biases.Data[i] != biases.Data[i] {
			t.Error("reset modified the bias")
			break
		}
	}
	if syn.DeltaShape() != delta || syn.XDeltaShape() != xDelta {
		t.Error("reset modified the calibration caches")
	}
}

// TestConstructionErrors verifies the configuration taxonomy.
func TestConstructionErrors(t *testing.T) {
	bad := testConfig()
	bad.Padding = "FULL"
	if _, err := NewHebbianConvSynapse(bad); !errors.Is(err, ErrConfiguration) {
		t.Errorf("bad padding: expected ErrConfiguration, got %v", err)
	}

	bad = testConfig()
	bad.OptimType = "rmsprop"
	if _, err := NewHebbianConvSynapse(bad); !errors.Is(err, ErrConfiguration) {
		t.Errorf("bad optimizer: expected ErrConfiguration, got %v", err)
	}

	bad = testConfig()
	bad.Shape.KernelWidth = 5
	if _, err := NewHebbianConvSynapse(bad); !errors.Is(err, ErrConfiguration) {
		t.Errorf("non-square kernel: expected ErrConfiguration, got %v", err)
	}
}

// TestShapeMismatchErrors verifies per-step boundary errors and that a
// failed step never corrupts stored state.
func TestShapeMismatchErrors(t *testing.T) {
	syn, err := NewHebbianConvSynapse(testConfig())
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	wrong := NewTensor(2, 8, 8, 3)
	if _, err := syn.Forward(wrong); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("wrong channels: expected ErrShapeMismatch, got %v", err)
	}

	weights := syn.Weights.Clone()
	syn.Post = NewTensor(2, 6, 6, 9)
	if err := syn.Evolve(); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("wrong post channels: expected ErrShapeMismatch, got %v", err)
	}
	for i := range weights.Data {
		if syn.Weights.Data[i] != weights.Data[i] {
			t.Error("failed evolve corrupted the kernel")
			break
		}
	}

	if _, err := syn.Backtransmit(); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("wrong post channels: expected ErrShapeMismatch from backtransmit, got %v", err)
	}
}

// TestResistScale verifies the fixed resistance scaling of the forward
// transform.
func TestResistScale(t *testing.T) {
	cfg := testConfig()
	cfg.ResistScale = 2

	scaled, err := NewHebbianConvSynapse(cfg)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	plain, err := NewHebbianConvSynapse(testConfig())
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	x := NewTensor(2, 8, 8, 1)
	fillPattern(x)
	a, err := scaled.Forward(x)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	b, err := plain.Forward(x)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	for i := range a.Data {
		if math.Abs(float64(a.Data[i]-2*b.Data[i])) > 1e-5 {
			t.Errorf("out[%d]: expected %f, got %f", i, 2*b.Data[i], a.Data[i])
			break
		}
	}
}
