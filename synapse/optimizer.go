package synapse

import (
	"fmt"
	"math"
)

// Optimizer applies computed gradients to a list of parameter tensors.
// Step never mutates the tensors it is given; it returns fresh parameter
// tensors so the caller can commit the update transactionally. Optimizer
// state (momentum, variance estimates) lives inside the implementation and
// is one-to-one with the owning synapse — never shared.
type Optimizer interface {
	// Step applies one update: given parameters and matching gradients,
	// returns the updated parameters. Descent convention: p = p - eta*g.
	Step(params, grads []*Tensor) ([]*Tensor, error)

	// Reset clears optimizer state (momentum, variance, step counter).
	Reset()

	// Name returns the optimizer name.
	Name() string
}

// NewOptimizer constructs an optimizer by type name. Supported types are
// "sgd" and "adam".
func NewOptimizer(optimType string, eta float32) (Optimizer, error) {
	switch optimType {
	case "sgd":
		return NewSGD(eta), nil
	case "adam":
		return NewAdam(eta, 0.9, 0.999, 1e-8), nil
	default:
		return nil, fmt.Errorf("%w: unsupported optimizer type %q", ErrConfiguration, optimType)
	}
}

// checkStepArgs validates one Step invocation's parameter/gradient lists.
func checkStepArgs(params, grads []*Tensor) error {
	if len(params) != len(grads) {
		return fmt.Errorf("%w: %d parameters vs %d gradients", ErrShapeMismatch, len(params), len(grads))
	}
	for i := range params {
		if params[i].Size() != grads[i].Size() {
			return fmt.Errorf("%w: parameter %d has %d elements, gradient has %d",
				ErrShapeMismatch, i, params[i].Size(), grads[i].Size())
		}
	}
	return nil
}

// ============================================================================
// SGD (plain gradient step)
// ============================================================================

type SGD struct {
	eta float32
}

func NewSGD(eta float32) *SGD {
	return &SGD{eta: eta}
}

func (o *SGD) Step(params, grads []*Tensor) ([]*Tensor, error) {
	if err := checkStepArgs(params, grads); err != nil {
		return nil, err
	}

	updated := make([]*Tensor, len(params))
	for i, p := range params {
		next := p.Clone()
		for j := range next.Data {
			next.Data[j] -= o.eta * grads[i].Data[j]
		}
		updated[i] = next
	}
	return updated, nil
}

func (o *SGD) Reset() {}

func (o *SGD) Name() string { return "SGD" }

// ============================================================================
// Adam (momentum + variance-adaptive step)
// ============================================================================

type Adam struct {
	eta     float32
	beta1   float32
	beta2   float32
	epsilon float32
	step    int

	// First moment estimates (momentum)
	m map[string][]float32

	// Second moment estimates (variance)
	v map[string][]float32
}

func NewAdam(eta, beta1, beta2, epsilon float32) *Adam {
	return &Adam{
		eta:     eta,
		beta1:   beta1,
		beta2:   beta2,
		epsilon: epsilon,
		m:       make(map[string][]float32),
		v:       make(map[string][]float32),
	}
}

func (o *Adam) Step(params, grads []*Tensor) ([]*Tensor, error) {
	if err := checkStepArgs(params, grads); err != nil {
		return nil, err
	}

	o.step++
	biasCorrection1 := 1.0 - float32(math.Pow(float64(o.beta1), float64(o.step)))
	biasCorrection2 := 1.0 - float32(math.Pow(float64(o.beta2), float64(o.step)))

	updated := make([]*Tensor, len(params))
	for i, p := range params {
		key := fmt.Sprintf("param_%d", i)

		// Initialize moments if needed
		if o.m[key] == nil {
			o.m[key] = make([]float32, p.Size())
			o.v[key] = make([]float32, p.Size())
		}

		next := p.Clone()
		for j := range next.Data {
			grad := grads[i].Data[j]

			// Update biased moment estimates
			o.m[key][j] = o.beta1*o.m[key][j] + (1-o.beta1)*grad
			o.v[key][j] = o.beta2*o.v[key][j] + (1-o.beta2)*grad*grad

			// Bias-corrected moments
			mHat := o.m[key][j] / biasCorrection1
			vHat := o.v[key][j] / biasCorrection2

			next.Data[j] -= o.eta * mHat / (float32(math.Sqrt(float64(vHat))) + o.epsilon)
		}
		updated[i] = next
	}
	return updated, nil
}

func (o *Adam) Reset() {
	o.step = 0
	o.m = make(map[string][]float32)
	o.v = make(map[string][]float32)
}

func (o *Adam) Name() string { return "Adam" }
