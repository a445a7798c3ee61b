package synapse

// Tensor is a dense float32 tensor stored flat in row-major order.
// Activations use NHWC layout ([batch][height][width][channels]) and
// kernels use HWIO ([kernelH][kernelW][inChannels][outChannels]).
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor creates a zero-valued tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, size),
	}
}

// NewTensorFrom wraps existing data in a tensor with the given shape.
// Returns nil if the data length does not match the shape.
func NewTensorFrom(data []float32, shape ...int) *Tensor {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size != len(data) {
		return nil
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  data,
	}
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	if t == nil {
		return 0
	}
	return len(t.Data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	out := NewTensor(t.Shape...)
	copy(out.Data, t.Data)
	return out
}

// ZerosLike returns a zero tensor with the same shape as t.
func ZerosLike(t *Tensor) *Tensor {
	if t == nil {
		return nil
	}
	return NewTensor(t.Shape...)
}

// Scale returns a new tensor with every element multiplied by factor.
func (t *Tensor) Scale(factor float32) *Tensor {
	out := NewTensor(t.Shape...)
	for i, v := range t.Data {
		out.Data[i] = v * factor
	}
	return out
}

// Sub returns a new tensor t - o. Both tensors must have the same size.
func (t *Tensor) Sub(o *Tensor) *Tensor {
	out := NewTensor(t.Shape...)
	for i, v := range t.Data {
		out.Data[i] = v - o.Data[i]
	}
	return out
}

// sameShape reports whether two tensors have identical shapes.
func sameShape(a, b *Tensor) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}
