package synapse

// =============================================================================
// Convolution Arithmetic Primitives
// =============================================================================
//
// All spatial arithmetic is expressed through explicit padding pairs rather
// than per-mode formulas inside the loops. The forward convolution, the
// kernel-gradient contraction, and the input-gradient (transposed
// convolution) each take a PadPair; the mode-specific calculators below turn
// "SAME"/"VALID" plus a stride into those pairs.

// PadPair holds the before/after padding amounts for one spatial dimension.
// Inputs and kernels are square, so a single pair is applied to both the
// height and width dimensions. Negative values mean cropping (for padding)
// or zero-extension (for anti-padding).
type PadPair struct {
	Before int
	After  int
}

// Total returns Before + After.
func (p PadPair) Total() int { return p.Before + p.After }

// DeltaShape is a signed (rows, cols) offset between the shape a gradient
// primitive naturally produces and the shape the live tensor requires.
// Positive values are excess rows/cols to trim; negative values are deficit
// to zero-fill.
type DeltaShape struct {
	DX int
	DY int
}

// SamePadding computes the output size and padding pair for "SAME" mode:
// the output covers ceil(xSize/stride) positions and the total padding is
// whatever that coverage demands, with the extra element (if odd) placed
// after the input, matching the convention the transpose calculators assume.
func SamePadding(xSize, kSize, stride int) (int, PadPair) {
	outSize := (xSize + stride - 1) / stride
	total := (outSize-1)*stride + kSize - xSize
	if total < 0 {
		total = 0
	}
	before := total / 2
	return outSize, PadPair{Before: before, After: total - before}
}

// ValidPadding computes the output size and padding pair for "VALID" mode:
// no padding, output positions are only those where the kernel fits fully.
func ValidPadding(xSize, kSize, stride int) (int, PadPair) {
	return (xSize-kSize)/stride + 1, PadPair{}
}

// SameTransposePadding computes the anti-padding that makes a transposed
// convolution of an outSize-wide signal land exactly on targetSize, for a
// forward pass that used "SAME" padding. The total is split with the smaller
// half before the signal, mirroring how SamePadding splits the forward pad.
func SameTransposePadding(outSize, targetSize, kSize, stride int) PadPair {
	total := (outSize-1)*stride + kSize - targetSize
	split := total
	if split < 0 {
		split = 0
	}
	before := split / 2
	return PadPair{Before: before, After: total - before}
}

// ValidTransposePadding computes the anti-padding for a forward pass that
// used "VALID" padding. VALID pads nothing before the input, so the leading
// edges already align and the entire correction lands after the signal.
func ValidTransposePadding(outSize, targetSize, kSize, stride int) PadPair {
	return PadPair{Before: 0, After: (outSize-1)*stride + kSize - targetSize}
}

// Conv2D performs a 2D convolution.
// x shape: [batch][h][w][inChannels], kernel shape: [k][k][inChannels][outChannels].
// Returns [batch][outH][outW][outChannels] with
// outH = (h + pad.Total() - k)/stride + 1.
func Conv2D(x, kernel *Tensor, stride int, pad PadPair) *Tensor {
	batch, inH, inW, inC := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	kH, kW, _, outC := kernel.Shape[0], kernel.Shape[1], kernel.Shape[2], kernel.Shape[3]

	outH := (inH+pad.Total()-kH)/stride + 1
	outW := (inW+pad.Total()-kW)/stride + 1
	out := NewTensor(batch, outH, outW, outC)

	for b := 0; b < batch; b++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				for oc := 0; oc < outC; oc++ {
					sum := float32(0)
					for kh := 0; kh < kH; kh++ {
						ih := oh*stride + kh - pad.Before
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < kW; kw++ {
							iw := ow*stride + kw - pad.Before
							if iw < 0 || iw >= inW {
								continue
							}
							for ic := 0; ic < inC; ic++ {
								xIdx := ((b*inH+ih)*inW+iw)*inC + ic
								kIdx := ((kh*kW+kw)*inC+ic)*outC + oc
								sum += x.Data[xIdx] * kernel.Data[kIdx]
							}
						}
					}
					out.Data[((b*outH+oh)*outW+ow)*outC+oc] = sum
				}
			}
		}
	}
	return out
}

// convKernelGradRaw contracts a pre-synaptic signal x with a post-synaptic
// signal dOut over the batch and output positions, producing a raw kernel
// gradient. The spatial extent of the result is
// (h + pad.Total()) - (outH-1)*stride per dimension, which equals the kernel
// size only when the stride/padding arithmetic divides evenly; the caller is
// expected to correct the difference (see CalcKernelGrad).
func convKernelGradRaw(x, dOut *Tensor, stride int, pad PadPair) *Tensor {
	batch, inH, inW, inC := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH, outW, outC := dOut.Shape[1], dOut.Shape[2], dOut.Shape[3]

	gH := inH + pad.Total() - (outH-1)*stride
	gW := inW + pad.Total() - (outW-1)*stride
	dK := NewTensor(gH, gW, inC, outC)

	for b := 0; b < batch; b++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				for oc := 0; oc < outC; oc++ {
					g := dOut.Data[((b*outH+oh)*outW+ow)*outC+oc]
					if g == 0 {
						continue
					}
					for p := 0; p < gH; p++ {
						ih := p + oh*stride - pad.Before
						if ih < 0 || ih >= inH {
							continue
						}
						for q := 0; q < gW; q++ {
							iw := q + ow*stride - pad.Before
							if iw < 0 || iw >= inW {
								continue
							}
							for ic := 0; ic < inC; ic++ {
								xIdx := ((b*inH+ih)*inW+iw)*inC + ic
								dK.Data[((p*gW+q)*inC+ic)*outC+oc] += x.Data[xIdx] * g
							}
						}
					}
				}
			}
		}
	}
	return dK
}

// CalcKernelGrad computes the kernel gradient of a convolution, corrected by
// the calibrated delta so that the result shape-matches the live kernel. The
// correction trims (or zero-extends, for negative deltas) the trailing
// rows/cols of x before the contraction.
func CalcKernelGrad(x, dOut *Tensor, delta DeltaShape, stride int, pad PadPair) *Tensor {
	if delta.DX != 0 || delta.DY != 0 {
		x = shaveNHWC(x, delta.DX, delta.DY)
	}
	return convKernelGradRaw(x, dOut, stride, pad)
}

// convInputGradRaw computes the transposed convolution of dOut with kernel,
// scattering each output-position gradient back across the kernel's
// footprint. anti is the anti-padding pair; the spatial extent of the result
// is (outH-1)*stride + k - anti.Total() per dimension.
func convInputGradRaw(kernel, dOut *Tensor, stride int, anti PadPair) *Tensor {
	kH, kW, inC, outC := kernel.Shape[0], kernel.Shape[1], kernel.Shape[2], kernel.Shape[3]
	batch, outH, outW := dOut.Shape[0], dOut.Shape[1], dOut.Shape[2]

	gH := (outH-1)*stride + kH - anti.Total()
	gW := (outW-1)*stride + kW - anti.Total()
	dX := NewTensor(batch, gH, gW, inC)

	for b := 0; b < batch; b++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				for oc := 0; oc < outC; oc++ {
					g := dOut.Data[((b*outH+oh)*outW+ow)*outC+oc]
					if g == 0 {
						continue
					}
					for kh := 0; kh < kH; kh++ {
						ih := oh*stride + kh - anti.Before
						if ih < 0 || ih >= gH {
							continue
						}
						for kw := 0; kw < kW; kw++ {
							iw := ow*stride + kw - anti.Before
							if iw < 0 || iw >= gW {
								continue
							}
							for ic := 0; ic < inC; ic++ {
								kIdx := ((kh*kW+kw)*inC+ic)*outC + oc
								dX.Data[((b*gH+ih)*gW+iw)*inC+ic] += g * kernel.Data[kIdx]
							}
						}
					}
				}
			}
		}
	}
	return dX
}

// CalcInputGrad computes the input gradient of a convolution, corrected by
// the calibrated delta. Only positive excess is trimmed: a negative delta
// records that the calibration probe's scatter fell short of the live input,
// a deficit the per-call anti-padding already absorbs, so zero-extending
// here would push the result past the input shape.
func CalcInputGrad(kernel, dOut *Tensor, delta DeltaShape, stride int, anti PadPair) *Tensor {
	dX := convInputGradRaw(kernel, dOut, stride, anti)
	dx, dy := delta.DX, delta.DY
	if dx < 0 {
		dx = 0
	}
	if dy < 0 {
		dy = 0
	}
	if dx != 0 || dy != 0 {
		dX = shaveNHWC(dX, dx, dy)
	}
	return dX
}

// shaveNHWC removes dx trailing rows and dy trailing cols from an NHWC
// tensor. Negative amounts grow the tensor with trailing zeros instead.
func shaveNHWC(t *Tensor, dx, dy int) *Tensor {
	batch, h, w, c := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	nh, nw := h-dx, w-dy
	out := NewTensor(batch, nh, nw, c)
	copyH, copyW := h, w
	if nh < copyH {
		copyH = nh
	}
	if nw < copyW {
		copyW = nw
	}
	for b := 0; b < batch; b++ {
		for i := 0; i < copyH; i++ {
			for j := 0; j < copyW; j++ {
				srcBase := ((b*h+i)*w + j) * c
				dstBase := ((b*nh+i)*nw + j) * c
				copy(out.Data[dstBase:dstBase+c], t.Data[srcBase:srcBase+c])
			}
		}
	}
	return out
}
