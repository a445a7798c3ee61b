package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/dendrite/synapse"
)

// ForwardEngine runs a synapse's forward convolution on the GPU. Pipeline,
// bind group, and parameter buffers are built once per synapse; each Forward
// call uploads the input batch and reads the transformed batch back.
type ForwardEngine struct {
	batch, xSize, inC int
	outSize, outC     int
	kSize, stride     int
	padBefore         int
	resistScale       float32
	hasBias           bool

	pipeline  *wgpu.ComputePipeline
	bindGroup *wgpu.BindGroup

	inputBuffer  *wgpu.Buffer
	outputBuffer *wgpu.Buffer
	weightBuffer *wgpu.Buffer
	biasBuffer   *wgpu.Buffer
}

// NewForwardEngine compiles a forward pipeline for the given synapse and
// uploads its current kernel and bias.
func NewForwardEngine(syn *synapse.ConvSynapse) (*ForwardEngine, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	cfg := syn.Config()
	in := syn.InShape()
	out := syn.OutShape()

	var pad synapse.PadPair
	switch cfg.Padding {
	case synapse.PaddingSame:
		_, pad = synapse.SamePadding(cfg.XSize, cfg.Shape.KernelHeight, cfg.Stride)
	case synapse.PaddingValid:
		_, pad = synapse.ValidPadding(cfg.XSize, cfg.Shape.KernelHeight, cfg.Stride)
	}

	e := &ForwardEngine{
		batch:       in[0],
		xSize:       in[1],
		inC:         in[3],
		outSize:     out[1],
		outC:        out[3],
		kSize:       cfg.Shape.KernelHeight,
		stride:      cfg.Stride,
		padBefore:   pad.Before,
		resistScale: cfg.ResistScale,
		hasBias:     syn.Biases != nil,
	}

	if err := e.allocate(c, syn); err != nil {
		e.Release()
		return nil, err
	}
	if err := e.compile(c); err != nil {
		e.Release()
		return nil, err
	}
	return e, nil
}

func (e *ForwardEngine) allocate(c *Context, syn *synapse.ConvSynapse) error {
	var err error
	inputSize := e.batch * e.xSize * e.xSize * e.inC
	outputSize := e.batch * e.outSize * e.outSize * e.outC

	e.inputBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Synapse_In",
		Size:  uint64(inputSize * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}

	e.outputBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Synapse_Out",
		Size:  uint64(outputSize * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return err
	}

	e.weightBuffer, err = NewFloatBuffer(syn.Weights.Data, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
	if err != nil {
		return err
	}

	bias := make([]float32, e.outC)
	if e.hasBias {
		copy(bias, syn.Biases.Data)
	}
	e.biasBuffer, err = NewFloatBuffer(bias, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
	return err
}

// shader generates WGSL for one output element per invocation, NHWC input
// and output, HWIO kernel, matching the CPU forward transform exactly.
func (e *ForwardEngine) shader() string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read> weights : array<f32>;
		@group(0) @binding(2) var<storage, read> bias : array<f32>;
		@group(0) @binding(3) var<storage, read_write> output : array<f32>;

		const BATCH: u32 = %du;
		const IN_S: u32 = %du;
		const IN_CH: u32 = %du;
		const OUT_S: u32 = %du;
		const OUT_CH: u32 = %du;
		const K: u32 = %du;
		const STRIDE: u32 = %du;
		const PAD: i32 = %d;
		const RESIST: f32 = %f;

		@compute @workgroup_size(256)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			let total = BATCH * OUT_S * OUT_S * OUT_CH;
			if (idx >= total) { return; }

			// Output layout: [B, H, W, C]
			let oc = idx %% OUT_CH;
			let ow = (idx / OUT_CH) %% OUT_S;
			let oh = (idx / (OUT_CH * OUT_S)) %% OUT_S;
			let b = idx / (OUT_CH * OUT_S * OUT_S);

			var sum: f32 = 0.0;
			for (var kh: u32 = 0u; kh < K; kh++) {
				let ih = i32(oh * STRIDE + kh) - PAD;
				if (ih < 0 || ih >= i32(IN_S)) { continue; }
				for (var kw: u32 = 0u; kw < K; kw++) {
					let iw = i32(ow * STRIDE + kw) - PAD;
					if (iw < 0 || iw >= i32(IN_S)) { continue; }
					for (var ic: u32 = 0u; ic < IN_CH; ic++) {
						// Input: [B, H, W, C]
						let i_idx = ((b * IN_S + u32(ih)) * IN_S + u32(iw)) * IN_CH + ic;
						// Weights: [K, K, IN_CH, OUT_CH]
						let w_idx = ((kh * K + kw) * IN_CH + ic) * OUT_CH + oc;
						sum += input[i_idx] * weights[w_idx];
					}
				}
			}

			output[idx] = sum * RESIST + bias[oc];
		}
	`, e.batch, e.xSize, e.inC, e.outSize, e.outC, e.kSize, e.stride, e.padBefore, e.resistScale)
}

func (e *ForwardEngine) compile(c *Context) error {
	mod, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Synapse_Fwd_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: e.shader()},
	})
	if err != nil {
		return err
	}
	e.pipeline, err = c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   "Synapse_Fwd_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: mod, EntryPoint: "main"},
	})
	if err != nil {
		return err
	}

	e.bindGroup, err = c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Synapse_Fwd_Bind",
		Layout: e.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: e.inputBuffer, Size: e.inputBuffer.GetSize()},
			{Binding: 1, Buffer: e.weightBuffer, Size: e.weightBuffer.GetSize()},
			{Binding: 2, Buffer: e.biasBuffer, Size: e.biasBuffer.GetSize()},
			{Binding: 3, Buffer: e.outputBuffer, Size: e.outputBuffer.GetSize()},
		},
	})
	return err
}

// UploadParams pushes the synapse's current kernel and bias to the GPU.
// Call after every Evolve so the GPU forward path sees the updated weights.
func (e *ForwardEngine) UploadParams(syn *synapse.ConvSynapse) error {
	c, err := GetContext()
	if err != nil {
		return err
	}
	c.Queue.WriteBuffer(e.weightBuffer, 0, wgpu.ToBytes(syn.Weights.Data))
	if e.hasBias && syn.Biases != nil {
		c.Queue.WriteBuffer(e.biasBuffer, 0, wgpu.ToBytes(syn.Biases.Data))
	}
	return nil
}

// Forward runs the synaptic transform on the GPU and returns the output
// batch.
func (e *ForwardEngine) Forward(inputs *synapse.Tensor) (*synapse.Tensor, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	inputSize := e.batch * e.xSize * e.xSize * e.inC
	if inputs.Size() != inputSize {
		return nil, fmt.Errorf("%w: input has %d elements, engine expects %d",
			synapse.ErrShapeMismatch, inputs.Size(), inputSize)
	}

	c.Queue.WriteBuffer(e.inputBuffer, 0, wgpu.ToBytes(inputs.Data))

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(e.pipeline)
	pass.SetBindGroup(0, e.bindGroup, nil)
	total := e.batch * e.outSize * e.outSize * e.outC
	pass.DispatchWorkgroups(uint32((total+255)/256), 1, 1)
	pass.End()
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	c.Queue.Submit(cmd)

	data, err := ReadBuffer(e.outputBuffer, total)
	if err != nil {
		return nil, err
	}
	return synapse.NewTensorFrom(data, e.batch, e.outSize, e.outSize, e.outC), nil
}

// Release frees the engine's GPU resources.
func (e *ForwardEngine) Release() {
	for _, b := range []*wgpu.Buffer{e.inputBuffer, e.outputBuffer, e.weightBuffer, e.biasBuffer} {
		if b != nil {
			b.Destroy()
		}
	}
	if e.bindGroup != nil {
		e.bindGroup.Release()
	}
	if e.pipeline != nil {
		e.pipeline.Release()
	}
}
