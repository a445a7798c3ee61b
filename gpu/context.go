// Package gpu provides a WebGPU-accelerated forward path for convolutional
// synapses. The kernel-gradient and input-gradient contractions stay on the
// CPU; only the per-step forward transform, the hot path of a running
// circuit, is offloaded.
package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the single WebGPU context for the process.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it on first
// use. Adapter selection falls back from high-performance to low-power to
// whatever the platform offers.
func GetContext() (*Context, error) {
	var initErr error
	ctx.once.Do(func() {
		ctx.Instance = wgpu.CreateInstance(nil)
		if ctx.Instance == nil {
			initErr = fmt.Errorf("failed to create WebGPU instance")
			return
		}

		tryInit := func(opts *wgpu.RequestAdapterOptions) {
			if ctx.Adapter != nil {
				return
			}
			adapter, err := ctx.Instance.RequestAdapter(opts)
			if err == nil {
				ctx.Adapter = adapter
			}
		}

		tryInit(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceHighPerformance})
		tryInit(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceLowPower})
		tryInit(nil)
		if ctx.Adapter == nil {
			initErr = fmt.Errorf("no usable WebGPU adapter found")
			return
		}

		var err error
		ctx.Device, err = ctx.Adapter.RequestDevice(nil)
		if err != nil {
			initErr = err
			return
		}
		ctx.Queue = ctx.Device.GetQueue()
	})

	if initErr != nil {
		return nil, initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}

// Available reports whether a GPU context can be initialized.
func Available() bool {
	_, err := GetContext()
	return err == nil
}
