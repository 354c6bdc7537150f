//go:build !nogpu && !webgpu

package accelerator

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"transmute/logger"
)

// halDevice runs the kernel through the wgpu HAL on Vulkan.
type halDevice struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	name     string

	shader         hal.ShaderModule
	bindLayout     hal.BindGroupLayout
	pipelineLayout hal.PipelineLayout
	pipeline       hal.ComputePipeline
}

type halBuffer struct {
	buf  hal.Buffer
	size uint64
}

func (b *halBuffer) Size() uint64 { return b.size }

func openGPUDevice() (Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}

	d := &halDevice{
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
		name:     "vulkan:" + selected.Info.Name,
	}
	if err := d.createPipeline(); err != nil {
		d.destroyPipeline()
		d.device.Destroy()
		instance.Destroy()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	logger.Debugf("accelerator: opened %s", d.name)
	return d, nil
}

// compileSPIRV compiles WGSL with naga and packs the little-endian words.
func compileSPIRV(src string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

func (d *halDevice) createPipeline() error {
	spirv, err := compileSPIRV(convertShaderWGSL)
	if err != nil {
		return err
	}
	d.shader, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "ycbcr_convert",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}

	d.bindLayout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "ycbcr_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}

	d.pipelineLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "ycbcr_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{d.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}

	d.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "ycbcr_pipeline", Layout: d.pipelineLayout,
		Compute: hal.ComputeState{Module: d.shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	return nil
}

func (d *halDevice) destroyPipeline() {
	if d.pipeline != nil {
		d.device.DestroyComputePipeline(d.pipeline)
	}
	if d.pipelineLayout != nil {
		d.device.DestroyPipelineLayout(d.pipelineLayout)
	}
	if d.bindLayout != nil {
		d.device.DestroyBindGroupLayout(d.bindLayout)
	}
	if d.shader != nil {
		d.device.DestroyShaderModule(d.shader)
	}
}

func (d *halDevice) Name() string { return d.name }

func (d *halDevice) CreateBuffer(label string, role Role, size uint64) (Buffer, error) {
	desc := &hal.BufferDescriptor{Label: label, Size: size}
	switch role {
	case RoleParams:
		desc.Usage = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	case RoleInput:
		desc.Usage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	case RoleOutput:
		desc.Usage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc
	case RoleStaging:
		desc.Usage = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	default:
		return nil, fmt.Errorf("unknown buffer role %v", role)
	}
	buf, err := d.device.CreateBuffer(desc)
	if err != nil {
		return nil, err
	}
	return &halBuffer{buf: buf, size: size}, nil
}

func (d *halDevice) DestroyBuffer(b Buffer) {
	if hb, ok := b.(*halBuffer); ok {
		d.device.DestroyBuffer(hb.buf)
	}
}

func (d *halDevice) native(b Buffer) (*halBuffer, error) {
	hb, ok := b.(*halBuffer)
	if !ok {
		return nil, fmt.Errorf("vulkan device: foreign buffer %T", b)
	}
	return hb, nil
}

func (d *halDevice) WriteBuffer(b Buffer, data []byte) error {
	hb, err := d.native(b)
	if err != nil {
		return err
	}
	d.queue.WriteBuffer(hb.buf, 0, data)
	return nil
}

func (d *halDevice) ReadBuffer(b Buffer, dst []byte) error {
	hb, err := d.native(b)
	if err != nil {
		return err
	}
	return d.queue.ReadBuffer(hb.buf, 0, dst)
}

func (d *halDevice) Submit(disp Dispatch) (Fence, error) {
	var bufs [4]*halBuffer
	for i, b := range []Buffer{disp.Params, disp.Input, disp.Output, disp.Staging} {
		hb, err := d.native(b)
		if err != nil {
			return nil, err
		}
		bufs[i] = hb
	}
	params, in, out, staging := bufs[0], bufs[1], bufs[2], bufs[3]
	pixelBytes := uint64(disp.Width) * uint64(disp.Height) * 4

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "ycbcr_bind", Layout: d.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: params.buf.NativeHandle(), Offset: 0, Size: params.size}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: in.buf.NativeHandle(), Offset: 0, Size: pixelBytes}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: out.buf.NativeHandle(), Offset: 0, Size: pixelBytes}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group: %w", err)
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "ycbcr_encoder"})
	if err != nil {
		d.device.DestroyBindGroup(bg)
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("ycbcr_convert"); err != nil {
		d.device.DestroyBindGroup(bg)
		return nil, fmt.Errorf("begin encoding: %w", err)
	}
	gx, gy := workgroups(disp.Width, disp.Height)
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "ycbcr_pass"})
	pass.SetPipeline(d.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(gx, gy, 1)
	pass.End()
	encoder.CopyBufferToBuffer(out.buf, staging.buf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: pixelBytes},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		d.device.DestroyBindGroup(bg)
		return nil, fmt.Errorf("end encoding: %w", err)
	}

	fence, err := d.device.CreateFence()
	if err != nil {
		d.device.FreeCommandBuffer(cmdBuf)
		d.device.DestroyBindGroup(bg)
		return nil, fmt.Errorf("create fence: %w", err)
	}
	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		d.device.DestroyFence(fence)
		d.device.FreeCommandBuffer(cmdBuf)
		d.device.DestroyBindGroup(bg)
		return nil, fmt.Errorf("submit: %w", err)
	}
	return &halFence{dev: d, fence: fence, cmdBuf: cmdBuf, bindGroup: bg}, nil
}

func (d *halDevice) Close() error {
	d.destroyPipeline()
	d.device.Destroy()
	d.instance.Destroy()
	return nil
}

type halFence struct {
	dev       *halDevice
	fence     hal.Fence
	cmdBuf    hal.CommandBuffer
	bindGroup hal.BindGroup
	signaled  bool
}

// Wait blocks inside the driver; ctx is only checked before the call.
func (f *halFence) Wait(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := f.dev.device.Wait(f.fence, 1, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return ErrFenceTimeout
	}
	f.signaled = true
	return nil
}

func (f *halFence) Release() {
	if !f.signaled {
		// Still owned by the device; freeing now would race the GPU.
		logger.Warnf("accelerator: leaving unsignaled submission resources to device teardown")
		return
	}
	f.dev.device.DestroyFence(f.fence)
	f.dev.device.FreeCommandBuffer(f.cmdBuf)
	f.dev.device.DestroyBindGroup(f.bindGroup)
}
