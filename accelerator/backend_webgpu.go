//go:build webgpu && !nogpu

package accelerator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"transmute/logger"
)

// webgpuDevice runs the kernel through wgpu-native. Built with -tags webgpu.
type webgpuDevice struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	name     string

	module     *wgpu.ShaderModule
	bindLayout *wgpu.BindGroupLayout
	layout     *wgpu.PipelineLayout
	pipeline   *wgpu.ComputePipeline
}

type webgpuBuffer struct {
	buf    *wgpu.Buffer
	size   uint64
	mapped bool
}

func (b *webgpuBuffer) Size() uint64 { return b.size }

func openGPUDevice() (Device, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("CreateInstance returned nil")
	}
	ad, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{PowerPreference: wgpu.PowerPreferenceHighPerformance})
	if err != nil || ad == nil {
		inst.Release()
		return nil, fmt.Errorf("request adapter: %v", err)
	}
	dev, err := ad.RequestDevice(&wgpu.DeviceDescriptor{})
	if err != nil || dev == nil {
		ad.Release()
		inst.Release()
		return nil, fmt.Errorf("request device: %v", err)
	}
	info := ad.GetInfo()
	d := &webgpuDevice{
		instance: inst,
		adapter:  ad,
		device:   dev,
		queue:    dev.GetQueue(),
		name:     "webgpu:" + strings.TrimSpace(info.Name),
	}
	if err := d.createPipeline(); err != nil {
		d.Close()
		return nil, err
	}
	logger.Debugf("accelerator: opened %s", d.name)
	return d, nil
}

func (d *webgpuDevice) createPipeline() error {
	var err error
	d.module, err = d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "ycbcr_convert",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: convertShaderWGSL},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}
	d.bindLayout, err = d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ycbcr_bind_layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	d.layout, err = d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "ycbcr_pipe_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{d.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	d.pipeline, err = d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "ycbcr_pipeline",
		Layout: d.layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     d.module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	return nil
}

func (d *webgpuDevice) Name() string { return d.name }

func (d *webgpuDevice) CreateBuffer(label string, role Role, size uint64) (Buffer, error) {
	desc := &wgpu.BufferDescriptor{Label: label, Size: size}
	switch role {
	case RoleParams:
		desc.Usage = wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	case RoleInput:
		desc.Usage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	case RoleOutput:
		desc.Usage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc
	case RoleStaging:
		desc.Usage = wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst
	default:
		return nil, fmt.Errorf("unknown buffer role %v", role)
	}
	buf, err := d.device.CreateBuffer(desc)
	if err != nil {
		return nil, err
	}
	return &webgpuBuffer{buf: buf, size: size}, nil
}

func (d *webgpuDevice) DestroyBuffer(b Buffer) {
	if wb, ok := b.(*webgpuBuffer); ok {
		if wb.mapped {
			wb.buf.Unmap()
		}
		wb.buf.Destroy()
	}
}

func (d *webgpuDevice) native(b Buffer) (*webgpuBuffer, error) {
	wb, ok := b.(*webgpuBuffer)
	if !ok {
		return nil, fmt.Errorf("webgpu device: foreign buffer %T", b)
	}
	return wb, nil
}

func (d *webgpuDevice) WriteBuffer(b Buffer, data []byte) error {
	wb, err := d.native(b)
	if err != nil {
		return err
	}
	d.queue.WriteBuffer(wb.buf, 0, data)
	return nil
}

// ReadBuffer copies from a staging buffer mapped by a completed fence.
func (d *webgpuDevice) ReadBuffer(b Buffer, dst []byte) error {
	wb, err := d.native(b)
	if err != nil {
		return err
	}
	if !wb.mapped {
		return fmt.Errorf("webgpu device: buffer is not mapped for reading")
	}
	data := wb.buf.GetMappedRange(0, uint(len(dst)))
	if data == nil {
		wb.buf.Unmap()
		wb.mapped = false
		return fmt.Errorf("webgpu device: mapped range nil")
	}
	copy(dst, data)
	wb.buf.Unmap()
	wb.mapped = false
	return nil
}

func (d *webgpuDevice) Submit(disp Dispatch) (Fence, error) {
	var bufs [4]*webgpuBuffer
	for i, b := range []Buffer{disp.Params, disp.Input, disp.Output, disp.Staging} {
		wb, err := d.native(b)
		if err != nil {
			return nil, err
		}
		bufs[i] = wb
	}
	params, in, out, staging := bufs[0], bufs[1], bufs[2], bufs[3]
	pixelBytes := uint64(disp.Width) * uint64(disp.Height) * 4

	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "ycbcr_bind",
		Layout: d.bindLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: params.buf, Offset: 0, Size: params.size},
			{Binding: 1, Buffer: in.buf, Offset: 0, Size: pixelBytes},
			{Binding: 2, Buffer: out.buf, Offset: 0, Size: pixelBytes},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group: %w", err)
	}
	defer bg.Release()

	enc, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	gx, gy := workgroups(disp.Width, disp.Height)
	pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "ycbcr_pass"})
	pass.SetPipeline(d.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(gx, gy, 1)
	pass.End()
	enc.CopyBufferToBuffer(out.buf, 0, staging.buf, 0, pixelBytes)
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return nil, fmt.Errorf("finish command buffer: %w", err)
	}
	d.queue.Submit(cmd)
	cmd.Release()

	return &webgpuFence{dev: d, staging: staging, size: pixelBytes}, nil
}

func (d *webgpuDevice) Close() error {
	if d.pipeline != nil {
		d.pipeline.Release()
	}
	if d.layout != nil {
		d.layout.Release()
	}
	if d.bindLayout != nil {
		d.bindLayout.Release()
	}
	if d.module != nil {
		d.module.Release()
	}
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
	return nil
}

// webgpuFence maps the staging buffer; the map completes only after the
// submitted copy, so it doubles as the completion signal.
type webgpuFence struct {
	dev     *webgpuDevice
	staging *webgpuBuffer
	size    uint64
}

func (f *webgpuFence) Wait(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	var mapErr error
	f.staging.buf.MapAsync(wgpu.MapModeRead, 0, f.size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map status: %d", status)
		}
		close(done)
	})

	deadline := time.After(timeout)
	for {
		f.dev.device.Poll(false, nil)
		select {
		case <-done:
			if mapErr != nil {
				return mapErr
			}
			f.staging.mapped = true
			return nil
		case <-deadline:
			return ErrFenceTimeout
		case <-ctx.Done():
			return ctx.Err()
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func (f *webgpuFence) Release() {}
