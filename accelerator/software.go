package accelerator

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"transmute/colorspace"
)

// Faults configures failures injected by a SoftwareDevice.
type Faults struct {
	// Hang makes fences never signal, so every Wait times out.
	Hang bool
	// SubmitErr is returned from Submit.
	SubmitErr error
	// LostErr is returned from Wait after the kernel completes, as a device
	// reporting a lost context would.
	LostErr error
	// Delay stalls each kernel on the device queue before it runs.
	Delay time.Duration
}

// SoftwareDevice runs the conversion kernel on goroutines with the same
// 16x16 tiling and per-invocation bounds check as the GPU shader. It is used
// when no GPU is present and as a deterministic device in tests.
//
// Like a GPU queue, the device executes writes, kernels and reads strictly in
// submission order on a single worker, so a kernel that outlives its fence
// timeout still finishes before any later write touches its buffers.
type SoftwareDevice struct {
	workers int

	queue    chan func()
	quit     chan struct{}
	quitOnce sync.Once

	mu      sync.Mutex
	buffers map[*softBuffer]struct{}
	faults  Faults
	closed  bool

	submits atomic.Int64
	created atomic.Int64
}

type softBuffer struct {
	label string
	role  Role
	data  []byte
}

func (b *softBuffer) Size() uint64 { return uint64(len(b.data)) }

// NewSoftwareDevice creates a device whose kernel uses up to GOMAXPROCS goroutines.
func NewSoftwareDevice() *SoftwareDevice {
	d := &SoftwareDevice{
		workers: runtime.GOMAXPROCS(0),
		queue:   make(chan func(), 64),
		quit:    make(chan struct{}),
		buffers: make(map[*softBuffer]struct{}),
	}
	go d.run()
	return d
}

func (d *SoftwareDevice) run() {
	for {
		select {
		case op := <-d.queue:
			op()
		case <-d.quit:
			return
		}
	}
}

// enqueue appends op to the device queue without waiting for it.
func (d *SoftwareDevice) enqueue(op func()) error {
	select {
	case d.queue <- op:
		return nil
	case <-d.quit:
		return ErrDeviceClosed
	}
}

// sync runs op on the device queue and waits for it to finish.
func (d *SoftwareDevice) sync(op func()) error {
	done := make(chan struct{})
	if err := d.enqueue(func() {
		op()
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-d.quit:
		return ErrDeviceClosed
	}
}

func (d *SoftwareDevice) Name() string { return "software" }

// SetFaults replaces the injected faults for subsequent submissions.
func (d *SoftwareDevice) SetFaults(f Faults) {
	d.mu.Lock()
	d.faults = f
	d.mu.Unlock()
}

// Submits returns how many dispatches have been submitted.
func (d *SoftwareDevice) Submits() int64 { return d.submits.Load() }

// Allocations returns how many buffers have been created.
func (d *SoftwareDevice) Allocations() int64 { return d.created.Load() }

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *SoftwareDevice) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

func (d *SoftwareDevice) CreateBuffer(label string, role Role, size uint64) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	b := &softBuffer{label: label, role: role, data: make([]byte, size)}
	d.buffers[b] = struct{}{}
	d.created.Add(1)
	return b, nil
}

func (d *SoftwareDevice) DestroyBuffer(b Buffer) {
	sb, ok := b.(*softBuffer)
	if !ok {
		return
	}
	d.mu.Lock()
	delete(d.buffers, sb)
	d.mu.Unlock()
}

func (d *SoftwareDevice) buffer(b Buffer) (*softBuffer, error) {
	sb, ok := b.(*softBuffer)
	if !ok {
		return nil, fmt.Errorf("software device: foreign buffer %T", b)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	if _, live := d.buffers[sb]; !live {
		return nil, fmt.Errorf("software device: buffer %s was destroyed", sb.label)
	}
	return sb, nil
}

func (d *SoftwareDevice) WriteBuffer(b Buffer, data []byte) error {
	sb, err := d.buffer(b)
	if err != nil {
		return err
	}
	if len(data) > len(sb.data) {
		return fmt.Errorf("software device: write of %d bytes into %s (%d bytes)", len(data), sb.label, len(sb.data))
	}
	return d.sync(func() { copy(sb.data, data) })
}

func (d *SoftwareDevice) ReadBuffer(b Buffer, dst []byte) error {
	sb, err := d.buffer(b)
	if err != nil {
		return err
	}
	if len(dst) > len(sb.data) {
		return fmt.Errorf("software device: read of %d bytes from %s (%d bytes)", len(dst), sb.label, len(sb.data))
	}
	return d.sync(func() { copy(dst, sb.data) })
}

func (d *SoftwareDevice) Submit(disp Dispatch) (Fence, error) {
	d.mu.Lock()
	faults := d.faults
	d.mu.Unlock()

	if faults.SubmitErr != nil {
		return nil, faults.SubmitErr
	}

	var bufs [4]*softBuffer
	for i, b := range []Buffer{disp.Params, disp.Input, disp.Output, disp.Staging} {
		sb, err := d.buffer(b)
		if err != nil {
			return nil, err
		}
		bufs[i] = sb
	}
	params, in, out, staging := bufs[0], bufs[1], bufs[2], bufs[3]

	// Params were uploaded through the queue; read them back the same way.
	var header [8]byte
	if err := d.sync(func() { copy(header[:], params.data) }); err != nil {
		return nil, err
	}
	width := int(binary.LittleEndian.Uint32(header[0:]))
	height := int(binary.LittleEndian.Uint32(header[4:]))
	if width != disp.Width || height != disp.Height {
		return nil, fmt.Errorf("software device: params %dx%d do not match dispatch %dx%d", width, height, disp.Width, disp.Height)
	}
	need := width * height * 4
	if len(in.data) < need || len(out.data) < need || len(staging.data) < need {
		return nil, fmt.Errorf("software device: buffers too small for %dx%d", width, height)
	}

	d.submits.Add(1)
	f := &softFence{done: make(chan struct{})}
	if faults.Hang {
		return f, nil
	}

	err := d.enqueue(func() {
		if faults.Delay > 0 {
			time.Sleep(faults.Delay)
		}
		d.runKernel(in.data, out.data, width, height)
		copy(staging.data[:need], out.data[:need])
		f.err = faults.LostErr
		close(f.done)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// runKernel walks workgroup rows in parallel; within a workgroup every
// invocation checks bounds exactly as the shader does.
func (d *SoftwareDevice) runKernel(in, out []byte, width, height int) {
	gx, gy := workgroups(width, height)
	var g errgroup.Group
	g.SetLimit(d.workers)
	for wy := uint32(0); wy < gy; wy++ {
		g.Go(func() error {
			for wx := uint32(0); wx < gx; wx++ {
				for ly := 0; ly < TileSize; ly++ {
					y := int(wy)*TileSize + ly
					for lx := 0; lx < TileSize; lx++ {
						x := int(wx)*TileSize + lx
						if x >= width || y >= height {
							continue
						}
						i := (y*width + x) * 4
						w := colorspace.KernelWord(binary.LittleEndian.Uint32(in[i:]))
						binary.LittleEndian.PutUint32(out[i:], w)
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *SoftwareDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	clear(d.buffers)
	d.quitOnce.Do(func() { close(d.quit) })
	return nil
}

type softFence struct {
	done chan struct{}
	err  error
}

func (f *softFence) Wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.err
	case <-timer.C:
		return ErrFenceTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *softFence) Release() {}
