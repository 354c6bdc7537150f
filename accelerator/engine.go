package accelerator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"transmute/colorspace"
	"transmute/logger"
	"transmute/models"
)

// Defaults for Config.
const (
	DefaultActivationThreshold = 2_000_000
	DefaultReadbackTimeout     = 5 * time.Second
	DefaultPoolCapacity        = 32
)

// Config controls when and how the accelerator is used.
type Config struct {
	Enabled bool
	// ActivationThreshold is the pixel count below which the CPU path is
	// used without touching the device.
	ActivationThreshold int
	ReadbackTimeout     time.Duration
	// PoolCapacity bounds the number of pooled buffers; <= 0 is unbounded.
	PoolCapacity int
}

// DefaultConfig enables the accelerator with the default threshold and timeout.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		ActivationThreshold: DefaultActivationThreshold,
		ReadbackTimeout:     DefaultReadbackTimeout,
		PoolCapacity:        DefaultPoolCapacity,
	}
}

// State is a dispatch's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateUploading
	StateDispatched
	StateAwaitingReadback
	StateReady
	StateTimedOut
	StateDeviceError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUploading:
		return "uploading"
	case StateDispatched:
		return "dispatched"
	case StateAwaitingReadback:
		return "awaiting-readback"
	case StateReady:
		return "ready"
	case StateTimedOut:
		return "timed-out"
	case StateDeviceError:
		return "device-error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Path records which implementation produced a conversion.
type Path string

const (
	PathCPU         Path = "cpu"
	PathAccelerator Path = "accelerator"
)

// Reasons the CPU path was taken.
const (
	ReasonDisabled       = "disabled"
	ReasonBelowThreshold = "below-threshold"
	ReasonUnavailable    = "unavailable"
	ReasonTimeout        = "timeout"
	ReasonDeviceError    = "device-error"
)

// Report describes how one conversion was carried out.
type Report struct {
	Path   Path
	State  State  // final dispatch state; StateIdle when the device was not used
	Reason string // why the CPU path ran, empty on the accelerator path
	// Fallback is the absorbed accelerator fault, if any.
	Fallback error
	Device   string
	Elapsed  time.Duration
}

// Conversion is interleaved YCbCr output, 3 bytes per pixel.
type Conversion struct {
	Width  int
	Height int
	YCbCr  []byte
	Report Report
}

// Engine routes conversions to the device or the CPU reference path.
// It is safe for concurrent use.
type Engine struct {
	cfg  Config
	dev  Device
	pool *Pool

	// submitMu serializes queue submission; waits run concurrently.
	submitMu sync.Mutex

	observer atomic.Pointer[func(Report)]

	dispatches atomic.Int64
	fallbacks  atomic.Int64
}

// NewEngine creates an engine on dev. A nil dev means no accelerator.
func NewEngine(cfg Config, dev Device) *Engine {
	if cfg.ReadbackTimeout <= 0 {
		cfg.ReadbackTimeout = DefaultReadbackTimeout
	}
	if cfg.ActivationThreshold < 0 {
		cfg.ActivationThreshold = 0
	}
	e := &Engine{cfg: cfg, dev: dev}
	if dev != nil {
		e.pool = NewPool(dev, cfg.PoolCapacity)
	}
	return e
}

// SetObserver installs fn to be called with every conversion report.
func (e *Engine) SetObserver(fn func(Report)) {
	if fn == nil {
		e.observer.Store(nil)
		return
	}
	e.observer.Store(&fn)
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// DeviceName returns the device name, or "" without a device.
func (e *Engine) DeviceName() string {
	if e.dev == nil {
		return ""
	}
	return e.dev.Name()
}

// PoolStats returns buffer pool counters; zero without a device.
func (e *Engine) PoolStats() PoolStats {
	if e.pool == nil {
		return PoolStats{}
	}
	return e.pool.Stats()
}

// Dispatches returns how many conversions reached the device.
func (e *Engine) Dispatches() int64 { return e.dispatches.Load() }

// Fallbacks returns how many device dispatches failed over to the CPU.
func (e *Engine) Fallbacks() int64 { return e.fallbacks.Load() }

// Close releases the pool and the device.
func (e *Engine) Close() error {
	if e.dev == nil {
		return nil
	}
	e.pool.Close()
	return e.dev.Close()
}

// Convert produces the YCbCr form of img. Accelerator faults never surface
// as errors; they are recorded in the report and the CPU path recomputes.
func (e *Engine) Convert(ctx context.Context, img *models.ImageBuffer) (*Conversion, error) {
	if err := img.Validate(); err != nil {
		return nil, models.NewError(models.KindInternal, "convert", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.KindCancelled, "convert", err)
	}

	start := time.Now()
	out := &Conversion{
		Width:  img.Width,
		Height: img.Height,
		YCbCr:  make([]byte, img.Pixels()*3),
		Report: Report{Path: PathCPU, State: StateIdle, Device: e.DeviceName()},
	}

	switch reason := e.gate(img); reason {
	case "":
		e.dispatches.Add(1)
		err := e.dispatch(ctx, img, out.YCbCr, &out.Report)
		if err == nil {
			out.Report.Path = PathAccelerator
			break
		}
		if ctx.Err() != nil {
			return nil, models.NewError(models.KindCancelled, "accelerator dispatch", ctx.Err())
		}
		if !models.IsAcceleratorFault(err) {
			return nil, err
		}
		e.fallbacks.Add(1)
		out.Report.Fallback = err
		if models.KindOf(err) == models.KindAcceleratorTimeout {
			out.Report.Reason = ReasonTimeout
		} else {
			out.Report.Reason = ReasonDeviceError
		}
		logger.Warnf("accelerator %s failed for %dx%d, using CPU path: %v", e.DeviceName(), img.Width, img.Height, err)
		if err := e.cpu(img, out.YCbCr); err != nil {
			return nil, err
		}
	case ReasonUnavailable:
		out.Report.Reason = reason
		out.Report.Fallback = models.NewError(models.KindAcceleratorUnavailable, "convert", errors.New("no compute device"))
		if err := e.cpu(img, out.YCbCr); err != nil {
			return nil, err
		}
	default:
		out.Report.Reason = reason
		if err := e.cpu(img, out.YCbCr); err != nil {
			return nil, err
		}
	}

	out.Report.Elapsed = time.Since(start)
	if fn := e.observer.Load(); fn != nil {
		(*fn)(out.Report)
	}
	return out, nil
}

// gate returns "" when the device should be used, otherwise the reason it is skipped.
func (e *Engine) gate(img *models.ImageBuffer) string {
	switch {
	case !e.cfg.Enabled:
		return ReasonDisabled
	case img.Pixels() < e.cfg.ActivationThreshold:
		return ReasonBelowThreshold
	case e.dev == nil:
		return ReasonUnavailable
	}
	return ""
}

func (e *Engine) cpu(img *models.ImageBuffer, dst []byte) error {
	if err := colorspace.Convert(dst, img.Pix, img.Format.Channels); err != nil {
		return models.NewError(models.KindInternal, "cpu convert", err)
	}
	return nil
}

func (e *Engine) transition(rep *Report, res Resolution, s State) {
	logger.Debugf("accelerator dispatch %s: %s -> %s", res, rep.State, s)
	rep.State = s
}

// acquireAll borrows the four buffers of a dispatch in a fixed role order,
// so concurrent dispatches of one resolution cannot deadlock.
func (e *Engine) acquireAll(ctx context.Context, res Resolution) ([]*Handle, error) {
	roles := []Role{RoleParams, RoleInput, RoleOutput, RoleStaging}
	handles := make([]*Handle, 0, len(roles))
	for _, role := range roles {
		h, err := e.pool.Acquire(ctx, Key{Res: res, Role: role})
		if err != nil {
			for _, held := range handles {
				held.Release()
			}
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, models.NewError(models.KindAcceleratorDevice, "acquire "+role.String(), err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (e *Engine) dispatch(ctx context.Context, img *models.ImageBuffer, dst []byte, rep *Report) error {
	res := Resolution{Width: img.Width, Height: img.Height}

	handles, err := e.acquireAll(ctx, res)
	if err != nil {
		return err
	}
	params, input, output, staging := handles[0], handles[1], handles[2], handles[3]

	// Timed-out buffers go back to the pool: devices execute their queue in
	// order, so a late kernel finishes before a later write to the same
	// buffers lands. Buffers from a faulted device are destroyed instead.
	deviceFault := false
	defer func() {
		for _, h := range handles {
			if deviceFault {
				h.Discard()
			} else {
				h.Release()
			}
		}
	}()
	fail := func(op string, err error) error {
		deviceFault = true
		e.transition(rep, res, StateDeviceError)
		return models.NewError(models.KindAcceleratorDevice, op, err)
	}

	e.transition(rep, res, StateUploading)
	packed := make([]byte, img.Pixels()*4)
	if err := colorspace.PackRGBA(packed, img.Pix, img.Format.Channels); err != nil {
		return fail("pack", err)
	}
	if err := e.dev.WriteBuffer(input.Buffer, packed); err != nil {
		return fail("upload pixels", err)
	}
	if err := e.dev.WriteBuffer(params.Buffer, encodeParams(img.Width, img.Height)); err != nil {
		return fail("upload params", err)
	}

	e.submitMu.Lock()
	fence, err := e.dev.Submit(Dispatch{
		Params:  params.Buffer,
		Input:   input.Buffer,
		Output:  output.Buffer,
		Staging: staging.Buffer,
		Width:   img.Width,
		Height:  img.Height,
	})
	e.submitMu.Unlock()
	if err != nil {
		return fail("submit", err)
	}
	defer fence.Release()
	e.transition(rep, res, StateDispatched)

	e.transition(rep, res, StateAwaitingReadback)
	if err := fence.Wait(ctx, e.cfg.ReadbackTimeout); err != nil {
		switch {
		case errors.Is(err, ErrFenceTimeout):
			e.transition(rep, res, StateTimedOut)
			return models.NewError(models.KindAcceleratorTimeout, "readback", fmt.Errorf("no signal after %v", e.cfg.ReadbackTimeout))
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fail("wait", err)
		}
	}

	// packed is reused as the readback target; sizes match.
	if err := e.dev.ReadBuffer(staging.Buffer, packed); err != nil {
		return fail("readback", err)
	}
	if err := colorspace.UnpackYCbCr(dst, packed); err != nil {
		return fail("unpack", err)
	}
	e.transition(rep, res, StateReady)
	return nil
}
