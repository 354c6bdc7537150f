// Package accelerator offloads BT.601 color conversion to a GPU compute
// device. It owns the device-side buffer pool and the dispatch state machine,
// and falls back to the colorspace reference path on any device fault.
package accelerator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Role is the purpose of a pooled device buffer.
type Role int

const (
	RoleInput Role = iota
	RoleOutput
	RoleStaging
	RoleParams
)

func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleOutput:
		return "output"
	case RoleStaging:
		return "staging"
	case RoleParams:
		return "params"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// bytesPerPixel for pixel-sized roles; input and output are packed 32-bit words.
func (r Role) bytesPerPixel() int {
	switch r {
	case RoleInput, RoleOutput, RoleStaging:
		return 4
	}
	return 0
}

// ParamsSize is the uniform block: width, height and two pad words.
const ParamsSize = 16

// Resolution is the pool's first key component.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Key identifies a pooled buffer. Buffers are shared only on an exact match.
type Key struct {
	Res  Resolution
	Role Role
}

// Size returns the exact allocation size for the key.
func (k Key) Size() uint64 {
	if k.Role == RoleParams {
		return ParamsSize
	}
	return uint64(k.Res.Width) * uint64(k.Res.Height) * uint64(k.Role.bytesPerPixel())
}

func (k Key) String() string {
	return k.Res.String() + "/" + k.Role.String()
}

// ErrFenceTimeout is returned by Fence.Wait when the device did not signal in time.
var ErrFenceTimeout = errors.New("fence wait timed out")

// ErrDeviceClosed is returned by operations on a closed device.
var ErrDeviceClosed = errors.New("device closed")

// Buffer is a device-side allocation.
type Buffer interface {
	Size() uint64
}

// Dispatch is one kernel invocation over a Width x Height grid. The kernel
// reads Input, writes Output, and the submission copies Output to Staging.
type Dispatch struct {
	Params  Buffer
	Input   Buffer
	Output  Buffer
	Staging Buffer
	Width   int
	Height  int
}

// Fence signals completion of a submitted dispatch.
type Fence interface {
	// Wait blocks the calling goroutine until the dispatch completes, the
	// timeout elapses (ErrFenceTimeout) or ctx is done.
	Wait(ctx context.Context, timeout time.Duration) error
	// Release frees the fence and any per-submission resources.
	Release()
}

// Device is a compute device able to run the conversion kernel.
// Submit is not required to be safe for concurrent use; the Engine
// serializes it.
type Device interface {
	Name() string
	CreateBuffer(label string, role Role, size uint64) (Buffer, error)
	DestroyBuffer(b Buffer)
	WriteBuffer(b Buffer, data []byte) error
	Submit(d Dispatch) (Fence, error)
	ReadBuffer(b Buffer, dst []byte) error
	Close() error
}

// encodeParams lays out the uniform block the kernel reads.
func encodeParams(width, height int) []byte {
	p := make([]byte, ParamsSize)
	binary.LittleEndian.PutUint32(p[0:], uint32(width))
	binary.LittleEndian.PutUint32(p[4:], uint32(height))
	return p
}

// workgroups returns the dispatch grid for the 16x16 kernel.
func workgroups(width, height int) (x, y uint32) {
	return uint32((width + TileSize - 1) / TileSize), uint32((height + TileSize - 1) / TileSize)
}
