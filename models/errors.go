package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure at a task boundary.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnsupportedFormat
	KindDecode
	KindAcceleratorUnavailable
	KindAcceleratorTimeout
	KindAcceleratorDevice
	KindQualityBelowTarget
	KindEncode
	KindIO
	KindCancelled
	KindInternal
)

var kindNames = map[ErrorKind]string{
	KindNone:                   "None",
	KindUnsupportedFormat:      "UnsupportedFormat",
	KindDecode:                 "DecodeError",
	KindAcceleratorUnavailable: "AcceleratorUnavailable",
	KindAcceleratorTimeout:     "AcceleratorTimeout",
	KindAcceleratorDevice:      "AcceleratorDeviceError",
	KindQualityBelowTarget:     "QualityBelowTarget",
	KindEncode:                 "EncodeError",
	KindIO:                     "IOError",
	KindCancelled:              "Cancelled",
	KindInternal:               "InternalError",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// MarshalText lets kinds appear by name in persisted records.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ErrorKind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", b)
}

// Sentinels, one per kind. *Error values match them with errors.Is.
var (
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrDecode                 = errors.New("decode failed")
	ErrAcceleratorUnavailable = errors.New("accelerator unavailable")
	ErrAcceleratorTimeout     = errors.New("accelerator readback timed out")
	ErrAcceleratorDevice      = errors.New("accelerator device error")
	ErrQualityBelowTarget     = errors.New("quality below target")
	ErrEncode                 = errors.New("encode failed")
	ErrIO                     = errors.New("i/o error")
	ErrCancelled              = errors.New("cancelled")
	ErrInternal               = errors.New("internal error")
)

var kindSentinels = map[ErrorKind]error{
	KindUnsupportedFormat:      ErrUnsupportedFormat,
	KindDecode:                 ErrDecode,
	KindAcceleratorUnavailable: ErrAcceleratorUnavailable,
	KindAcceleratorTimeout:     ErrAcceleratorTimeout,
	KindAcceleratorDevice:      ErrAcceleratorDevice,
	KindQualityBelowTarget:     ErrQualityBelowTarget,
	KindEncode:                 ErrEncode,
	KindIO:                     ErrIO,
	KindCancelled:              ErrCancelled,
	KindInternal:               ErrInternal,
}

// Error is a classified failure. Op names the stage that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the kind of the first *Error in err's chain. Errors that
// are not classified map to Cancelled for context errors, Internal otherwise.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsAcceleratorFault reports whether err is one of the kinds the dispatch
// engine absorbs by falling back to the CPU path.
func IsAcceleratorFault(err error) bool {
	switch KindOf(err) {
	case KindAcceleratorUnavailable, KindAcceleratorTimeout, KindAcceleratorDevice:
		return true
	}
	return false
}
