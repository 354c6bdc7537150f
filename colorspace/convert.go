package colorspace

import (
	"errors"
	"fmt"
)

// GroupSize is the number of pixels converted per unrolled iteration.
const GroupSize = 4

var ErrChannels = errors.New("colorspace: channel count must be 3 or 4")

// Convert writes interleaved 3-byte YCbCr samples for every pixel of src
// into dst. src holds 3 (RGB) or 4 (RGBA, alpha ignored) bytes per pixel.
// dst must hold exactly pixels*3 bytes.
//
// Convert only reads src and writes dst, so concurrent calls on disjoint
// destinations are safe.
func Convert(dst, src []byte, channels int) error {
	if channels != 3 && channels != 4 {
		return ErrChannels
	}
	if len(src)%channels != 0 {
		return fmt.Errorf("colorspace: source length %d is not a multiple of %d", len(src), channels)
	}
	n := len(src) / channels
	if len(dst) != n*3 {
		return fmt.Errorf("colorspace: destination length %d, want %d", len(dst), n*3)
	}

	// Re-slice so the compiler can drop per-sample bounds checks.
	src = src[:n*channels]
	dst = dst[:n*3]

	i := 0
	groups := n - n%GroupSize
	for ; i < groups; i += GroupSize {
		s := src[i*channels : (i+GroupSize)*channels : (i+GroupSize)*channels]
		d := dst[i*3 : i*3+12 : i*3+12]

		d[0], d[1], d[2] = RGBToYCbCr(s[0], s[1], s[2])
		s1 := s[channels:]
		d[3], d[4], d[5] = RGBToYCbCr(s1[0], s1[1], s1[2])
		s2 := s[2*channels:]
		d[6], d[7], d[8] = RGBToYCbCr(s2[0], s2[1], s2[2])
		s3 := s[3*channels:]
		d[9], d[10], d[11] = RGBToYCbCr(s3[0], s3[1], s3[2])
	}
	for ; i < n; i++ {
		s := src[i*channels : i*channels+3]
		dst[i*3], dst[i*3+1], dst[i*3+2] = RGBToYCbCr(s[0], s[1], s[2])
	}
	return nil
}

// PackRGBA expands 3- or 4-channel samples into 32-bit little-endian words
// (r | g<<8 | b<<16 | a<<24), the layout the accelerator kernel reads.
func PackRGBA(dst, src []byte, channels int) error {
	if channels != 3 && channels != 4 {
		return ErrChannels
	}
	n := len(src) / channels
	if len(src)%channels != 0 || len(dst) != n*4 {
		return fmt.Errorf("colorspace: pack %d samples into %d bytes", len(src), len(dst))
	}
	if channels == 4 {
		copy(dst, src)
		return nil
	}
	for i := 0; i < n; i++ {
		dst[i*4] = src[i*3]
		dst[i*4+1] = src[i*3+1]
		dst[i*4+2] = src[i*3+2]
		dst[i*4+3] = 0xff
	}
	return nil
}

// UnpackYCbCr drops the padding byte from packed kernel output.
func UnpackYCbCr(dst, src []byte) error {
	n := len(src) / 4
	if len(src)%4 != 0 || len(dst) != n*3 {
		return fmt.Errorf("colorspace: unpack %d bytes into %d", len(src), len(dst))
	}
	for i := 0; i < n; i++ {
		dst[i*3] = src[i*4]
		dst[i*3+1] = src[i*4+1]
		dst[i*3+2] = src[i*4+2]
	}
	return nil
}

// KernelWord computes one packed output word from one packed input word.
// It is the scalar body of the accelerator kernel.
func KernelWord(in uint32) uint32 {
	y, cb, cr := RGBToYCbCr(uint8(in), uint8(in>>8), uint8(in>>16))
	return uint32(y) | uint32(cb)<<8 | uint32(cr)<<16 | 0xff<<24
}
