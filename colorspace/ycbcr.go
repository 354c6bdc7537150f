// Package colorspace implements the BT.601 RGB/YCbCr transform shared by the
// CPU reference path and the accelerator kernel.
//
// All arithmetic is 16.16 fixed point on signed 32-bit integers: the sum is
// clamped at zero, shifted right by 16 (truncation), then capped at 255. The
// WGSL kernel in package accelerator evaluates the exact same expression, so
// both paths agree bit for bit.
package colorspace

// Fixed-point BT.601 coefficients, scaled by 1<<16. Each chroma row sums to
// zero so that gray inputs map to exactly 128.
const (
	YR = 19595 // 0.299
	YG = 38470 // 0.587
	YB = 7471  // 0.114

	CbR = -11058 // -0.168736
	CbG = -21710 // -0.331264
	CbB = 32768  //  0.5

	CrR = 32768  //  0.5
	CrG = -27439 // -0.418688
	CrB = -5329  // -0.081312

	ChromaOffset = 128 << 16
)

// Inverse transform coefficients, scaled by 1<<16.
const (
	rCr = 91881 // 1.402
	gCb = 22554 // 0.344136
	gCr = 46802 // 0.714136
	bCb = 116130
)

func clampShift(v int32) uint8 {
	if v < 0 {
		return 0
	}
	v >>= 16
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// RGBToYCbCr converts one pixel. Total over the input domain.
func RGBToYCbCr(r, g, b uint8) (y, cb, cr uint8) {
	ri, gi, bi := int32(r), int32(g), int32(b)
	y = clampShift(YR*ri + YG*gi + YB*bi)
	cb = clampShift(CbR*ri + CbG*gi + CbB*bi + ChromaOffset)
	cr = clampShift(CrR*ri + CrG*gi + CrB*bi + ChromaOffset)
	return
}

// YCbCrToRGB is the inverse transform, rounded to nearest.
func YCbCrToRGB(y, cb, cr uint8) (r, g, b uint8) {
	yy := int32(y)<<16 + 1<<15
	cbi := int32(cb) - 128
	cri := int32(cr) - 128
	r = clampShift(yy + rCr*cri)
	g = clampShift(yy - gCb*cbi - gCr*cri)
	b = clampShift(yy + bCb*cbi)
	return
}

// Luma returns only the Y component of RGBToYCbCr.
func Luma(r, g, b uint8) uint8 {
	return clampShift(YR*int32(r) + YG*int32(g) + YB*int32(b))
}
