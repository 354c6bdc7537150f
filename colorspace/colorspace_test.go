package colorspace

import (
	"math"
	"math/rand"
	"testing"
)

func TestGrayMapsToNeutralChroma(t *testing.T) {
	for v := 0; v < 256; v++ {
		y, cb, cr := RGBToYCbCr(uint8(v), uint8(v), uint8(v))
		if int(y) != v || cb != 128 || cr != 128 {
			t.Fatalf("gray %d -> (%d,%d,%d)", v, y, cb, cr)
		}
	}
}

func TestMatchesFloatReference(t *testing.T) {
	ref := func(r, g, b float64) (float64, float64, float64) {
		y := 0.299*r + 0.587*g + 0.114*b
		cb := -0.168736*r - 0.331264*g + 0.5*b + 128
		cr := 0.5*r - 0.418688*g - 0.081312*b + 128
		return y, cb, cr
	}
	clampTrunc := func(v float64) float64 {
		return math.Min(255, math.Floor(math.Max(0, v)))
	}
	for r := 0; r < 256; r += 5 {
		for g := 0; g < 256; g += 3 {
			for b := 0; b < 256; b += 7 {
				y, cb, cr := RGBToYCbCr(uint8(r), uint8(g), uint8(b))
				fy, fcb, fcr := ref(float64(r), float64(g), float64(b))
				if math.Abs(float64(y)-clampTrunc(fy)) > 1 ||
					math.Abs(float64(cb)-clampTrunc(fcb)) > 1 ||
					math.Abs(float64(cr)-clampTrunc(fcr)) > 1 {
					t.Fatalf("(%d,%d,%d): got (%d,%d,%d), want about (%.2f,%.2f,%.2f)", r, g, b, y, cb, cr, fy, fcb, fcr)
				}
			}
		}
	}
}

func TestConvertMatchesScalar(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, channels := range []int{3, 4} {
		for _, n := range []int{0, 1, 3, 4, 5, 17, 1024, 1027} {
			src := make([]byte, n*channels)
			rng.Read(src)
			dst := make([]byte, n*3)
			if err := Convert(dst, src, channels); err != nil {
				t.Fatalf("Convert(%d px, %d ch): %v", n, channels, err)
			}
			for i := 0; i < n; i++ {
				y, cb, cr := RGBToYCbCr(src[i*channels], src[i*channels+1], src[i*channels+2])
				if dst[i*3] != y || dst[i*3+1] != cb || dst[i*3+2] != cr {
					t.Fatalf("pixel %d of %d (%d ch) differs", i, n, channels)
				}
			}
		}
	}
}

func TestConvertRejectsBadLengths(t *testing.T) {
	tests := []struct {
		name     string
		dst, src int
		channels int
	}{
		{"two channels", 6, 4, 2},
		{"ragged source", 3, 4, 3},
		{"short destination", 5, 6, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Convert(make([]byte, tt.dst), make([]byte, tt.src), tt.channels); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPackAndKernelWordAgreeWithConvert(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const n = 333
	src := make([]byte, n*3)
	rng.Read(src)

	packed := make([]byte, n*4)
	if err := PackRGBA(packed, src, 3); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		in := uint32(packed[i*4]) | uint32(packed[i*4+1])<<8 | uint32(packed[i*4+2])<<16 | uint32(packed[i*4+3])<<24
		w := KernelWord(in)
		out[i*4], out[i*4+1], out[i*4+2], out[i*4+3] = byte(w), byte(w>>8), byte(w>>16), byte(w>>24)
	}
	got := make([]byte, n*3)
	if err := UnpackYCbCr(got, out); err != nil {
		t.Fatal(err)
	}

	want := make([]byte, n*3)
	if err := Convert(want, src, 3); err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: kernel %d, reference %d", i, got[i], want[i])
		}
	}
}

func BenchmarkConvert(b *testing.B) {
	src := make([]byte, 1920*1080*3)
	dst := make([]byte, len(src))
	b.SetBytes(int64(len(src)))
	for i := 0; i < b.N; i++ {
		_ = Convert(dst, src, 3)
	}
}
