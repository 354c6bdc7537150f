package compress

import (
	"fmt"
	"math"

	"transmute/colorspace"
	"transmute/models"
)

// Metrics are fidelity measurements of an encoded artifact against its source.
type Metrics struct {
	SSIM           float64 `json:"ssim"`
	PSNR           float64 `json:"psnr"`
	MSE            float64 `json:"mse"`
	// EncoderQuality is the quality the codec ran at; zero when nothing was encoded.
	EncoderQuality int `json:"encoder_quality"`
}

const (
	ssimWindow = 8
	ssimC1     = (0.01 * 255) * (0.01 * 255)
	ssimC2     = (0.03 * 255) * (0.03 * 255)
)

// Measure compares the RGB samples of b against a. Alpha is ignored.
func Measure(a, b *models.ImageBuffer) (Metrics, error) {
	if a.Width != b.Width || a.Height != b.Height {
		return Metrics{}, fmt.Errorf("size mismatch %dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	mse := MSE(a, b)
	return Metrics{
		MSE:  mse,
		PSNR: PSNR(mse),
		SSIM: SSIM(luma(a), luma(b), a.Width, a.Height),
	}, nil
}

// MSE is the mean squared error over the RGB channels.
func MSE(a, b *models.ImageBuffer) float64 {
	ca, cb := a.Format.Channels, b.Format.Channels
	n := a.Pixels()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		pa, pb := a.Pix[i*ca:], b.Pix[i*cb:]
		for c := 0; c < 3; c++ {
			d := float64(pa[c]) - float64(pb[c])
			sum += d * d
		}
	}
	return sum / float64(n*3)
}

// PSNR in dB for 8-bit samples. Identical images give +Inf.
func PSNR(mse float64) float64 {
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(255*255/mse)
}

func luma(img *models.ImageBuffer) []byte {
	ch := img.Format.Channels
	out := make([]byte, img.Pixels())
	for i := range out {
		p := img.Pix[i*ch:]
		out[i] = colorspace.Luma(p[0], p[1], p[2])
	}
	return out
}

// SSIM is the mean structural similarity of two luma planes over
// non-overlapping 8x8 windows. Edge windows are clipped.
func SSIM(a, b []byte, width, height int) float64 {
	var total float64
	var windows int
	for y0 := 0; y0 < height; y0 += ssimWindow {
		y1 := min(y0+ssimWindow, height)
		for x0 := 0; x0 < width; x0 += ssimWindow {
			x1 := min(x0+ssimWindow, width)
			total += windowSSIM(a, b, width, x0, y0, x1, y1)
			windows++
		}
	}
	if windows == 0 {
		return 1
	}
	return total / float64(windows)
}

func windowSSIM(a, b []byte, stride, x0, y0, x1, y1 int) float64 {
	var sa, sb, saa, sbb, sab float64
	n := float64((x1 - x0) * (y1 - y0))
	for y := y0; y < y1; y++ {
		row := y * stride
		for x := x0; x < x1; x++ {
			va, vb := float64(a[row+x]), float64(b[row+x])
			sa += va
			sb += vb
			saa += va * va
			sbb += vb * vb
			sab += va * vb
		}
	}
	ma, mb := sa/n, sb/n
	varA := saa/n - ma*ma
	varB := sbb/n - mb*mb
	cov := sab/n - ma*mb
	return ((2*ma*mb + ssimC1) * (2*cov + ssimC2)) /
		((ma*ma + mb*mb + ssimC1) * (varA + varB + ssimC2))
}
