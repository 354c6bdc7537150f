package encoder

import (
	"image"
	"image/color"

	"transmute/colorspace"
	"transmute/models"
)

type opaquer interface {
	Opaque() bool
}

// ToBuffer copies a decoded image into an interleaved 8-bit buffer. Opaque
// images become RGB; images with any transparency keep straight alpha.
func ToBuffer(img image.Image) *models.ImageBuffer {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	opaque := false
	if o, ok := img.(opaquer); ok {
		opaque = o.Opaque()
	}
	format := models.RGBA8
	if opaque {
		format = models.RGB8
	}
	buf := models.NewImageBuffer(w, h, format)
	ch := format.Channels

	switch m := img.(type) {
	case *image.YCbCr:
		for y := 0; y < h; y++ {
			row := buf.Pix[y*w*ch:]
			for x := 0; x < w; x++ {
				yi := m.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := m.COffset(b.Min.X+x, b.Min.Y+y)
				d := row[x*ch:]
				d[0], d[1], d[2] = colorspace.YCbCrToRGB(m.Y[yi], m.Cb[ci], m.Cr[ci])
				if ch == 4 {
					d[3] = 0xff
				}
			}
		}
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			src := m.Pix[m.PixOffset(b.Min.X, b.Min.Y+y):]
			row := buf.Pix[y*w*ch:]
			for x := 0; x < w; x++ {
				copy(row[x*ch:x*ch+ch], src[x*4:x*4+ch])
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			src := m.Pix[m.PixOffset(b.Min.X, b.Min.Y+y):]
			row := buf.Pix[y*w*ch:]
			for x := 0; x < w; x++ {
				v := src[x]
				d := row[x*ch:]
				d[0], d[1], d[2] = v, v, v
				if ch == 4 {
					d[3] = 0xff
				}
			}
		}
	default:
		for y := 0; y < h; y++ {
			row := buf.Pix[y*w*ch:]
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				d := row[x*ch:]
				d[0], d[1], d[2] = c.R, c.G, c.B
				if ch == 4 {
					d[3] = c.A
				}
			}
		}
	}
	return buf
}

// ToImage wraps buffer samples in an *image.NRGBA.
func ToImage(buf *models.ImageBuffer) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, buf.Width, buf.Height))
	ch := buf.Format.Channels
	if ch == 4 {
		copy(img.Pix, buf.Pix)
		return img
	}
	n := buf.Pixels()
	for i := 0; i < n; i++ {
		img.Pix[i*4] = buf.Pix[i*3]
		img.Pix[i*4+1] = buf.Pix[i*3+1]
		img.Pix[i*4+2] = buf.Pix[i*3+2]
		img.Pix[i*4+3] = 0xff
	}
	return img
}

// YCbCrImage deinterleaves 3-byte YCbCr samples into a 4:4:4 image.
func YCbCrImage(width, height int, ycc []byte) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio444)
	n := width * height
	for i := 0; i < n; i++ {
		img.Y[i] = ycc[i*3]
		img.Cb[i] = ycc[i*3+1]
		img.Cr[i] = ycc[i*3+2]
	}
	return img
}

// Info decodes only what is needed to describe an image.
func Info(img image.Image, f models.Format, size int) models.ImageInfo {
	b := img.Bounds()
	hasAlpha := true
	if o, ok := img.(opaquer); ok {
		hasAlpha = !o.Opaque()
	}
	return models.ImageInfo{Width: b.Dx(), Height: b.Dy(), Format: f, HasAlpha: hasAlpha, Size: size}
}
