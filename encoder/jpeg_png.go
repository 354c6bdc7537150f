package encoder

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"transmute/models"
)

// JPEG uses the standard library codec. It accepts *image.YCbCr directly,
// skipping the encoder's own RGB conversion.
type JPEG struct{}

func (JPEG) Format() models.Format { return models.FormatJPEG }
func (JPEG) Lossy() bool           { return true }
func (JPEG) PrefersYCbCr() bool    { return true }

func (JPEG) SupportsPassthroughWith(src models.Format) bool {
	return src == models.FormatJPEG
}

func (JPEG) Encode(_ context.Context, w io.Writer, img image.Image, o Options) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: clampQuality(o.Quality)})
}

func (JPEG) Decode(_ context.Context, r io.Reader) (image.Image, error) {
	return jpeg.Decode(r)
}

// PNG maps effort level 0-6 onto the standard encoder, and at level 6 also
// re-deflates the image data at maximum compression.
type PNG struct{}

func (PNG) Format() models.Format { return models.FormatPNG }
func (PNG) Lossy() bool           { return false }

func (PNG) SupportsPassthroughWith(models.Format) bool { return false }

func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.BestSpeed
	case level < 4:
		return png.DefaultCompression
	}
	return png.BestCompression
}

func (PNG) Encode(_ context.Context, w io.Writer, img image.Image, o Options) error {
	enc := png.Encoder{CompressionLevel: pngLevel(o.Level)}
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return err
	}
	out := buf.Bytes()
	if o.Level >= 6 {
		if smaller, err := recompressIDAT(out); err == nil && len(smaller) < len(out) {
			out = smaller
		}
	}
	_, err := w.Write(out)
	return err
}

func (PNG) Decode(_ context.Context, r io.Reader) (image.Image, error) {
	return png.Decode(r)
}
