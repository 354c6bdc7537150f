package encoder

import (
	"context"
	"image"
	"io"

	"github.com/chai2010/webp"

	"transmute/models"
)

// WebP encodes lossy below quality 100 and lossless at 100.
type WebP struct{}

func (WebP) Format() models.Format { return models.FormatWebP }
func (WebP) Lossy() bool           { return true }

func (WebP) SupportsPassthroughWith(models.Format) bool { return false }

func (WebP) Encode(_ context.Context, w io.Writer, img image.Image, o Options) error {
	q := clampQuality(o.Quality)
	return webp.Encode(w, img, &webp.Options{
		Lossless: q == 100,
		Quality:  float32(q),
	})
}

func (WebP) Decode(_ context.Context, r io.Reader) (image.Image, error) {
	return webp.Decode(r)
}
