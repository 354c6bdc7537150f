package encoder

import (
	"context"
	"image"
	"image/gif"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"transmute/models"
)

// TIFF writes deflate-compressed strips; level 0 writes uncompressed.
type TIFF struct{}

func (TIFF) Format() models.Format { return models.FormatTIFF }
func (TIFF) Lossy() bool           { return false }

func (TIFF) SupportsPassthroughWith(models.Format) bool { return false }

func (TIFF) Encode(_ context.Context, w io.Writer, img image.Image, o Options) error {
	opts := &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	if o.Level <= 0 {
		opts = &tiff.Options{Compression: tiff.Uncompressed}
	}
	return tiff.Encode(w, img, opts)
}

func (TIFF) Decode(_ context.Context, r io.Reader) (image.Image, error) {
	return tiff.Decode(r)
}

type BMP struct{}

func (BMP) Format() models.Format { return models.FormatBMP }
func (BMP) Lossy() bool           { return false }

func (BMP) SupportsPassthroughWith(models.Format) bool { return false }

func (BMP) Encode(_ context.Context, w io.Writer, img image.Image, _ Options) error {
	return bmp.Encode(w, img)
}

func (BMP) Decode(_ context.Context, r io.Reader) (image.Image, error) {
	return bmp.Decode(r)
}

// GIF quantizes to a 256-color palette. Only the first frame is decoded.
type GIF struct{}

func (GIF) Format() models.Format { return models.FormatGIF }
func (GIF) Lossy() bool           { return false }

func (GIF) SupportsPassthroughWith(models.Format) bool { return false }

func (GIF) Encode(_ context.Context, w io.Writer, img image.Image, _ Options) error {
	return gif.Encode(w, img, &gif.Options{NumColors: 256})
}

func (GIF) Decode(_ context.Context, r io.Reader) (image.Image, error) {
	return gif.Decode(r)
}
