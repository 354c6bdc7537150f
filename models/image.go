package models

import "fmt"

// PixelFormat describes the sample layout of an ImageBuffer.
type PixelFormat struct {
	Channels int // 3 (RGB) or 4 (RGBA)
	BitDepth int // bits per sample, only 8 is produced by the decoders
}

var (
	RGB8  = PixelFormat{Channels: 3, BitDepth: 8}
	RGBA8 = PixelFormat{Channels: 4, BitDepth: 8}
)

// HasAlpha reports whether the format carries an alpha channel.
func (f PixelFormat) HasAlpha() bool {
	return f.Channels == 4
}

func (f PixelFormat) String() string {
	switch f {
	case RGB8:
		return "rgb8"
	case RGBA8:
		return "rgba8"
	}
	return fmt.Sprintf("%dch/%dbit", f.Channels, f.BitDepth)
}

// ImageBuffer holds decoded, interleaved 8-bit samples.
// len(Pix) is always Width*Height*Format.Channels.
type ImageBuffer struct {
	Width  int
	Height int
	Format PixelFormat
	Pix    []byte
}

// NewImageBuffer allocates a zeroed buffer of the given size.
func NewImageBuffer(width, height int, format PixelFormat) *ImageBuffer {
	return &ImageBuffer{
		Width:  width,
		Height: height,
		Format: format,
		Pix:    make([]byte, width*height*format.Channels),
	}
}

// Pixels returns width*height.
func (b *ImageBuffer) Pixels() int {
	return b.Width * b.Height
}

// Stride returns the number of bytes per row.
func (b *ImageBuffer) Stride() int {
	return b.Width * b.Format.Channels
}

// Validate checks the buffer invariant.
func (b *ImageBuffer) Validate() error {
	if b == nil {
		return fmt.Errorf("nil image buffer")
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", b.Width, b.Height)
	}
	if b.Format.Channels != 3 && b.Format.Channels != 4 {
		return fmt.Errorf("unsupported channel count %d", b.Format.Channels)
	}
	if b.Format.BitDepth != 8 {
		return fmt.Errorf("unsupported bit depth %d", b.Format.BitDepth)
	}
	if want := b.Width * b.Height * b.Format.Channels; len(b.Pix) != want {
		return fmt.Errorf("sample length %d does not match %dx%dx%d", len(b.Pix), b.Width, b.Height, b.Format.Channels)
	}
	return nil
}

// ImageInfo is the metadata reported for a decoded source.
type ImageInfo struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   Format `json:"format"`
	HasAlpha bool   `json:"has_alpha"`
	Size     int    `json:"size"`
}
