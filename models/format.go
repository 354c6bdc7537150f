package models

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies an encoded image container.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
	FormatGIF  Format = "gif"
	FormatAVIF Format = "avif"
)

// AllFormats lists every format the tool knows about, registered or not.
var AllFormats = []Format{FormatJPEG, FormatPNG, FormatWebP, FormatTIFF, FormatBMP, FormatGIF, FormatAVIF}

var formatAliases = map[string]Format{
	"jpeg": FormatJPEG,
	"jpg":  FormatJPEG,
	"jpe":  FormatJPEG,
	"png":  FormatPNG,
	"webp": FormatWebP,
	"tiff": FormatTIFF,
	"tif":  FormatTIFF,
	"bmp":  FormatBMP,
	"gif":  FormatGIF,
	"avif": FormatAVIF,

	"image/jpeg": FormatJPEG,
	"image/png":  FormatPNG,
	"image/webp": FormatWebP,
	"image/tiff": FormatTIFF,
	"image/bmp":  FormatBMP,
	"image/gif":  FormatGIF,
	"image/avif": FormatAVIF,
}

// ParseFormat accepts a format name, an extension (with or without the dot)
// or a MIME type.
func ParseFormat(s string) (Format, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	if f, ok := formatAliases[key]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// FormatFromPath guesses the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, filepath.Base(path))
	}
	return ParseFormat(ext)
}

// Extension returns the canonical file extension without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatTIFF:
		return "tiff"
	}
	return string(f)
}

// MIME returns the media type for the format.
func (f Format) MIME() string {
	return "image/" + string(f)
}

// Lossy reports whether encoding to f discards information.
func (f Format) Lossy() bool {
	switch f {
	case FormatJPEG, FormatWebP, FormatAVIF:
		return true
	}
	return false
}

func (f Format) String() string {
	return string(f)
}
