package encoder

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sort"
	"sync"

	"transmute/logger"
	"transmute/models"
)

// Options are the resolved encoder knobs.
type Options struct {
	Quality int // 1-100, used by lossy codecs
	Level   int // 0-6 compression effort, used by lossless codecs
}

// Codec encodes and decodes one container format.
type Codec interface {
	Format() models.Format
	Lossy() bool
	Encode(ctx context.Context, w io.Writer, img image.Image, opts Options) error
	Decode(ctx context.Context, r io.Reader) (image.Image, error)
	// SupportsPassthroughWith reports whether bytes already encoded as src
	// can be emitted unchanged for this codec.
	SupportsPassthroughWith(src models.Format) bool
}

// YCbCrEncoder is implemented by codecs whose native input is luma/chroma.
// The compression engine hands them an *image.YCbCr built by the
// accelerator instead of an RGB image.
type YCbCrEncoder interface {
	PrefersYCbCr() bool
}

var (
	mu           sync.RWMutex
	registry     = map[models.Format]Codec{}
	defaultsOnce sync.Once
)

// Register adds a codec, replacing any codec for the same format.
func Register(c Codec) {
	mu.Lock()
	registry[c.Format()] = c
	mu.Unlock()
	logger.Debugf("codec [%s] registered", c.Format())
}

// RegisterCommand adds a codec backed by external commands if all of them
// exist, and logs a warning otherwise.
func RegisterCommand(c Codec, cmdNames ...string) bool {
	for _, cmd := range cmdNames {
		if _, err := exec.LookPath(cmd); err != nil {
			logger.Warnf("codec [%s] skipped: command '%s' not found in PATH", c.Format(), cmd)
			return false
		}
	}
	Register(c)
	return true
}

// Get looks up the codec for a format.
func Get(f models.Format) (Codec, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[f]
	return c, ok
}

// Lookup is Get returning an UnsupportedFormat error for unknown formats.
func Lookup(f models.Format) (Codec, error) {
	c, ok := Get(f)
	if !ok {
		return nil, models.NewError(models.KindUnsupportedFormat, "lookup", fmt.Errorf("no codec registered for %q", f))
	}
	return c, nil
}

// Formats lists registered formats in name order.
func Formats() []models.Format {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]models.Format, 0, len(registry))
	for f := range registry {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RegisterDefaults registers every built-in codec once.
func RegisterDefaults() {
	defaultsOnce.Do(func() {
		Register(JPEG{})
		Register(PNG{})
		Register(WebP{})
		Register(TIFF{})
		Register(BMP{})
		Register(GIF{})
		RegisterCommand(AVIF{}, avifEncCmd, avifDecCmd)
	})
}

// CanPassthrough reports whether src-encoded bytes may be copied verbatim
// to target.
func CanPassthrough(src, target models.Format) bool {
	c, ok := Get(target)
	return ok && c.SupportsPassthroughWith(src)
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
