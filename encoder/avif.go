package encoder

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"transmute/models"
)

const (
	avifEncCmd = "avifenc"
	avifDecCmd = "avifdec"
)

// AVIF shells out to libavif's command line tools through a PNG
// intermediate in a temporary directory.
type AVIF struct {
	Speed int // avifenc --speed, 0 (slowest) to 10; 0 means 6
}

func (AVIF) Format() models.Format { return models.FormatAVIF }
func (AVIF) Lossy() bool           { return true }

func (AVIF) SupportsPassthroughWith(models.Format) bool { return false }

func (a AVIF) Encode(ctx context.Context, w io.Writer, img image.Image, o Options) error {
	dir, err := os.MkdirTemp("", "transmute-avif-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.png")
	out := filepath.Join(dir, "out.avif")
	if err := writePNG(in, img); err != nil {
		return err
	}

	speed := a.Speed
	if speed <= 0 {
		speed = 6
	}
	args := []string{
		"-q", fmt.Sprint(clampQuality(o.Quality)),
		"--speed", fmt.Sprint(speed),
		in, out,
	}
	cmd := exec.CommandContext(ctx, avifEncCmd, args...)
	if msg, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", avifEncCmd, err, msg)
	}

	f, err := os.Open(out)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func (AVIF) Decode(ctx context.Context, r io.Reader) (image.Image, error) {
	dir, err := os.MkdirTemp("", "transmute-avif-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.avif")
	out := filepath.Join(dir, "out.png")
	f, err := os.Create(in)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, avifDecCmd, in, out)
	if msg, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", avifDecCmd, err, msg)
	}

	pf, err := os.Open(out)
	if err != nil {
		return nil, err
	}
	defer pf.Close()
	return png.Decode(pf)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
