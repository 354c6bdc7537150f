package compress

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"transmute/accelerator"
	"transmute/encoder"
	"transmute/logger"
	"transmute/models"
)

// Result is an encoded artifact with its fidelity and size figures.
type Result struct {
	Data           []byte
	Format         models.Format
	Width          int
	Height         int
	Metrics        Metrics
	OriginalSize   int // raw decoded size, width*height*channels
	CompressedSize int
	Params         models.CodecParams
	Passthrough    bool
	// Report is set when the color conversion engine ran.
	Report *accelerator.Report
	// Warning is a QualityBelowTarget error when SSIM missed the threshold.
	// The artifact is still usable.
	Warning error
}

// Ratio returns original over compressed size.
func (r *Result) Ratio() float64 {
	if r.CompressedSize == 0 {
		return 0
	}
	return float64(r.OriginalSize) / float64(r.CompressedSize)
}

// SizeReductionPercent returns how much smaller the artifact is than the raw samples.
func (r *Result) SizeReductionPercent() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return (1 - float64(r.CompressedSize)/float64(r.OriginalSize)) * 100
}

// Engine encodes decoded images under a quality policy.
type Engine struct {
	conv *accelerator.Engine
}

// New returns an engine that converts color through conv. A nil conv
// converts on the CPU.
func New(conv *accelerator.Engine) *Engine {
	if conv == nil {
		conv = accelerator.NewEngine(accelerator.Config{}, nil)
	}
	return &Engine{conv: conv}
}

// Accelerator returns the conversion engine.
func (e *Engine) Accelerator() *accelerator.Engine {
	return e.conv
}

// Passthrough returns raw unchanged when it is already a valid encoding of
// the target and params allow skipping the re-encode. ok is false when the
// caller has to decode and compress.
func Passthrough(raw []byte, src, target models.Format, params models.CodecParams) (*Result, bool) {
	if params.Reencode || !encoder.CanPassthrough(src, target) {
		return nil, false
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	return &Result{
		Data:           raw,
		Format:         target,
		Width:          cfg.Width,
		Height:         cfg.Height,
		Metrics:        Metrics{SSIM: 1, PSNR: math.Inf(1)},
		OriginalSize:   cfg.Width * cfg.Height * 3,
		CompressedSize: len(raw),
		Params:         params,
		Passthrough:    true,
	}, true
}

// Compress encodes img as target and measures the result against img.
func (e *Engine) Compress(ctx context.Context, img *models.ImageBuffer, target models.Format, params models.CodecParams) (*Result, error) {
	codec, err := encoder.Lookup(target)
	if err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, models.NewError(models.KindInternal, "compress", err)
	}

	res := &Result{
		Format:       target,
		Width:        img.Width,
		Height:       img.Height,
		OriginalSize: len(img.Pix),
		Params:       params,
	}

	var src image.Image
	if yc, ok := codec.(encoder.YCbCrEncoder); ok && yc.PrefersYCbCr() {
		conv, err := e.conv.Convert(ctx, img)
		if err != nil {
			return nil, err
		}
		src = encoder.YCbCrImage(conv.Width, conv.Height, conv.YCbCr)
		res.Report = &conv.Report
	} else {
		src = encoder.ToImage(img)
	}

	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.KindCancelled, "compress", err)
	}

	var out bytes.Buffer
	if err := codec.Encode(ctx, &out, src, encoder.Options{Quality: params.Quality, Level: params.Level}); err != nil {
		return nil, models.NewError(models.KindEncode, fmt.Sprintf("encode %s", target), err)
	}
	res.Data = out.Bytes()
	res.CompressedSize = len(res.Data)

	decoded, err := codec.Decode(ctx, bytes.NewReader(res.Data))
	if err != nil {
		return nil, models.NewError(models.KindEncode, fmt.Sprintf("verify %s", target), err)
	}
	m, err := Measure(img, encoder.ToBuffer(decoded))
	if err != nil {
		return nil, models.NewError(models.KindInternal, "measure", err)
	}
	m.EncoderQuality = params.Quality
	res.Metrics = m

	if params.SSIMThreshold > 0 && m.SSIM < params.SSIMThreshold {
		res.Warning = models.NewError(models.KindQualityBelowTarget, "compress",
			fmt.Errorf("ssim %.4f below %.2f at quality %d", m.SSIM, params.SSIMThreshold, params.Quality))
	}

	logger.Debugf("compressed %dx%d to %s: %d -> %d bytes, ssim %.4f, psnr %.2f",
		img.Width, img.Height, target, res.OriginalSize, res.CompressedSize, m.SSIM, m.PSNR)
	return res, nil
}
