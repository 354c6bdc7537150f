package compress

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"testing"

	"transmute/accelerator"
	"transmute/encoder"
	"transmute/models"
)

func TestMain(m *testing.M) {
	encoder.RegisterDefaults()
	os.Exit(m.Run())
}

func gradient(w, h int) *models.ImageBuffer {
	buf := models.NewImageBuffer(w, h, models.RGB8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := buf.Pix[(y*w+x)*3:]
			p[0] = byte(x * 255 / (w - 1))
			p[1] = byte(y * 255 / (h - 1))
			p[2] = 128
		}
	}
	return buf
}

func noise(w, h int, seed int64) *models.ImageBuffer {
	buf := models.NewImageBuffer(w, h, models.RGB8)
	rand.New(rand.NewSource(seed)).Read(buf.Pix)
	return buf
}

func TestResolvePresets(t *testing.T) {
	tests := []struct {
		preset  string
		format  models.Format
		quality int
		level   int
		ssim    float64
	}{
		{models.PresetMaximum, models.FormatJPEG, 98, 0, 0.98},
		{models.PresetHigh, models.FormatJPEG, 95, 2, 0.95},
		{models.PresetHigh, models.FormatWebP, 90, 2, 0.95},
		{models.PresetBalanced, models.FormatAVIF, 85, 4, 0.90},
		{models.PresetBalanced, models.FormatWebP, 80, 4, 0.90},
		{models.PresetLow, models.FormatJPEG, 75, 6, 0},
		{models.PresetLow, models.FormatPNG, 75, 6, 0},
	}
	for _, tt := range tests {
		p, err := Resolve(models.Preset(tt.preset), tt.format)
		if err != nil {
			t.Fatalf("Resolve(%s, %s): %v", tt.preset, tt.format, err)
		}
		if p.Quality != tt.quality || p.Level != tt.level || p.SSIMThreshold != tt.ssim || p.Preset != tt.preset {
			t.Errorf("Resolve(%s, %s) = %+v", tt.preset, tt.format, p)
		}
	}
}

func TestResolveNumericQuality(t *testing.T) {
	tests := []struct {
		value int
		level int
		ssim  float64
	}{
		{100, 0, 0.98},
		{96, 1, 0.95},
		{90, 1, 0.90},
		{80, 2, 0},
		{50, 3, 0},
		{1, 6, 0},
	}
	for _, tt := range tests {
		p, err := Resolve(models.Quality(tt.value), models.FormatJPEG)
		if err != nil {
			t.Fatal(err)
		}
		if p.Quality != tt.value || p.Level != tt.level || p.SSIMThreshold != tt.ssim {
			t.Errorf("Resolve(%d) = %+v", tt.value, p)
		}
	}
}

func TestResolveDefaultsAndErrors(t *testing.T) {
	p, err := Resolve(models.QualitySpec{}, models.FormatJPEG)
	if err != nil || p.Preset != models.PresetBalanced {
		t.Errorf("zero spec resolved to %+v, %v", p, err)
	}
	if _, err := Resolve(models.Preset("ultra"), models.FormatJPEG); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestMeasure(t *testing.T) {
	a := models.NewImageBuffer(16, 16, models.RGB8)
	for i := range a.Pix {
		a.Pix[i] = 100
	}
	m, err := Measure(a, a)
	if err != nil {
		t.Fatal(err)
	}
	if m.MSE != 0 || !math.IsInf(m.PSNR, 1) || m.SSIM != 1 {
		t.Errorf("identical images: %+v", m)
	}

	b := models.NewImageBuffer(16, 16, models.RGBA8)
	for i := range b.Pix {
		b.Pix[i] = 110
	}
	m, err = Measure(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if m.MSE != 100 {
		t.Errorf("MSE = %v, want 100", m.MSE)
	}
	if math.Abs(m.PSNR-28.13) > 0.01 {
		t.Errorf("PSNR = %v", m.PSNR)
	}
	if m.SSIM >= 1 || m.SSIM < 0.99 {
		t.Errorf("SSIM = %v", m.SSIM)
	}

	if _, err := Measure(a, models.NewImageBuffer(8, 16, models.RGB8)); err == nil {
		t.Error("expected size mismatch error")
	}
}

func Test4KHighQualityJPEG(t *testing.T) {
	if testing.Short() {
		t.Skip("4K encode")
	}
	dev := accelerator.NewSoftwareDevice()
	conv := accelerator.NewEngine(accelerator.DefaultConfig(), dev)
	defer conv.Close()

	params, err := Resolve(models.Preset(models.PresetHigh), models.FormatJPEG)
	if err != nil {
		t.Fatal(err)
	}
	img := gradient(3840, 2160)
	res, err := New(conv).Compress(context.Background(), img, models.FormatJPEG, params)
	if err != nil {
		t.Fatal(err)
	}

	if res.Report == nil || res.Report.Path != accelerator.PathAccelerator {
		t.Errorf("report = %+v, want accelerator path", res.Report)
	}
	if dev.Submits() != 1 {
		t.Errorf("submits = %d", dev.Submits())
	}
	if res.Metrics.EncoderQuality != 95 {
		t.Errorf("encoder quality = %d", res.Metrics.EncoderQuality)
	}
	if res.Metrics.SSIM < 0.95 {
		t.Errorf("SSIM = %.4f, want >= 0.95", res.Metrics.SSIM)
	}
	if res.Warning != nil {
		t.Errorf("unexpected warning: %v", res.Warning)
	}
	if res.OriginalSize != 3840*2160*3 || res.CompressedSize != len(res.Data) {
		t.Errorf("sizes %d / %d", res.OriginalSize, res.CompressedSize)
	}
	if res.Ratio() <= 1 || res.SizeReductionPercent() <= 0 {
		t.Errorf("ratio %.2f, reduction %.2f%%", res.Ratio(), res.SizeReductionPercent())
	}
}

func TestSmallImageWithAcceleratorDisabled(t *testing.T) {
	dev := accelerator.NewSoftwareDevice()
	cfg := accelerator.DefaultConfig()
	cfg.Enabled = false
	conv := accelerator.NewEngine(cfg, dev)

	params, _ := Resolve(models.Preset(models.PresetBalanced), models.FormatJPEG)
	res, err := New(conv).Compress(context.Background(), gradient(64, 64), models.FormatJPEG, params)
	if err != nil {
		t.Fatal(err)
	}
	if res.Report.Path != accelerator.PathCPU || res.Report.Reason != accelerator.ReasonDisabled {
		t.Errorf("report = %+v", res.Report)
	}
	if dev.Submits() != 0 || dev.Allocations() != 0 {
		t.Errorf("device touched: %d submits, %d allocations", dev.Submits(), dev.Allocations())
	}
}

func TestLosslessTargetSkipsConversion(t *testing.T) {
	img := noise(40, 30, 3)
	params, _ := Resolve(models.Preset(models.PresetHigh), models.FormatPNG)
	res, err := New(nil).Compress(context.Background(), img, models.FormatPNG, params)
	if err != nil {
		t.Fatal(err)
	}
	if res.Report != nil {
		t.Errorf("png should not run color conversion, got %+v", res.Report)
	}
	if res.Metrics.MSE != 0 || res.Metrics.SSIM != 1 {
		t.Errorf("lossless metrics %+v", res.Metrics)
	}
}

func TestQualityBelowTargetIsWarning(t *testing.T) {
	params := models.CodecParams{Quality: 5, SSIMThreshold: 0.99}
	res, err := New(nil).Compress(context.Background(), noise(64, 64, 7), models.FormatJPEG, params)
	if err != nil {
		t.Fatalf("below-target quality must not fail: %v", err)
	}
	if res == nil || len(res.Data) == 0 {
		t.Fatal("artifact missing")
	}
	if !errors.Is(res.Warning, models.ErrQualityBelowTarget) {
		t.Errorf("warning = %v", res.Warning)
	}
	if models.KindOf(res.Warning) != models.KindQualityBelowTarget {
		t.Errorf("kind = %v", models.KindOf(res.Warning))
	}
}

func TestUnsupportedTargetFailsBeforeWork(t *testing.T) {
	dev := accelerator.NewSoftwareDevice()
	cfg := accelerator.DefaultConfig()
	cfg.ActivationThreshold = 0
	conv := accelerator.NewEngine(cfg, dev)

	_, err := New(conv).Compress(context.Background(), gradient(8, 8), models.Format("pdf"), models.CodecParams{Quality: 80})
	if models.KindOf(err) != models.KindUnsupportedFormat {
		t.Fatalf("kind = %v (%v)", models.KindOf(err), err)
	}
	if conv.Dispatches() != 0 || dev.Submits() != 0 {
		t.Error("conversion ran for an unsupported target")
	}
}

func TestCompressCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Compress(ctx, gradient(16, 16), models.FormatJPEG, models.CodecParams{Quality: 80})
	if models.KindOf(err) != models.KindCancelled {
		t.Errorf("kind = %v", models.KindOf(err))
	}
}

func TestPassthroughIsIdempotent(t *testing.T) {
	var raw bytes.Buffer
	if err := (encoder.JPEG{}).Encode(context.Background(), &raw, encoder.ToImage(gradient(48, 32)), encoder.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	params, _ := Resolve(models.Preset(models.PresetHigh), models.FormatJPEG)

	res, ok := Passthrough(raw.Bytes(), models.FormatJPEG, models.FormatJPEG, params)
	if !ok {
		t.Fatal("passthrough refused")
	}
	if !bytes.Equal(res.Data, raw.Bytes()) {
		t.Error("passthrough changed the bytes")
	}
	if res.Metrics.SSIM != 1 || res.Metrics.MSE != 0 || !math.IsInf(res.Metrics.PSNR, 1) || res.Metrics.EncoderQuality != 0 {
		t.Errorf("metrics %+v", res.Metrics)
	}
	if !res.Passthrough || res.Width != 48 || res.Height != 32 || res.OriginalSize != 48*32*3 {
		t.Errorf("result %+v", res)
	}

	params.Reencode = true
	if _, ok := Passthrough(raw.Bytes(), models.FormatJPEG, models.FormatJPEG, params); ok {
		t.Error("passthrough with reencode set")
	}
	params.Reencode = false
	if _, ok := Passthrough(raw.Bytes(), models.FormatJPEG, models.FormatPNG, params); ok {
		t.Error("passthrough across formats")
	}
	if _, ok := Passthrough([]byte("not a jpeg"), models.FormatJPEG, models.FormatJPEG, params); ok {
		t.Error("passthrough of malformed bytes")
	}
}

func TestResultRatioZeroSizes(t *testing.T) {
	var r Result
	if r.Ratio() != 0 || r.SizeReductionPercent() != 0 {
		t.Error("zero result should report zero ratios")
	}
}
