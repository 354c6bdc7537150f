package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/disintegration/imaging"

	"transmute/compress"
	"transmute/config"
	"transmute/encoder"
	"transmute/failures"
	"transmute/logger"
	"transmute/models"
	"transmute/success"
	writerbackends "transmute/writerBackends"
)

// Pipeline is the default Processor: read, detect, decode, optionally
// resize, compress and write one file.
type Pipeline struct {
	Engine *compress.Engine
	// DefaultQuality applies to tasks that carry no quality.
	DefaultQuality models.QualitySpec
	// Record stores outcomes in the success and failure stores when they
	// are open.
	Record bool
}

func NewPipeline(engine *compress.Engine) *Pipeline {
	encoder.RegisterDefaults()
	if engine == nil {
		engine = compress.New(nil)
	}
	return &Pipeline{Engine: engine, DefaultQuality: compress.DefaultQuality, Record: true}
}

// Process runs one task.
func (p *Pipeline) Process(ctx context.Context, task models.ConversionTask) (*Output, error) {
	out, err := p.process(ctx, task)
	if !p.Record {
		return out, err
	}
	if err != nil {
		storeFailure(task, err)
	} else {
		storeSuccess(task, out)
	}
	return out, err
}

func (p *Pipeline) process(ctx context.Context, task models.ConversionTask) (*Output, error) {
	if _, err := encoder.Lookup(task.Target); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(task.Input)
	if err != nil {
		return nil, models.NewError(models.KindIO, "read input", err)
	}

	srcFormat, err := encoder.Detect(raw, task.Input)
	if err != nil {
		return nil, err
	}
	srcCodec, err := encoder.Lookup(srcFormat)
	if err != nil {
		return nil, err
	}

	q := task.Quality
	if q.IsZero() {
		q = p.DefaultQuality
	}
	params, err := compress.Resolve(q, task.Target)
	if err != nil {
		return nil, models.NewError(models.KindInternal, "resolve quality", err)
	}
	params.Reencode = task.Reencode

	var res *compress.Result
	// Resizing changes the pixels, so the original bytes cannot stand in.
	if task.Resize.IsZero() {
		if r, ok := compress.Passthrough(raw, srcFormat, task.Target, params); ok {
			logger.Debugf("Task %s: %s passthrough", task.ID, srcFormat)
			res = r
		}
	}

	if res == nil {
		img, err := srcCodec.Decode(ctx, bytes.NewReader(raw))
		if err != nil {
			return nil, models.NewError(models.KindDecode, fmt.Sprintf("decode %s", srcFormat), err)
		}
		if !task.Resize.IsZero() {
			img = imaging.Resize(img, task.Resize.Width, task.Resize.Height, imaging.Lanczos)
		}
		res, err = p.Engine.Compress(ctx, encoder.ToBuffer(img), task.Target, params)
		if err != nil {
			return nil, err
		}
	}

	dir := task.OutputDir
	if dir == "" {
		dir = config.GetOutputDir()
	}
	path, err := writerbackends.WriteImage(ctx, writerbackends.Destination{
		Dir:    dir,
		Source: task.Input,
		Format: task.Target,
		Naming: task.Naming,
	}, bytes.NewReader(res.Data))
	if err != nil {
		return nil, models.NewError(models.KindIO, "write output", err)
	}

	logger.Debugf("Task %s: %s -> %s (%d -> %d bytes, ratio %.2f)",
		task.ID, task.Input, path, res.OriginalSize, res.CompressedSize, res.Ratio())
	return &Output{Path: path, Result: res}, nil
}

// storeFailure records a failed task; store errors are logged only.
func storeFailure(task models.ConversionTask, err error) {
	if storeErr := failures.StoreFailure(task, err); storeErr != nil && !errors.Is(storeErr, failures.ErrNotInitialized) {
		logger.Errorf("Failed to store failure for task %s: %v", task.ID, storeErr)
	}
}

func storeSuccess(task models.ConversionTask, out *Output) {
	res := out.Result
	record := success.SuccessRecord{
		TaskID:         task.ID,
		Input:          task.Input,
		Output:         out.Path,
		Format:         res.Format,
		Passthrough:    res.Passthrough,
		OriginalSize:   res.OriginalSize,
		CompressedSize: res.CompressedSize,
		Quality:        res.Metrics.EncoderQuality,
		SSIM:           res.Metrics.SSIM,
		MSE:            res.Metrics.MSE,
	}
	if !math.IsInf(res.Metrics.PSNR, 0) {
		psnr := res.Metrics.PSNR
		record.PSNR = &psnr
	}
	if res.Report != nil {
		record.Path = string(res.Report.Path)
	}
	if res.Warning != nil {
		record.Warning = res.Warning.Error()
	}
	if err := success.StoreSuccess(record); err != nil && !errors.Is(err, success.ErrNotInitialized) {
		logger.Errorf("Failed to store success record for task %s: %v", task.ID, err)
	}
}
