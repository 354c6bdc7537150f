package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"

	"transmute/accelerator"
	"transmute/compress"
	"transmute/config"
	"transmute/encoder"
	"transmute/failures"
	"transmute/job"
	"transmute/logger"
	"transmute/metrics"
	"transmute/models"
	"transmute/success"
	taskqueue "transmute/taskQueue"
)

const usage = `usage: transmute <command> [flags] [args]

commands:
  convert  <file> -f FORMAT     convert one image
  compress <file>               re-encode in the same format
  batch    <dir|files...> -f FORMAT
                                convert many images concurrently
  resume                        re-run tasks left from an interrupted batch
  info     <file>               print image metadata
  formats                       list supported formats
  records  [success|failures]   list stored task records
  cleanup  [-max-age D]         delete old task records

Run 'transmute <command> -h' for command flags.
`

// options are the flags shared by the converting commands.
type options struct {
	format   string
	quality  string
	output   string
	width    int
	height   int
	jobs     int
	noGPU    bool
	backend  string
	reencode bool
	keepName bool
}

func (o *options) register(fset *flag.FlagSet, s config.Settings, withFormat bool) {
	if withFormat {
		fset.StringVar(&o.format, "f", "", "target format (jpeg, png, webp, tiff, bmp, gif, avif)")
	}
	fset.StringVar(&o.quality, "q", s.Quality, "quality 1-100 or low, medium, high, maximum")
	fset.StringVar(&o.output, "o", s.OutputDir, "output directory")
	fset.IntVar(&o.width, "width", 0, "resize to this width")
	fset.IntVar(&o.height, "height", 0, "resize to this height")
	fset.IntVar(&o.jobs, "jobs", s.Concurrency, "concurrent tasks, 0 for one per CPU")
	fset.BoolVar(&o.noGPU, "no-gpu", !s.GPU, "never use the compute accelerator")
	fset.StringVar(&o.backend, "backend", s.Backend, "accelerator backend: auto, software, none")
	fset.BoolVar(&o.reencode, "reencode", false, "re-encode JPEG sources instead of copying them")
	fset.BoolVar(&o.keepName, "keep-name", s.Naming == "keep", "name outputs <name>.<ext> instead of dated unique names")
}

func (o *options) task(input string, target models.Format) (models.ConversionTask, error) {
	q, err := models.ParseQuality(o.quality)
	if err != nil {
		return models.ConversionTask{}, err
	}
	naming := "unique"
	if o.keepName {
		naming = "keep"
	}
	return models.ConversionTask{
		ID:        uuid.NewString(),
		Input:     input,
		OutputDir: o.output,
		Target:    target,
		Quality:   q,
		Resize:    models.Resize{Width: o.width, Height: o.height},
		Reencode:  o.reencode,
		Naming:    naming,
	}, nil
}

// compressTask re-encodes input in its own format at the requested quality.
// Unlike convert, compress never copies a JPEG through unchanged.
func (o *options) compressTask(input string) (models.ConversionTask, error) {
	raw, err := os.ReadFile(input)
	if err != nil {
		return models.ConversionTask{}, err
	}
	f, err := encoder.Detect(raw, input)
	if err != nil {
		return models.ConversionTask{}, err
	}
	task, err := o.task(input, f)
	if err != nil {
		return models.ConversionTask{}, err
	}
	task.Reencode = true
	return task, nil
}

func newPipeline(s config.Settings, eng *accelerator.Engine) *job.Pipeline {
	p := job.NewPipeline(compress.New(eng))
	p.DefaultQuality = s.QualitySpec()
	return p
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "transmute: %v\n", err)
		os.Exit(2)
	}
	if err := logger.Init(settings.LogFile, true); err != nil {
		fmt.Fprintf(os.Stderr, "transmute: %v\n", err)
		os.Exit(1)
	}
	if lvl, err := logger.ParseLevel(settings.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	encoder.RegisterDefaults()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cmd, args := os.Args[1], os.Args[2:]
	var code int
	switch cmd {
	case "convert":
		code, err = runConvert(ctx, settings, args, true)
	case "compress":
		code, err = runConvert(ctx, settings, args, false)
	case "batch":
		code, err = runBatch(ctx, settings, args)
	case "resume":
		code, err = runResume(ctx, settings, args)
	case "info":
		err = runInfo(args)
	case "formats":
		runFormats()
	case "records":
		err = runRecords(settings, args)
	case "cleanup":
		err = runCleanup(settings, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "transmute: unknown command %q\n\n%s", cmd, usage)
		code = 2
	}
	if err != nil {
		logger.Error(err)
		if code == 0 {
			code = 1
		}
	}
	stop()
	logger.Close()
	os.Exit(code)
}

// openStores opens the record stores and the pending queue under the data dir.
func openStores(s config.Settings, queue bool) (func(), error) {
	if err := os.MkdirAll(s.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	var closers []func() error

	logger.Debug("Initializing success database")
	if err := success.Init(config.GetSuccessDBPath()); err != nil {
		return nil, err
	}
	closers = append(closers, success.Close)

	logger.Debug("Initializing failures database")
	if err := failures.Init(config.GetFailuresDBPath()); err != nil {
		success.Close()
		return nil, err
	}
	closers = append(closers, failures.Close)

	if queue {
		if err := taskqueue.OpenPendingQueueDB(config.GetQueueDBPath()); err != nil {
			failures.Close()
			success.Close()
			return nil, err
		}
		closers = append(closers, taskqueue.ClosePendingQueueDB)
	}

	return func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Errorf("Failed to close store: %v", err)
			}
		}
	}, nil
}

func buildEngine(s config.Settings, o *options, m *metrics.Collector) *accelerator.Engine {
	cfg := s.Accelerator()
	if o.noGPU {
		cfg.Enabled = false
	}
	eng := accelerator.Open(cfg, o.backend)
	if m != nil {
		eng.SetObserver(m.ObserveConversion)
	}
	return eng
}

func runConvert(ctx context.Context, s config.Settings, args []string, withFormat bool) (int, error) {
	name := "compress"
	if withFormat {
		name = "convert"
	}
	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	var o options
	o.register(fset, s, withFormat)
	if err := fset.Parse(args); err != nil {
		return 2, nil
	}
	if fset.NArg() != 1 {
		return 2, fmt.Errorf("%s takes exactly one input file", name)
	}
	input := fset.Arg(0)

	var task models.ConversionTask
	if withFormat {
		f, err := models.ParseFormat(o.format)
		if err != nil {
			return 2, err
		}
		if task, err = o.task(input, f); err != nil {
			return 2, err
		}
	} else {
		var err error
		if task, err = o.compressTask(input); err != nil {
			return 1, err
		}
	}

	closeStores, err := openStores(s, false)
	if err != nil {
		return 1, err
	}
	defer closeStores()

	eng := buildEngine(s, &o, nil)
	defer eng.Close()

	out, err := newPipeline(s, eng).Process(ctx, task)
	if err != nil {
		return 1, err
	}
	printResult(out)
	return 0, nil
}

func printResult(out *job.Output) {
	r := out.Result
	fmt.Printf("%s\n", out.Path)
	if r.Passthrough {
		fmt.Printf("  copied unchanged (%d bytes)\n", r.CompressedSize)
		return
	}
	fmt.Printf("  %dx%d %s, quality %d, %d -> %d bytes (%.1f%% smaller, ratio %.2f)\n",
		r.Width, r.Height, r.Format, r.Metrics.EncoderQuality,
		r.OriginalSize, r.CompressedSize, r.SizeReductionPercent(), r.Ratio())
	fmt.Printf("  ssim %.4f, psnr %.2f dB\n", r.Metrics.SSIM, r.Metrics.PSNR)
	if r.Report != nil {
		fmt.Printf("  color conversion on %s", r.Report.Path)
		if r.Report.Reason != "" {
			fmt.Printf(" (%s)", r.Report.Reason)
		}
		fmt.Println()
	}
	if r.Warning != nil {
		fmt.Printf("  warning: %v\n", r.Warning)
	}
}

// collectInputs expands directories into the image files they contain.
func collectInputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, err := models.FormatFromPath(path); err == nil {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

func runBatch(ctx context.Context, s config.Settings, args []string) (int, error) {
	fset := flag.NewFlagSet("batch", flag.ContinueOnError)
	var o options
	o.register(fset, s, true)
	if err := fset.Parse(args); err != nil {
		return 2, nil
	}
	if fset.NArg() == 0 {
		return 2, errors.New("batch needs at least one file or directory")
	}
	target, err := models.ParseFormat(o.format)
	if err != nil {
		return 2, err
	}
	inputs, err := collectInputs(fset.Args())
	if err != nil {
		return 1, err
	}
	if len(inputs) == 0 {
		return 1, errors.New("no image files found")
	}

	tasks := make([]models.ConversionTask, 0, len(inputs))
	for _, in := range inputs {
		task, err := o.task(in, target)
		if err != nil {
			return 2, err
		}
		tasks = append(tasks, task)
	}
	return execute(ctx, s, &o, tasks)
}

func runResume(ctx context.Context, s config.Settings, args []string) (int, error) {
	fset := flag.NewFlagSet("resume", flag.ContinueOnError)
	var o options
	o.register(fset, s, false)
	if err := fset.Parse(args); err != nil {
		return 2, nil
	}
	return execute(ctx, s, &o, nil)
}

// execute runs tasks through the pending queue. With no tasks it runs
// whatever the queue still holds.
func execute(ctx context.Context, s config.Settings, o *options, tasks []models.ConversionTask) (int, error) {
	closeStores, err := openStores(s, true)
	if err != nil {
		return 1, err
	}
	defer closeStores()

	if tasks == nil {
		tasks, err = taskqueue.PendingTasks()
		if err != nil {
			return 1, err
		}
		if len(tasks) == 0 {
			fmt.Println("nothing to resume")
			return 0, nil
		}
		logger.Infof("Resuming %d tasks", len(tasks))
	} else if err := taskqueue.Enqueue(tasks...); err != nil {
		return 1, err
	}

	m := metrics.New()
	eng := buildEngine(s, o, m)
	defer eng.Close()

	runner := job.NewRunner(newPipeline(s, eng))
	runner.OnProgress = func(p job.Progress) {
		out := p.Outcome
		status := out.Status.String()
		if out.Status == job.StatusFailed {
			status = out.Kind.String()
		}
		fmt.Printf("[%d/%d] %-22s %s\n", p.Completed, p.Total, status, out.Task.Input)

		ratio := 0.0
		if out.Output != nil && out.Output.Result != nil {
			ratio = out.Output.Result.Ratio()
		}
		m.ObserveTask(out.Status.String(), out.Kind.String(), out.Elapsed.Seconds(), ratio)

		// Cancelled tasks stay queued for resume.
		if out.Kind != models.KindCancelled {
			if err := taskqueue.Complete(out.Task.ID); err != nil {
				logger.Errorf("Failed to dequeue task %s: %v", out.Task.ID, err)
			}
		}
	}

	res := runner.Run(ctx, tasks, o.jobs)

	fmt.Printf("\n%d tasks in %v: %d succeeded, %d with warnings, %d failed",
		res.Total, res.Elapsed.Round(time.Millisecond), res.Succeeded, res.Warned, res.Failed-res.Cancelled)
	if res.Cancelled > 0 {
		fmt.Printf(", %d cancelled (run 'transmute resume' to continue)", res.Cancelled)
	}
	fmt.Printf("\naverage compression ratio %.2f, peak concurrency %d\n", res.AverageRatio(), res.MaxInFlight)
	for _, f := range res.FailedTasks() {
		if f.Kind != models.KindCancelled {
			fmt.Printf("  %s: %s\n", f.Input, f.Message)
		}
	}

	m.SetPoolStats(eng.PoolStats())
	if s.MetricsFile != "" {
		if err := m.WriteTextfile(s.MetricsFile); err != nil {
			logger.Errorf("Failed to write metrics to %s: %v", s.MetricsFile, err)
		}
	}

	if res.Failed > 0 {
		return 1, nil
	}
	return 0, nil
}

func runInfo(args []string) error {
	if len(args) != 1 {
		return errors.New("info takes exactly one file")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	f, err := encoder.Detect(raw, args[0])
	if err != nil {
		return err
	}
	codec, err := encoder.Lookup(f)
	if err != nil {
		return err
	}
	img, err := codec.Decode(context.Background(), bytes.NewReader(raw))
	if err != nil {
		return models.NewError(models.KindDecode, "decode", err)
	}
	info := encoder.Info(img, f, len(raw))
	fmt.Printf("%s\n  format   %s (%s)\n  size     %dx%d\n  alpha    %v\n  bytes    %d\n",
		args[0], info.Format, info.Format.MIME(), info.Width, info.Height, info.HasAlpha, info.Size)
	return nil
}

func runFormats() {
	for _, f := range encoder.Formats() {
		kind := "lossless"
		if f.Lossy() {
			kind = "lossy"
		}
		fmt.Printf("%-5s .%-5s %-11s %s\n", f, f.Extension(), f.MIME(), kind)
	}
}

func runRecords(s config.Settings, args []string) error {
	which := "success"
	if len(args) > 0 {
		which = args[0]
	}
	closeStores, err := openStores(s, false)
	if err != nil {
		return err
	}
	defer closeStores()

	switch which {
	case "success":
		records, err := success.ListSuccessRecords()
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%s  %s  %s -> %s  %d -> %d bytes  ssim %.4f\n",
				r.Timestamp.Format(time.RFC3339), r.TaskID, r.Input, r.Output, r.OriginalSize, r.CompressedSize, r.SSIM)
		}
	case "failures":
		records, err := failures.ListFailures()
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%s  %s  %s  %s: %s\n", r.Timestamp.Format(time.RFC3339), r.TaskID, r.Input, r.Kind, r.Error)
		}
	default:
		return fmt.Errorf("unknown record set %q, use success or failures", which)
	}
	return nil
}

func runCleanup(s config.Settings, args []string) error {
	fset := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	maxAge := fset.Duration("max-age", s.MaxRecordAge, "delete records older than this")
	if err := fset.Parse(args); err != nil {
		return err
	}
	closeStores, err := openStores(s, false)
	if err != nil {
		return err
	}
	defer closeStores()

	logger.Debugf("Cleaning up success records older than %v", *maxAge)
	n, err := success.CleanupOldRecords(*maxAge)
	if err != nil {
		return fmt.Errorf("failed to cleanup old success records: %w", err)
	}
	logger.Debugf("Cleaning up failure records older than %v", *maxAge)
	m, err := failures.CleanupOldRecords(*maxAge)
	if err != nil {
		return fmt.Errorf("failed to cleanup old failure records: %w", err)
	}
	fmt.Printf("removed %d success and %d failure records\n", n, m)
	return nil
}
