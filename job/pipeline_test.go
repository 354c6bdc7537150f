package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"transmute/accelerator"
	"transmute/compress"
	"transmute/failures"
	"transmute/models"
	"transmute/success"
)

func TestMain(m *testing.M) {
	code := m.Run()
	matches, _ := filepath.Glob("test_*.db")
	for _, dir := range matches {
		os.RemoveAll(dir)
	}
	os.Exit(code)
}

func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 90, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func testPipeline() *Pipeline {
	p := NewPipeline(nil)
	p.Record = false
	return p
}

func TestBatchWithMalformedInputs(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	malformed := map[int]bool{7: true, 23: true, 42: true, 64: true, 99: true}
	var tasks []models.ConversionTask
	for i := 0; i < 100; i++ {
		path := filepath.Join(in, fmt.Sprintf("img_%03d.png", i))
		if malformed[i] {
			if err := os.WriteFile(path, []byte("this is not an image"), 0644); err != nil {
				t.Fatal(err)
			}
		} else {
			writePNG(t, path, gradientImage(24, 16))
		}
		tasks = append(tasks, models.ConversionTask{
			ID:        fmt.Sprintf("img-%03d", i),
			Input:     path,
			OutputDir: out,
			Target:    models.FormatJPEG,
			Quality:   models.Preset(models.PresetHigh),
		})
	}

	res := NewRunner(testPipeline()).Run(context.Background(), tasks, 8)

	if len(res.Outcomes) != 100 {
		t.Fatalf("%d outcomes", len(res.Outcomes))
	}
	if ok := res.Succeeded + res.Warned; ok != 95 || res.Failed != 5 {
		t.Errorf("ok %d, failed %d", ok, res.Failed)
	}
	if res.MaxInFlight > 8 {
		t.Errorf("MaxInFlight = %d", res.MaxInFlight)
	}
	for i, o := range res.Outcomes {
		if malformed[i] {
			if o.Status != StatusFailed || o.Kind != models.KindDecode {
				t.Errorf("task %d: %s/%s, want DecodeError", i, o.Status, o.Kind)
			}
		} else if o.Status == StatusFailed {
			t.Errorf("task %d failed: %v", i, o.Err)
		}
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 95 {
		t.Errorf("%d output files, want 95", len(entries))
	}
}

func TestPipelineJPEGPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradientImage(32, 32), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	task := models.ConversionTask{ID: "p1", Input: src, OutputDir: filepath.Join(dir, "out"), Target: models.FormatJPEG, Naming: "keep"}
	out, err := testPipeline().Process(context.Background(), task)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Result.Passthrough {
		t.Error("expected passthrough")
	}
	got, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, buf.Bytes()) {
		t.Error("passthrough output differs from input")
	}
	if filepath.Base(out.Path) != "photo.jpg" {
		t.Errorf("output name %s", filepath.Base(out.Path))
	}

	task.Reencode = true
	task.Naming = "unique"
	out, err = testPipeline().Process(context.Background(), task)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Passthrough {
		t.Error("reencode requested but passthrough taken")
	}
}

func TestPipelineResize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "wide.png")
	writePNG(t, src, gradientImage(64, 32))

	task := models.ConversionTask{
		ID: "r1", Input: src, OutputDir: dir, Target: models.FormatPNG,
		Resize: models.Resize{Width: 32}, Naming: "unique",
	}
	out, err := testPipeline().Process(context.Background(), task)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 32 || cfg.Height != 16 {
		t.Errorf("resized to %dx%d, want 32x16", cfg.Width, cfg.Height)
	}
}

func TestPipelineErrorKinds(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writePNG(t, good, gradientImage(8, 8))
	unknown := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(unknown, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		task models.ConversionTask
		want models.ErrorKind
	}{
		{"missing input", models.ConversionTask{ID: "e1", Input: filepath.Join(dir, "nope.png"), OutputDir: dir, Target: models.FormatJPEG}, models.KindIO},
		{"unsupported target", models.ConversionTask{ID: "e2", Input: good, OutputDir: dir, Target: models.Format("pdf")}, models.KindUnsupportedFormat},
		{"unrecognized source", models.ConversionTask{ID: "e3", Input: unknown, OutputDir: dir, Target: models.FormatPNG}, models.KindUnsupportedFormat},
		{"bad preset", models.ConversionTask{ID: "e4", Input: good, OutputDir: dir, Target: models.FormatPNG, Quality: models.Preset("ultra")}, models.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testPipeline().Process(context.Background(), tt.task)
			if got := models.KindOf(err); got != tt.want {
				t.Errorf("kind = %s (%v), want %s", got, err, tt.want)
			}
		})
	}
}

func TestPipelineRecordsOutcomes(t *testing.T) {
	if err := success.Init("test_pipeline_success.db"); err != nil {
		t.Fatal(err)
	}
	defer success.Close()
	if err := failures.Init("test_pipeline_failures.db"); err != nil {
		t.Fatal(err)
	}
	defer failures.Close()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writePNG(t, good, gradientImage(16, 16))
	bad := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(bad, []byte{0x89, 'P', 'N', 'G'}, 0644); err != nil {
		t.Fatal(err)
	}

	p := NewPipeline(nil)
	tasks := []models.ConversionTask{
		{ID: "rec-ok", Input: good, OutputDir: dir, Target: models.FormatWebP, Quality: models.Quality(80)},
		{ID: "rec-bad", Input: bad, OutputDir: dir, Target: models.FormatWebP},
	}
	NewRunner(p).Run(context.Background(), tasks, 2)

	s, err := success.GetSuccess("rec-ok")
	if err != nil || s == nil {
		t.Fatalf("success record = %v, %v", s, err)
	}
	if s.Format != models.FormatWebP || s.Quality != 80 || s.CompressedSize == 0 {
		t.Errorf("success record = %+v", s)
	}
	f, err := failures.GetFailure("rec-bad")
	if err != nil || f == nil {
		t.Fatalf("failure record = %v, %v", f, err)
	}
	if f.Kind != models.KindDecode {
		t.Errorf("failure kind = %s", f.Kind)
	}
}

func TestBatchSurvivesHungAccelerator(t *testing.T) {
	dev := accelerator.NewSoftwareDevice()
	dev.SetFaults(accelerator.Faults{Hang: true})
	cfg := accelerator.DefaultConfig()
	cfg.ActivationThreshold = 0
	cfg.ReadbackTimeout = 20 * time.Millisecond
	eng := accelerator.NewEngine(cfg, dev)
	defer eng.Close()

	p := NewPipeline(compress.New(eng))
	p.Record = false

	in := t.TempDir()
	out := t.TempDir()
	var tasks []models.ConversionTask
	for i := 0; i < 6; i++ {
		path := filepath.Join(in, fmt.Sprintf("hung_%d.png", i))
		writePNG(t, path, gradientImage(40, 24))
		tasks = append(tasks, models.ConversionTask{
			ID:        fmt.Sprintf("hung-%d", i),
			Input:     path,
			OutputDir: out,
			Target:    models.FormatJPEG,
			Quality:   models.Preset(models.PresetLow),
		})
	}

	res := NewRunner(p).Run(context.Background(), tasks, 3)
	for _, o := range res.Outcomes {
		if o.Status != StatusSucceeded {
			t.Errorf("%s: status %v, err %v", o.Task.ID, o.Status, o.Err)
			continue
		}
		if o.Kind == models.KindAcceleratorTimeout || errors.Is(o.Err, models.ErrAcceleratorTimeout) {
			t.Errorf("%s: accelerator timeout leaked into the outcome", o.Task.ID)
		}
		rep := o.Output.Result.Report
		if rep == nil || rep.Path != accelerator.PathCPU || rep.Reason != accelerator.ReasonTimeout {
			t.Errorf("%s: report %+v, want CPU fallback after timeout", o.Task.ID, rep)
		}
	}
	if res.Succeeded != len(tasks) {
		t.Errorf("succeeded %d of %d", res.Succeeded, len(tasks))
	}
	if eng.Fallbacks() != int64(len(tasks)) {
		t.Errorf("fallbacks = %d", eng.Fallbacks())
	}
}
