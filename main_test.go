package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"transmute/config"
	"transmute/models"
)

func writeJPEG(t *testing.T, path string) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 5), B: uint8((x + y) * 2), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCompressReencodesJPEG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	raw := writeJPEG(t, src)

	o := &options{quality: "low", output: filepath.Join(dir, "out")}
	task, err := o.compressTask(src)
	if err != nil {
		t.Fatal(err)
	}
	if task.Target != models.FormatJPEG || !task.Reencode {
		t.Fatalf("task = %+v, want a JPEG re-encode", task)
	}

	p := newPipeline(config.Default(), nil)
	p.Record = false
	out, err := p.Process(context.Background(), task)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Passthrough {
		t.Fatal("compress copied the source unchanged")
	}
	if out.Result.Metrics.EncoderQuality != 75 {
		t.Errorf("encoder quality = %d, want the low preset", out.Result.Metrics.EncoderQuality)
	}
	got, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(got, raw) {
		t.Error("compressed output is byte-identical to the source")
	}
}

func TestConvertKeepsJPEGPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	writeJPEG(t, src)

	o := &options{quality: "low", output: filepath.Join(dir, "out")}
	task, err := o.task(src, models.FormatJPEG)
	if err != nil {
		t.Fatal(err)
	}
	p := newPipeline(config.Default(), nil)
	p.Record = false
	out, err := p.Process(context.Background(), task)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Result.Passthrough {
		t.Error("convert re-encoded a JPEG without -reencode")
	}
}
