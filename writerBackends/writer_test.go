package writerbackends

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"transmute/models"
)

func TestOutputName(t *testing.T) {
	now := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	unique := regexp.MustCompile(`^20240309_holiday_[0-9a-f]{8}\.jpg$`)

	name, err := OutputName("/photos/holiday.png", models.FormatJPEG, NamingUnique, now)
	if err != nil {
		t.Fatal(err)
	}
	if !unique.MatchString(name) {
		t.Errorf("unique name %q", name)
	}
	other, _ := OutputName("/photos/holiday.png", models.FormatJPEG, "", now)
	if other == name {
		t.Error("two unique names collided")
	}

	name, err = OutputName("scan.v2.tif", models.FormatWebP, NamingKeep, now)
	if err != nil || name != "scan.v2.webp" {
		t.Errorf("keep name = %q, %v", name, err)
	}

	if _, err := OutputName("a.png", models.FormatPNG, "random", now); err == nil {
		t.Error("expected error for unknown naming mode")
	}
}

func TestWriteImage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	path, err := WriteImage(context.Background(), Destination{
		Dir:    dir,
		Source: "cat.bmp",
		Format: models.FormatPNG,
		Naming: NamingKeep,
	}, strings.NewReader("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "cat.png") {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "payload" {
		t.Errorf("content = %q, %v", data, err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the final file, found %d entries", len(entries))
	}
}

func TestWriteLocalCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WriteLocal(ctx, t.TempDir(), "x.png", strings.NewReader("x")); err == nil {
		t.Error("expected error on cancelled context")
	}
}
