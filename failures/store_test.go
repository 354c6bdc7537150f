package failures

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"transmute/models"
)

func TestMain(m *testing.M) {
	code := m.Run()
	matches, _ := filepath.Glob("test_*.db")
	for _, dir := range matches {
		os.RemoveAll(dir)
	}
	os.Exit(code)
}

func TestFailureStore(t *testing.T) {
	if err := Init("test_failures.db"); err != nil {
		t.Fatalf("Failed to initialize failure store: %v", err)
	}
	defer Close()

	task := models.ConversionTask{ID: "task-7", Input: "broken.png", Target: models.FormatJPEG, Quality: models.Quality(80)}
	cause := models.NewError(models.KindDecode, "decode png", errors.New("unexpected EOF"))
	if err := StoreFailure(task, fmt.Errorf("task %s: %w", task.ID, cause)); err != nil {
		t.Fatalf("Failed to store failure: %v", err)
	}

	record, err := GetFailure("task-7")
	if err != nil || record == nil {
		t.Fatalf("GetFailure = %v, %v", record, err)
	}
	if record.Kind != models.KindDecode {
		t.Errorf("kind = %v, want DecodeError", record.Kind)
	}
	if record.Input != "broken.png" {
		t.Errorf("input = %s", record.Input)
	}
	stored, err := record.Task()
	if err != nil || stored != task {
		t.Errorf("Task() = %+v, %v", stored, err)
	}

	if missing, err := GetFailure("nope"); err != nil || missing != nil {
		t.Errorf("GetFailure(nope) = %v, %v", missing, err)
	}

	list, err := ListFailures()
	if err != nil || len(list) != 1 {
		t.Errorf("ListFailures = %d records, %v", len(list), err)
	}

	n, err := CleanupOldRecords(time.Hour)
	if err != nil || n != 0 {
		t.Errorf("CleanupOldRecords(1h) = %d, %v", n, err)
	}
	n, err = CleanupOldRecords(-time.Second)
	if err != nil || n != 1 {
		t.Errorf("CleanupOldRecords(-1s) = %d, %v", n, err)
	}

	if err := DeleteFailure("task-7"); err != nil {
		t.Error(err)
	}
}
