package taskqueue

import (
	"os"
	"path/filepath"
	"testing"

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

func TestDBQueue(t *testing.T) {
	q, err := OpenQueue("test_queue.db")
	if err != nil {
		t.Fatalf("Failed to open queue: %v", err)
	}
	defer q.Close()

	if err := q.Add("a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	got, err := q.Get("a")
	if err != nil || string(got) != "1" {
		t.Errorf("Get(a) = %q, %v", got, err)
	}
	missing, err := q.Get("missing")
	if err != nil || missing != nil {
		t.Errorf("Get(missing) = %q, %v", missing, err)
	}
	if err := q.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if got, _ := q.Get("a"); got != nil {
		t.Error("value still present after delete")
	}
}

func TestPendingQueueResume(t *testing.T) {
	if err := OpenPendingQueueDB("test_pending.db"); err != nil {
		t.Fatalf("Failed to open pending queue: %v", err)
	}
	defer ClosePendingQueueDB()

	tasks := []models.ConversionTask{
		{ID: "t1", Input: "a.png", Target: models.FormatJPEG, Quality: models.Preset(models.PresetHigh)},
		{ID: "t2", Input: "b.png", Target: models.FormatWebP, Quality: models.Quality(70), Resize: models.Resize{Width: 100}},
		{ID: "t3", Input: "c.png", Target: models.FormatPNG},
	}
	if err := Enqueue(tasks...); err != nil {
		t.Fatal(err)
	}
	if err := Complete("t2"); err != nil {
		t.Fatal(err)
	}

	pending, err := PendingTasks()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != "t1" || pending[1].ID != "t3" {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].Quality != tasks[0].Quality || pending[0].Target != models.FormatJPEG {
		t.Errorf("task did not survive the queue: %+v", pending[0])
	}

	if err := Enqueue(models.ConversionTask{Input: "noid.png"}); err == nil {
		t.Error("expected error for task without id")
	}
}
