package job

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"

	"transmute/compress"
	"transmute/logger"
	"transmute/models"
)

// Status is the tri-state outcome of a task.
type Status int

const (
	StatusSucceeded Status = iota
	StatusSucceededWithWarning
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusSucceededWithWarning:
		return "succeeded-with-warning"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Output is what a processor produced for one task.
type Output struct {
	Path   string
	Result *compress.Result
}

// Processor runs a single task.
type Processor interface {
	Process(ctx context.Context, task models.ConversionTask) (*Output, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, task models.ConversionTask) (*Output, error)

func (f ProcessorFunc) Process(ctx context.Context, task models.ConversionTask) (*Output, error) {
	return f(ctx, task)
}

// Outcome is the terminal result of one task.
type Outcome struct {
	Task   models.ConversionTask
	Status Status
	// Kind is the failure kind, or KindQualityBelowTarget for warnings.
	Kind    models.ErrorKind
	Err     error
	Output  *Output
	Elapsed time.Duration
}

// Progress is delivered once per finished task, in completion order.
type Progress struct {
	Completed int
	Total     int
	Failed    int
	Current   string
	Outcome   Outcome
}

// Percentage of tasks finished.
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// Runner runs batches of tasks with bounded concurrency.
type Runner struct {
	processor Processor
	states    *StateTable

	// OnProgress is called from a dedicated goroutine; a slow callback
	// never holds up workers.
	OnProgress func(Progress)

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func NewRunner(p Processor) *Runner {
	return &Runner{processor: p, states: NewStateTable()}
}

// States returns the task state table.
func (r *Runner) States() *StateTable {
	return r.states
}

// Run processes tasks with at most concurrency in flight (GOMAXPROCS when
// concurrency <= 0) and returns one outcome per task, in task order.
// Tasks without an ID get one assigned in place.
//
// Cancelling ctx stops new tasks from starting. Tasks already running finish
// normally; tasks that never started resolve to Cancelled.
func (r *Runner) Run(ctx context.Context, tasks []models.ConversionTask, concurrency int) *BatchResult {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	start := time.Now()
	r.maxInFlight.Store(0)

	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = fmt.Sprintf("task-%04d", i+1)
		}
		r.states.AddPending(tasks[i].ID)
	}

	res := &BatchResult{Total: len(tasks), Outcomes: make([]Outcome, len(tasks))}

	progress := make(chan Progress, len(tasks))
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for p := range progress {
			if r.OnProgress != nil {
				r.OnProgress(p)
			}
		}
	}()

	var (
		mu        sync.Mutex
		completed int
		failed    int
	)
	finish := func(i int, o Outcome) {
		res.Outcomes[i] = o
		mu.Lock()
		completed++
		if o.Status == StatusFailed {
			failed++
		}
		progress <- Progress{Completed: completed, Total: len(tasks), Failed: failed, Current: o.Task.Input, Outcome: o}
		mu.Unlock()
	}

	logger.Infof("Running %d tasks with concurrency %d", len(tasks), concurrency)

	sem := semaphore.NewWeighted(int64(concurrency))
	// In-flight tasks are not interrupted by batch cancellation.
	work := context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			finish(i, r.cancelled(task, err))
			continue
		}
		if err := ctx.Err(); err != nil {
			sem.Release(1)
			finish(i, r.cancelled(task, err))
			continue
		}
		if !r.states.start(task.ID) {
			sem.Release(1)
			finish(i, r.cancelled(task, errors.New("cancelled before start")))
			continue
		}

		wg.Add(1)
		go func(i int, task models.ConversionTask) {
			defer wg.Done()
			defer sem.Release(1)
			finish(i, r.runOne(work, task))
		}(i, task)
	}

	wg.Wait()
	close(progress)
	<-delivered

	res.Elapsed = time.Since(start)
	res.MaxInFlight = int(r.maxInFlight.Load())
	res.tally()
	logger.Infof("Batch finished in %v: %d succeeded, %d with warnings, %d failed, %d cancelled",
		res.Elapsed.Round(time.Millisecond), res.Succeeded, res.Warned, res.Failed, res.Cancelled)
	return res
}

func (r *Runner) cancelled(task models.ConversionTask, cause error) Outcome {
	r.states.finish(task.ID, JobStateCancelled)
	return Outcome{
		Task:   task,
		Status: StatusFailed,
		Kind:   models.KindCancelled,
		Err:    models.NewError(models.KindCancelled, "schedule", cause),
	}
}

func (r *Runner) runOne(ctx context.Context, task models.ConversionTask) (o Outcome) {
	n := r.inFlight.Add(1)
	for {
		peak := r.maxInFlight.Load()
		if n <= peak || r.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	start := time.Now()
	defer func() {
		r.inFlight.Add(-1)
		if p := recover(); p != nil {
			err := errors.Newf("panic processing %s: %v", task.Input, p)
			logger.Errorf("Task %s panicked: %+v", task.ID, err)
			o = Outcome{
				Task:   task,
				Status: StatusFailed,
				Kind:   models.KindInternal,
				Err:    models.NewError(models.KindInternal, "process", err),
			}
		}
		o.Elapsed = time.Since(start)
		if o.Status == StatusFailed {
			r.states.finish(task.ID, JobStateFailed)
		} else {
			r.states.finish(task.ID, JobStateCompleted)
		}
	}()

	out, err := r.processor.Process(ctx, task)
	if err != nil {
		kind := models.KindOf(err)
		logger.Errorf("Task %s (%s) failed: %v", task.ID, task.Input, err)
		return Outcome{Task: task, Status: StatusFailed, Kind: kind, Err: err, Output: out}
	}
	if out != nil && out.Result != nil && out.Result.Warning != nil {
		logger.Warnf("Task %s (%s): %v", task.ID, task.Input, out.Result.Warning)
		return Outcome{
			Task:   task,
			Status: StatusSucceededWithWarning,
			Kind:   models.KindQualityBelowTarget,
			Err:    out.Result.Warning,
			Output: out,
		}
	}
	return Outcome{Task: task, Status: StatusSucceeded, Output: out}
}
