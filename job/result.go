package job

import (
	"time"

	"transmute/models"
)

// BatchResult aggregates the outcomes of a batch, indexed by task order.
type BatchResult struct {
	Outcomes    []Outcome
	Total       int
	Succeeded   int
	Warned      int
	Failed      int // includes Cancelled
	Cancelled   int
	Elapsed     time.Duration
	MaxInFlight int
}

// FailedTask pairs a failed input with its error message.
type FailedTask struct {
	Input   string
	Kind    models.ErrorKind
	Message string
}

func (b *BatchResult) tally() {
	b.Succeeded, b.Warned, b.Failed, b.Cancelled = 0, 0, 0, 0
	for _, o := range b.Outcomes {
		switch o.Status {
		case StatusSucceeded:
			b.Succeeded++
		case StatusSucceededWithWarning:
			b.Warned++
		case StatusFailed:
			b.Failed++
			if o.Kind == models.KindCancelled {
				b.Cancelled++
			}
		}
	}
}

// Completed returns how many tasks reached a terminal outcome.
func (b *BatchResult) Completed() int {
	return b.Succeeded + b.Warned + b.Failed
}

// Percentage of tasks completed.
func (b *BatchResult) Percentage() float64 {
	if b.Total == 0 {
		return 100
	}
	return float64(b.Completed()) / float64(b.Total) * 100
}

func (b *BatchResult) IsComplete() bool {
	return b.Completed() == b.Total
}

// FailedTasks lists failures in task order.
func (b *BatchResult) FailedTasks() []FailedTask {
	var out []FailedTask
	for _, o := range b.Outcomes {
		if o.Status != StatusFailed {
			continue
		}
		msg := ""
		if o.Err != nil {
			msg = o.Err.Error()
		}
		out = append(out, FailedTask{Input: o.Task.Input, Kind: o.Kind, Message: msg})
	}
	return out
}

// KindCounts counts failures by kind.
func (b *BatchResult) KindCounts() map[models.ErrorKind]int {
	counts := make(map[models.ErrorKind]int)
	for _, o := range b.Outcomes {
		if o.Status == StatusFailed {
			counts[o.Kind]++
		}
	}
	return counts
}

// AverageRatio is the mean compression ratio of tasks that produced output.
func (b *BatchResult) AverageRatio() float64 {
	var sum float64
	var n int
	for _, o := range b.Outcomes {
		if o.Status == StatusFailed || o.Output == nil || o.Output.Result == nil {
			continue
		}
		sum += o.Output.Result.Ratio()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
