package taskqueue

import (
	"encoding/json"
	"fmt"

	"transmute/models"
)

// PendingQueue holds tasks of the current batch that have not reached a
// terminal state, so an interrupted batch can be resumed.
var PendingQueue *DBQueue

func OpenPendingQueueDB(path string) error {
	q, err := OpenQueue(path)
	if err != nil {
		return err
	}
	PendingQueue = q
	return nil
}

func ClosePendingQueueDB() error {
	if PendingQueue == nil {
		return nil
	}
	err := PendingQueue.Close()
	PendingQueue = nil
	return err
}

// Enqueue persists tasks keyed by ID.
func Enqueue(tasks ...models.ConversionTask) error {
	if PendingQueue == nil {
		return fmt.Errorf("pending queue not open")
	}
	for _, task := range tasks {
		if task.ID == "" {
			return fmt.Errorf("task for %s has no id", task.Input)
		}
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
		}
		if err := PendingQueue.Add(task.ID, data); err != nil {
			return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
		}
	}
	return nil
}

// Complete removes a task that reached a terminal state.
func Complete(id string) error {
	if PendingQueue == nil {
		return fmt.Errorf("pending queue not open")
	}
	return PendingQueue.Delete(id)
}

// PendingTasks returns every queued task in ID order.
func PendingTasks() ([]models.ConversionTask, error) {
	if PendingQueue == nil {
		return nil, fmt.Errorf("pending queue not open")
	}
	var tasks []models.ConversionTask
	err := PendingQueue.Each(func(key, value []byte) error {
		var task models.ConversionTask
		if err := json.Unmarshal(value, &task); err != nil {
			return fmt.Errorf("corrupt queue entry %s: %w", key, err)
		}
		tasks = append(tasks, task)
		return nil
	})
	return tasks, err
}
