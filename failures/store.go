package failures

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pebble "github.com/cockroachdb/pebble"

	"transmute/models"
)

// FailureRecord represents a task that failed
type FailureRecord struct {
	TaskID    string           `json:"task_id"`
	Timestamp time.Time        `json:"timestamp"`
	Input     string           `json:"input"`
	Kind      models.ErrorKind `json:"kind"`
	Error     string           `json:"error"`
	TaskData  string           `json:"task_data"` // JSON of the task
}

// ErrNotInitialized is returned by every call made before Init.
var ErrNotInitialized = errors.New("failure store not initialized")

var db *pebble.DB

// Init initializes the failure store
func Init(dbPath string) error {
	var err error
	db, err = pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("failed to open failure store: %w", err)
	}
	return nil
}

// Close closes the failure store
func Close() error {
	if db != nil {
		err := db.Close()
		db = nil
		return err
	}
	return nil
}

// StoreFailure stores a task failure keyed by task ID
func StoreFailure(task models.ConversionTask, err error) error {
	if db == nil {
		return ErrNotInitialized
	}
	if err == nil {
		return fmt.Errorf("no error to store for task %s", task.ID)
	}

	taskJSON, jsonErr := json.Marshal(task)
	if jsonErr != nil {
		taskJSON = []byte(fmt.Sprintf("failed to marshal task: %v", jsonErr))
	}

	record := FailureRecord{
		TaskID:    task.ID,
		Timestamp: time.Now(),
		Input:     task.Input,
		Kind:      models.KindOf(err),
		Error:     err.Error(),
		TaskData:  string(taskJSON),
	}

	data, jsonErr := json.Marshal(record)
	if jsonErr != nil {
		return fmt.Errorf("failed to marshal failure record: %w", jsonErr)
	}

	return db.Set([]byte(task.ID), data, pebble.Sync)
}

// GetFailure retrieves a failure record by task ID
func GetFailure(taskID string) (*FailureRecord, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}

	data, closer, err := db.Get([]byte(taskID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil // No failure found
		}
		return nil, fmt.Errorf("failed to get failure: %w", err)
	}
	defer closer.Close()

	var record FailureRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failure record: %w", err)
	}

	return &record, nil
}

// Task decodes the stored task, for retrying.
func (r *FailureRecord) Task() (models.ConversionTask, error) {
	var task models.ConversionTask
	if err := json.Unmarshal([]byte(r.TaskData), &task); err != nil {
		return task, fmt.Errorf("failed to decode task of %s: %w", r.TaskID, err)
	}
	return task, nil
}

// DeleteFailure removes a failure record
func DeleteFailure(taskID string) error {
	if db == nil {
		return ErrNotInitialized
	}
	return db.Delete([]byte(taskID), pebble.Sync)
}

// ListFailures returns all failure records
func ListFailures() ([]FailureRecord, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}

	var failures []FailureRecord
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var record FailureRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			continue // Skip invalid records
		}
		failures = append(failures, record)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iteration error: %w", err)
	}

	return failures, nil
}

// CleanupOldRecords removes failure records older than maxAge and returns
// how many were removed
func CleanupOldRecords(maxAge time.Duration) (int, error) {
	if db == nil {
		return 0, ErrNotInitialized
	}

	cutoff := time.Now().Add(-maxAge)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}

	var keysToDelete [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var record FailureRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			continue
		}
		if record.Timestamp.Before(cutoff) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			keysToDelete = append(keysToDelete, key)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	for _, key := range keysToDelete {
		if err := db.Delete(key, pebble.Sync); err != nil {
			return 0, fmt.Errorf("failed to delete old failure record: %w", err)
		}
	}
	return len(keysToDelete), nil
}
