package success

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pebble "github.com/cockroachdb/pebble"

	"transmute/models"
)

// SuccessRecord represents a task that produced an artifact
type SuccessRecord struct {
	TaskID         string        `json:"task_id"`
	Timestamp      time.Time     `json:"timestamp"`
	Input          string        `json:"input"`
	Output         string        `json:"output"`
	Format         models.Format `json:"format"`
	Passthrough    bool          `json:"passthrough,omitempty"`
	Path           string        `json:"path,omitempty"` // cpu or accelerator
	OriginalSize   int           `json:"original_size"`
	CompressedSize int           `json:"compressed_size"`
	Quality        int           `json:"quality"`
	SSIM           float64       `json:"ssim"`
	// PSNR is nil when the artifact is identical to its source.
	PSNR    *float64 `json:"psnr,omitempty"`
	MSE     float64  `json:"mse"`
	Warning string   `json:"warning,omitempty"`
}

// ErrNotInitialized is returned by every call made before Init.
var ErrNotInitialized = errors.New("success store not initialized")

var db *pebble.DB

// Init initializes the success store
func Init(dbPath string) error {
	var err error
	db, err = pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("failed to open success store: %w", err)
	}
	return nil
}

// Close closes the success store
func Close() error {
	if db != nil {
		err := db.Close()
		db = nil
		return err
	}
	return nil
}

// StoreSuccess stores a successful task, keyed by task ID
func StoreSuccess(record SuccessRecord) error {
	if db == nil {
		return ErrNotInitialized
	}
	if record.TaskID == "" {
		return fmt.Errorf("success record has no task id")
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal success record: %w", err)
	}

	return db.Set([]byte(record.TaskID), data, pebble.Sync)
}

// GetSuccess retrieves a success record by task ID
func GetSuccess(taskID string) (*SuccessRecord, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}

	data, closer, err := db.Get([]byte(taskID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil // Not found is not an error
		}
		return nil, err
	}
	defer closer.Close()

	var record SuccessRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal success record: %w", err)
	}

	return &record, nil
}

// DeleteSuccess removes a success record
func DeleteSuccess(taskID string) error {
	if db == nil {
		return ErrNotInitialized
	}
	return db.Delete([]byte(taskID), pebble.Sync)
}

// ListSuccessRecords returns all success records
func ListSuccessRecords() ([]SuccessRecord, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}

	var records []SuccessRecord
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var record SuccessRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			continue // Skip invalid records
		}
		records = append(records, record)
	}

	return records, iter.Error()
}

// CleanupOldRecords removes success records older than maxAge and returns
// how many were removed
func CleanupOldRecords(maxAge time.Duration) (int, error) {
	if db == nil {
		return 0, ErrNotInitialized
	}

	cutoff := time.Now().Add(-maxAge)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}

	var keysToDelete [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var record SuccessRecord
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

	batch := db.NewBatch()
	defer batch.Close()
	for _, key := range keysToDelete {
		if err := batch.Delete(key, nil); err != nil {
			return 0, fmt.Errorf("failed to delete old success record: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to delete old success records: %w", err)
	}

	return len(keysToDelete), nil
}

// CheckHealth performs a basic health check on the success database
func CheckHealth() error {
	if db == nil {
		return ErrNotInitialized
	}

	_, closer, err := db.Get([]byte("__health_check__"))
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if closer != nil {
		closer.Close()
	}
	return nil
}
