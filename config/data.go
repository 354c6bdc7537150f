package config

import (
	"os"
	"path/filepath"
)

// getDataDir determines the data directory path from environment or default.
// Priority: TRANSMUTE_DATA_DIR environment variable > "./data" default
func getDataDir() string {
	if dir := os.Getenv("TRANSMUTE_DATA_DIR"); dir != "" {
		return dir
	}
	return "./data"
}

// GetDataDir returns the directory holding the record and queue databases.
// The environment is read on every call.
func GetDataDir() string {
	return getDataDir()
}

// GetFailuresDBPath returns the full path to the failures database.
// Path: {DATA_DIR}/failures.db
func GetFailuresDBPath() string {
	return filepath.Join(GetDataDir(), "failures.db")
}

// GetSuccessDBPath returns the full path to the success database.
// Path: {DATA_DIR}/success.db
func GetSuccessDBPath() string {
	return filepath.Join(GetDataDir(), "success.db")
}

// GetQueueDBPath returns the full path to the pending task queue.
// Path: {DATA_DIR}/queue.db
func GetQueueDBPath() string {
	return filepath.Join(GetDataDir(), "queue.db")
}

// GetOutputDir returns the default directory for converted files:
// TRANSMUTE_OUTPUT_DIR, else ~/Downloads/transmute, else ./output.
func GetOutputDir() string {
	if dir := os.Getenv("TRANSMUTE_OUTPUT_DIR"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Downloads", "transmute")
	}
	return "./output"
}
