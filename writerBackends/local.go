package writerbackends

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"transmute/logger"
)

// WriteLocal writes reader to dir/filename. The content goes to a temporary
// file first and is renamed into place, so a partial file is never visible
// under the final name.
func WriteLocal(ctx context.Context, dir, filename string, reader io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Ensure the target directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	fullPath := filepath.Join(dir, filename)
	tmp, err := os.CreateTemp(dir, "."+filename+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write to file %s: %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close file %s: %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("failed to move file into place %s: %w", fullPath, err)
	}

	logger.Debugf("Saved '%s' to '%s'", filename, fullPath)
	return fullPath, nil
}
