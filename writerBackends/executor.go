package writerbackends

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"transmute/models"
)

// Naming modes for output files.
const (
	NamingUnique = "unique"
	NamingKeep   = "keep"
)

// Destination says where and under which name an artifact is written.
type Destination struct {
	Dir    string
	Source string // input path the name is derived from
	Format models.Format
	Naming string
}

// OutputName builds the file name for dest. The unique form is
// YYYYMMDD_<stem>_<8 hex chars>.<ext>; keep is <stem>.<ext>.
func OutputName(source string, f models.Format, naming string, now time.Time) (string, error) {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "", fmt.Errorf("cannot derive a file name from %q", source)
	}
	switch naming {
	case "", NamingUnique:
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		return fmt.Sprintf("%s_%s_%s.%s", now.Format("20060102"), stem, id, f.Extension()), nil
	case NamingKeep:
		return stem + "." + f.Extension(), nil
	}
	return "", fmt.Errorf("unknown naming mode %q", naming)
}

// WriteImage writes the content of reader to the destination and returns
// the final path.
func WriteImage(ctx context.Context, dest Destination, reader io.Reader) (string, error) {
	name, err := OutputName(dest.Source, dest.Format, dest.Naming, time.Now())
	if err != nil {
		return "", err
	}
	path, err := WriteLocal(ctx, dest.Dir, name, reader)
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return path, nil
}
