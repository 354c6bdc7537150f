package encoder

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"transmute/models"
)

// Detect sniffs the container format of data, falling back to the
// extension of name when the content is not recognized.
func Detect(data []byte, name string) (models.Format, error) {
	mt := mimetype.Detect(data)
	for _, f := range models.AllFormats {
		if mt.Is(f.MIME()) {
			return f, nil
		}
	}
	if name != "" {
		if f, err := models.FormatFromPath(name); err == nil {
			return f, nil
		}
	}
	return "", models.NewError(models.KindUnsupportedFormat, "detect", fmt.Errorf("unrecognized content type %s", mt.String()))
}
