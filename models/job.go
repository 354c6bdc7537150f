package models

// Resize is an optional target size. A zero dimension keeps the aspect ratio.
type Resize struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// IsZero reports whether no resize was requested.
func (r Resize) IsZero() bool {
	return r.Width <= 0 && r.Height <= 0
}

// ConversionTask describes one batch item. It is persisted as JSON in the
// task queue, so every field must round-trip.
type ConversionTask struct {
	ID        string      `json:"id"`
	Input     string      `json:"input"`
	OutputDir string      `json:"output_dir"`
	Target    Format      `json:"target"`
	Quality   QualitySpec `json:"quality"`
	Resize    Resize      `json:"resize,omitempty"`
	Reencode  bool        `json:"reencode,omitempty"`
	Naming    string      `json:"naming,omitempty"` // "unique" (default) or "keep"
}
