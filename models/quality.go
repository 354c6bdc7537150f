package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Named quality presets.
const (
	PresetLow      = "low"
	PresetBalanced = "balanced"
	PresetHigh     = "high"
	PresetMaximum  = "maximum"
)

// QualitySpec is either a preset name or an explicit value in 1..100.
// The zero value means "use the configured default".
type QualitySpec struct {
	Preset string `json:"preset,omitempty"`
	Value  int    `json:"value,omitempty"`
}

// Preset returns a QualitySpec for a named preset.
func Preset(name string) QualitySpec {
	return QualitySpec{Preset: name}
}

// Quality returns a QualitySpec for an explicit value, clamped to 1..100.
func Quality(v int) QualitySpec {
	return QualitySpec{Value: clampQuality(v)}
}

// ParseQuality parses "1".."100" or one of low, medium, balanced, high, maximum.
func ParseQuality(s string) (QualitySpec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return QualitySpec{}, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return Quality(n), nil
	}
	switch s {
	case PresetLow:
		return Preset(PresetLow), nil
	case "medium", PresetBalanced:
		return Preset(PresetBalanced), nil
	case PresetHigh:
		return Preset(PresetHigh), nil
	case "max", PresetMaximum:
		return Preset(PresetMaximum), nil
	}
	return QualitySpec{}, fmt.Errorf("invalid quality %q: use 1-100 or low, medium, high, maximum", s)
}

// IsZero reports whether no quality was specified.
func (q QualitySpec) IsZero() bool {
	return q.Preset == "" && q.Value == 0
}

func (q QualitySpec) String() string {
	if q.Preset != "" {
		return q.Preset
	}
	if q.Value != 0 {
		return strconv.Itoa(q.Value)
	}
	return "default"
}

func clampQuality(v int) int {
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

// CodecParams is a QualitySpec resolved against a concrete format.
type CodecParams struct {
	Quality       int     `json:"quality"`        // encoder quality knob for lossy codecs
	Level         int     `json:"level"`          // compression effort for lossless codecs, 0..6
	SSIMThreshold float64 `json:"ssim_threshold"` // 0 means no target
	Preset        string  `json:"preset,omitempty"`
	Reencode      bool    `json:"reencode,omitempty"` // disables JPEG passthrough
}
