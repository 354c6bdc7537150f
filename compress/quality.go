package compress

import (
	"fmt"

	"transmute/models"
)

type preset struct {
	name    string
	quality int // jpeg, avif
	webp    int
	level   int
	ssim    float64
}

// presets are ordered from highest to lowest quality.
var presets = []preset{
	{models.PresetMaximum, 98, 98, 0, 0.98},
	{models.PresetHigh, 95, 90, 2, 0.95},
	{models.PresetBalanced, 85, 80, 4, 0.90},
	{models.PresetLow, 75, 70, 6, 0},
}

// DefaultQuality is used when a task carries no quality at all.
var DefaultQuality = models.Preset(models.PresetBalanced)

// Resolve turns q into the codec parameters for format f. A zero q means
// DefaultQuality.
func Resolve(q models.QualitySpec, f models.Format) (models.CodecParams, error) {
	if q.IsZero() {
		q = DefaultQuality
	}

	if q.Preset != "" {
		for _, p := range presets {
			if p.name != q.Preset {
				continue
			}
			params := models.CodecParams{
				Quality:       p.quality,
				Level:         p.level,
				SSIMThreshold: p.ssim,
				Preset:        p.name,
			}
			if f == models.FormatWebP {
				params.Quality = p.webp
			}
			return params, nil
		}
		return models.CodecParams{}, fmt.Errorf("unknown quality preset %q", q.Preset)
	}

	v := q.Value
	if v < 1 || v > 100 {
		return models.CodecParams{}, fmt.Errorf("quality %d out of range 1-100", v)
	}
	params := models.CodecParams{
		Quality: v,
		Level:   6 - v*6/100,
	}
	for _, p := range presets {
		if p.quality <= v {
			params.SSIMThreshold = p.ssim
			break
		}
	}
	return params, nil
}
