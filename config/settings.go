package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"transmute/accelerator"
	"transmute/models"
)

// Settings is the runtime configuration. Load fills it from the
// environment; the CLI overrides individual fields from flags.
type Settings struct {
	DataDir   string `validate:"required"`
	OutputDir string `validate:"required"`

	GPU             bool
	Backend         string        `validate:"oneof=auto gpu software none"`
	GPUThreshold    int           `validate:"gte=0"`
	ReadbackTimeout time.Duration `validate:"gt=0"`
	PoolCapacity    int           `validate:"gte=0"`
	Concurrency     int           `validate:"gte=0,lte=1024"`
	Quality         string
	Naming          string        `validate:"oneof=unique keep"`
	MaxRecordAge    time.Duration `validate:"gt=0"`
	LogFile         string
	LogLevel        string `validate:"oneof=DEBUG INFO WARN ERROR"`
	MetricsFile     string
}

var validate = validator.New()

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		DataDir:         getDataDir(),
		OutputDir:       GetOutputDir(),
		GPU:             true,
		Backend:         accelerator.BackendAuto,
		GPUThreshold:    accelerator.DefaultActivationThreshold,
		ReadbackTimeout: accelerator.DefaultReadbackTimeout,
		PoolCapacity:    accelerator.DefaultPoolCapacity,
		Quality:         models.PresetBalanced,
		Naming:          "unique",
		MaxRecordAge:    30 * 24 * time.Hour,
		LogLevel:        "INFO",
	}
}

// Load reads TRANSMUTE_* variables over the defaults and validates the result.
func Load() (Settings, error) {
	s := Default()
	var errs []string

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv("TRANSMUTE_GPU"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("TRANSMUTE_GPU: %v", err))
		} else {
			s.GPU = b
		}
	}
	str("TRANSMUTE_BACKEND", &s.Backend)
	integer("TRANSMUTE_GPU_THRESHOLD", &s.GPUThreshold)
	duration("TRANSMUTE_READBACK_TIMEOUT", &s.ReadbackTimeout)
	integer("TRANSMUTE_POOL_CAPACITY", &s.PoolCapacity)
	integer("TRANSMUTE_CONCURRENCY", &s.Concurrency)
	str("TRANSMUTE_QUALITY", &s.Quality)
	str("TRANSMUTE_NAMING", &s.Naming)
	duration("TRANSMUTE_MAX_RECORD_AGE", &s.MaxRecordAge)
	str("TRANSMUTE_LOG_FILE", &s.LogFile)
	str("TRANSMUTE_LOG_LEVEL", &s.LogLevel)
	str("TRANSMUTE_METRICS_FILE", &s.MetricsFile)

	s.Backend = strings.ToLower(s.Backend)
	s.LogLevel = strings.ToUpper(s.LogLevel)

	if len(errs) > 0 {
		return s, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return s, s.Validate()
}

// Validate checks field constraints and that Quality parses.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			var msgs []string
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", e.Field(), e.Tag(), e.Value()))
			}
			return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if _, err := models.ParseQuality(s.Quality); err != nil {
		return err
	}
	return nil
}

// QualitySpec returns the parsed default quality.
func (s Settings) QualitySpec() models.QualitySpec {
	q, _ := models.ParseQuality(s.Quality)
	return q
}

// Accelerator builds the dispatch engine configuration.
func (s Settings) Accelerator() accelerator.Config {
	return accelerator.Config{
		Enabled:             s.GPU,
		ActivationThreshold: s.GPUThreshold,
		ReadbackTimeout:     s.ReadbackTimeout,
		PoolCapacity:        s.PoolCapacity,
	}
}
