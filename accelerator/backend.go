package accelerator

import (
	"fmt"
	"strings"

	"transmute/logger"
)

// Backend names accepted by Open.
const (
	BackendAuto     = "auto"
	BackendSoftware = "software"
	BackendNone     = "none"
)

// OpenDevice opens the named compute backend. "auto" selects the GPU
// backend compiled into this binary.
func OpenDevice(backend string) (Device, error) {
	switch strings.ToLower(backend) {
	case "", BackendAuto, "gpu":
		return openGPUDevice()
	case BackendSoftware:
		return NewSoftwareDevice(), nil
	case BackendNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown accelerator backend %q", backend)
}

// Open builds an engine for cfg. A device that fails to open is logged and
// the engine runs CPU-only; callers never see AcceleratorUnavailable.
func Open(cfg Config, backend string) *Engine {
	if !cfg.Enabled {
		logger.Infof("accelerator disabled, using CPU path")
		return NewEngine(cfg, nil)
	}
	dev, err := OpenDevice(backend)
	if err != nil {
		logger.Warnf("accelerator unavailable, using CPU path: %v", err)
		return NewEngine(cfg, nil)
	}
	if dev == nil {
		return NewEngine(cfg, nil)
	}
	logger.Infof("accelerator ready on %s (threshold %d px, readback timeout %v)", dev.Name(), cfg.ActivationThreshold, cfg.ReadbackTimeout)
	return NewEngine(cfg, dev)
}
