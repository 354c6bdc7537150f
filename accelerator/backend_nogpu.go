//go:build nogpu

package accelerator

import "errors"

func openGPUDevice() (Device, error) {
	return nil, errors.New("built without GPU support (nogpu)")
}
