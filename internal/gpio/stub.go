//go:build !linux

package gpio

import "github.com/pkg/errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealDriver is not available on non-Linux platforms.
type RealDriver struct{}

// NewRealDriver returns an error on non-Linux platforms.
func NewRealDriver(chipName string) (*RealDriver, error) {
	return nil, errUnsupported
}

func (d *RealDriver) ValidPin(pin int) bool { return false }
func (d *RealDriver) ConfigureOutput(pin int, high bool) error { return errUnsupported }
func (d *RealDriver) Write(pin int, high bool) error { return errUnsupported }
func (d *RealDriver) ConfigureInput(pin int, _ Pull) error { return errUnsupported }
func (d *RealDriver) Read(pin int) (bool, error) { return false, errUnsupported }
func (d *RealDriver) Release(pin int) error { return nil }
func (d *RealDriver) Close() error { return nil }
