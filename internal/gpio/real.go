//go:build linux

package gpio

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// RealDriver drives pins through a Linux GPIO character device.
type RealDriver struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealDriver opens the named chip, e.g. "gpiochip0".
func NewRealDriver(chipName string) (*RealDriver, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, errors.Wrapf(err, "open gpio chip %s", chipName)
	}
	return &RealDriver{chip: chip, lines: make(map[int]*gpiocdev.Line)}, nil
}

// ValidPin reports whether pin is an offset on the chip.
func (d *RealDriver) ValidPin(pin int) bool {
	return pin >= 0 && pin < d.chip.Lines()
}

func biasOption(pull Pull) gpiocdev.LineBias {
	switch pull {
	case PullUp:
		return gpiocdev.WithPullUp
	case PullDown:
		return gpiocdev.WithPullDown
	default:
		return gpiocdev.WithBiasDisabled
	}
}

func lineValue(high bool) int {
	if high {
		return 1
	}
	return 0
}

// ConfigureOutput requests pin as an output already driven to high.
func (d *RealDriver) ConfigureOutput(pin int, high bool) error {
	v := lineValue(high)
	if l, ok := d.lines[pin]; ok {
		return errors.Wrapf(l.Reconfigure(gpiocdev.AsOutput(v)), "reconfigure pin %d as output", pin)
	}
	l, err := d.chip.RequestLine(pin, gpiocdev.AsOutput(v))
	if err != nil {
		return errors.Wrapf(err, "request pin %d as output", pin)
	}
	d.lines[pin] = l
	return nil
}

// ConfigureInput requests pin as an input with the given bias.
func (d *RealDriver) ConfigureInput(pin int, pull Pull) error {
	if l, ok := d.lines[pin]; ok {
		return errors.Wrapf(l.Reconfigure(gpiocdev.AsInput, biasOption(pull)), "reconfigure pin %d as input", pin)
	}
	l, err := d.chip.RequestLine(pin, gpiocdev.AsInput, biasOption(pull))
	if err != nil {
		return errors.Wrapf(err, "request pin %d as input", pin)
	}
	d.lines[pin] = l
	return nil
}

// Write sets an output level.
func (d *RealDriver) Write(pin int, high bool) error {
	l, ok := d.lines[pin]
	if !ok {
		return errors.Errorf("pin %d not configured", pin)
	}
	return errors.Wrapf(l.SetValue(lineValue(high)), "write pin %d", pin)
}

// Read returns the input level.
func (d *RealDriver) Read(pin int) (bool, error) {
	l, ok := d.lines[pin]
	if !ok {
		return false, errors.Errorf("pin %d not configured", pin)
	}
	v, err := l.Value()
	if err != nil {
		return false, errors.Wrapf(err, "read pin %d", pin)
	}
	return v == 1, nil
}

// Release reconfigures pin to input with pull-down (Pi boot default) and
// closes it, so an abandoned pin never stays energized.
func (d *RealDriver) Release(pin int) error {
	l, ok := d.lines[pin]
	if !ok {
		return nil
	}
	delete(d.lines, pin)

	var errs []error
	if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, errors.Wrapf(err, "reconfigure pin %d", pin))
	}
	if err := l.Close(); err != nil {
		errs = append(errs, errors.Wrapf(err, "close pin %d", pin))
	}
	if len(errs) > 0 {
		return fmt.Errorf("release errors: %v", errs)
	}
	return nil
}

// Close releases every claimed pin and the chip.
func (d *RealDriver) Close() error {
	var errs []error
	for pin := range d.lines {
		if err := d.Release(pin); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.chip.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close chip"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
