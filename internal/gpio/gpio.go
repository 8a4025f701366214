// Package gpio provides pin-level digital and analog access with hardware
// abstraction. The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Pull selects the input bias.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "pull-up"
	case PullDown:
		return "pull-down"
	default:
		return "none"
	}
}

// Driver drives and samples digital pins. Levels are physical (true = high);
// polarity is applied by the caller.
type Driver interface {
	// ValidPin reports whether pin exists on this platform.
	ValidPin(pin int) bool

	// ConfigureOutput claims pin as an output already driven to high, so
	// the line never shows another level first.
	ConfigureOutput(pin int, high bool) error

	// Write sets an output level.
	Write(pin int, high bool) error

	// ConfigureInput claims pin as an input with the given bias.
	ConfigureInput(pin int, pull Pull) error

	// Read returns the current input level.
	Read(pin int) (bool, error)

	// Release returns pin to a safe input state and frees it.
	Release(pin int) error

	// Close releases all pins.
	Close() error
}

// AnalogReader samples analog channels as raw ADC counts.
type AnalogReader interface {
	// ValidAnalogPin reports whether pin can be sampled.
	ValidAnalogPin(pin int) bool

	// ReadAnalog returns the raw count for pin.
	ReadAnalog(pin int) (int, error)
}

// AnalogWriter drives analog output channels with raw DAC codes.
type AnalogWriter interface {
	// ValidAnalogOutputPin reports whether pin can be driven.
	ValidAnalogOutputPin(pin int) bool

	// WriteAnalog sets the output code for pin.
	WriteAnalog(pin, code int) error
}
