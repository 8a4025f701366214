package pinio

import (
	"math"
	"time"

	"github.com/sweeney/devicecore/internal/gpio"
)

// OutputBinding describes a named digital output.
type OutputBinding struct {
	ID        string
	Name      string
	Pin       int
	ActiveLow bool
	// RegisterSettings exposes pin and polarity as live settings.
	RegisterSettings bool
}

// InputBinding describes a named digital input.
type InputBinding struct {
	ID        string
	Name      string
	Pin       int
	ActiveLow bool
	PullUp    bool
	PullDown  bool
	// RegisterSettings exposes pin, polarity and pulls as live settings.
	RegisterSettings bool
}

// AnalogInputBinding describes a named analog input and its scaling.
type AnalogInputBinding struct {
	ID     string
	Name   string
	Pin    int
	RawMin int
	RawMax int
	OutMin float64
	OutMax float64
	Unit   string
	// Deadband is the minimum scaled change reported as a new value.
	Deadband float64
	// MinEventInterval forces an event this often; zero disables it.
	MinEventInterval time.Duration
	// RegisterSettings exposes pin, scaling and gating as live settings.
	RegisterSettings bool
}

// Analog defaults for a 12-bit ADC.
const (
	DefaultRawMax           = 4095
	DefaultOutMax           = 4095.0
	DefaultDeadband         = 0.01
	DefaultMinEventInterval = 10 * time.Second
)

// NewAnalogInput returns a binding with default scaling and gating.
func NewAnalogInput(id, name string, pin int) AnalogInputBinding {
	return AnalogInputBinding{
		ID:               id,
		Name:             name,
		Pin:              pin,
		RawMax:           DefaultRawMax,
		OutMax:           DefaultOutMax,
		Deadband:         DefaultDeadband,
		MinEventInterval: DefaultMinEventInterval,
	}
}

// InputCallbacks are fired synchronously inside Update. Nil hooks are skipped.
type InputCallbacks struct {
	OnPress              func()
	OnRelease            func()
	OnClick              func()
	OnDoubleClick        func()
	OnLongClick          func()
	OnLongPressOnStartup func()
}

// InputEventOptions overrides classification timing; zero fields keep defaults.
type InputEventOptions struct {
	Debounce    time.Duration
	LongClick   time.Duration
	DoubleClick time.Duration
}

type outputConfig struct {
	pin       int
	activeLow bool
}

type inputConfig struct {
	pin       int
	activeLow bool
	pull      gpio.Pull
}

type analogConfig struct {
	pin      int
	rawMin   int
	rawMax   int
	outMin   float64
	outMax   float64
	deadband float64
	minEvent time.Duration
}

// mapAnalog scales raw linearly from [rawMin,rawMax] to [outMin,outMax].
// A degenerate raw range maps everything to outMin.
func mapAnalog(raw int, c analogConfig) float64 {
	if c.rawMax == c.rawMin {
		return c.outMin
	}
	return c.outMin + float64(raw-c.rawMin)*(c.outMax-c.outMin)/float64(c.rawMax-c.rawMin)
}

// acceptAnalog reports whether value is a new event relative to the last
// accepted one: a change of at least deadband, a validity change, or the
// minimum event interval elapsing.
func acceptAnalog(value, accepted float64, sinceLast time.Duration, c analogConfig) bool {
	valid, wasValid := !math.IsNaN(value), !math.IsNaN(accepted)
	if valid != wasValid {
		return true
	}
	if valid {
		d := math.Abs(value - accepted)
		if d > 0 && d >= c.deadband {
			return true
		}
	}
	return c.minEvent > 0 && sinceLast >= c.minEvent
}
