package gpio

import "errors"

// Op records one configuration or write call on a FakeDriver.
type Op struct {
	Kind string // "output", "input", "write", "release", "analog"
	Pin  int
	High bool
	Pull Pull
	Code int
}

// FakeDriver is a test double with scripted input levels and a log of every
// configuration call. Valid digital pins are 0..Pins-1.
type FakeDriver struct {
	// Pins is the number of digital pins (default 40).
	Pins int

	// Levels holds physical input levels, set by tests.
	Levels map[int]bool

	// Outputs holds the last written level per output pin.
	Outputs map[int]bool

	// Ops logs configuration and write calls in order.
	Ops []Op

	// Analog holds raw counts per analog pin; AnalogPins lists valid ones.
	Analog     map[int]int
	AnalogPins map[int]bool

	// AnalogOut holds the last code written per analog output pin;
	// AnalogOutPins lists valid ones.
	AnalogOut     map[int]int
	AnalogOutPins map[int]bool

	// ReadError, if set, is returned by Read.
	ReadError error

	// Closed tracks if Close was called.
	Closed bool
}

// ESP32ADCPins lists the ADC-capable pins of an ESP32.
var ESP32ADCPins = []int{0, 2, 4, 12, 13, 14, 15, 25, 26, 27, 32, 33, 34, 35, 36, 37, 38, 39}

// ESP32DACPins lists the DAC pins of an ESP32.
var ESP32DACPins = []int{25, 26}

// NewFakeDriver creates a FakeDriver with 40 digital pins and ESP32 ADC and
// DAC pins.
func NewFakeDriver() *FakeDriver {
	f := &FakeDriver{
		Pins:          40,
		Levels:        make(map[int]bool),
		Outputs:       make(map[int]bool),
		Analog:        make(map[int]int),
		AnalogPins:    make(map[int]bool),
		AnalogOut:     make(map[int]int),
		AnalogOutPins: make(map[int]bool),
	}
	for _, p := range ESP32ADCPins {
		f.AnalogPins[p] = true
	}
	for _, p := range ESP32DACPins {
		f.AnalogOutPins[p] = true
	}
	return f
}

// SetLevel sets the physical level seen by Read.
func (f *FakeDriver) SetLevel(pin int, high bool) {
	f.Levels[pin] = high
}

// SetAnalog sets the raw count returned by ReadAnalog.
func (f *FakeDriver) SetAnalog(pin, raw int) {
	f.Analog[pin] = raw
}

// Count returns how many ops of kind were recorded for pin.
func (f *FakeDriver) Count(kind string, pin int) int {
	n := 0
	for _, op := range f.Ops {
		if op.Kind == kind && op.Pin == pin {
			n++
		}
	}
	return n
}

func (f *FakeDriver) ValidPin(pin int) bool {
	return pin >= 0 && pin < f.Pins
}

func (f *FakeDriver) ConfigureOutput(pin int, high bool) error {
	f.Ops = append(f.Ops, Op{Kind: "output", Pin: pin, High: high})
	f.Outputs[pin] = high
	return nil
}

func (f *FakeDriver) Write(pin int, high bool) error {
	f.Ops = append(f.Ops, Op{Kind: "write", Pin: pin, High: high})
	f.Outputs[pin] = high
	return nil
}

func (f *FakeDriver) ConfigureInput(pin int, pull Pull) error {
	f.Ops = append(f.Ops, Op{Kind: "input", Pin: pin, Pull: pull})
	return nil
}

func (f *FakeDriver) Read(pin int) (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}
	return f.Levels[pin], nil
}

func (f *FakeDriver) Release(pin int) error {
	f.Ops = append(f.Ops, Op{Kind: "release", Pin: pin})
	delete(f.Outputs, pin)
	return nil
}

func (f *FakeDriver) Close() error {
	f.Closed = true
	return nil
}

func (f *FakeDriver) ValidAnalogPin(pin int) bool {
	return f.AnalogPins[pin]
}

func (f *FakeDriver) ReadAnalog(pin int) (int, error) {
	if !f.AnalogPins[pin] {
		return 0, errors.New("not an analog pin")
	}
	return f.Analog[pin], nil
}

func (f *FakeDriver) ValidAnalogOutputPin(pin int) bool {
	return f.AnalogOutPins[pin]
}

func (f *FakeDriver) WriteAnalog(pin, code int) error {
	if !f.AnalogOutPins[pin] {
		return errors.New("not an analog output pin")
	}
	f.Ops = append(f.Ops, Op{Kind: "analog", Pin: pin, Code: code})
	f.AnalogOut[pin] = code
	return nil
}
