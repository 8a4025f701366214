package pinio

import (
	"math"

	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/settings"
)

// AnalogOutputBinding describes a named analog output. Values in
// [ValueMin,ValueMax] map linearly onto 0..RawMax volts, which the writer
// receives as codes 0..DACMax.
type AnalogOutputBinding struct {
	ID       string
	Name     string
	Pin      int
	ValueMin float64
	ValueMax float64
	Unit     string
	// Reverse maps ValueMin to full scale and ValueMax to zero volts.
	Reverse bool
	// RawMax is the full-scale voltage; zero uses DefaultRawMaxVolts.
	RawMax float64
	// DACMax is the full-scale code; zero uses DefaultDACMax.
	DACMax int
	// RegisterSettings exposes the pin as a live setting.
	RegisterSettings bool
}

// Analog output defaults for an 8-bit DAC on a 3.3 V rail.
const (
	DefaultValueMax    = 100.0
	DefaultRawMaxVolts = 3.3
	DefaultDACMax      = 255
)

// NewAnalogOutput returns a 0..100 binding with default scaling.
func NewAnalogOutput(id, name string, pin int) AnalogOutputBinding {
	return AnalogOutputBinding{
		ID:       id,
		Name:     name,
		Pin:      pin,
		ValueMax: DefaultValueMax,
		RawMax:   DefaultRawMaxVolts,
		DACMax:   DefaultDACMax,
	}
}

type analogOutput struct {
	binding AnalogOutputBinding
	slot    int
	pin     settings.Setting[int]

	appliedPin int
	seen       bool
	written    bool
	code       int // last code written

	volts float64 // physical output; value is derived from it
}

func (o *analogOutput) valueOf(volts float64) float64 {
	b := o.binding
	effective := volts
	if b.Reverse {
		effective = b.RawMax - volts
	}
	return clamp(mapRange(effective, 0, b.RawMax, b.ValueMin, b.ValueMax), b.ValueMin, b.ValueMax)
}

func (o *analogOutput) voltsOf(value float64) float64 {
	b := o.binding
	v := clamp(value, b.ValueMin, b.ValueMax)
	volts := mapRange(v, b.ValueMin, b.ValueMax, 0, b.RawMax)
	if b.Reverse {
		volts = b.RawMax - volts
	}
	return clamp(volts, 0, b.RawMax)
}

func (o *analogOutput) codeOf(volts float64) int {
	b := o.binding
	if b.RawMax <= 0 {
		return 0
	}
	code := int(math.Round(volts / b.RawMax * float64(b.DACMax)))
	return max(0, min(b.DACMax, code))
}

// mapRange scales x from [inMin,inMax] to [outMin,outMax]. A degenerate
// input range maps to outMin.
func mapRange(x, inMin, inMax, outMin, outMax float64) float64 {
	if inMax == inMin {
		return outMin
	}
	return outMin + (x-inMin)*(outMax-outMin)/(inMax-inMin)
}

// clamp bounds x to [lo,hi], accepting the bounds in either order.
func clamp(x, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	return math.Max(lo, math.Min(hi, x))
}

// AddAnalogOutput registers an analog output at zero volts. Duplicate ids
// are logged and ignored.
func (m *Manager) AddAnalogOutput(b AnalogOutputBinding) bool {
	if m.findAnalogOutput(b.ID) != nil {
		m.logger.Warn("duplicate analog output id ignored", zap.String("id", b.ID))
		return false
	}
	if b.RawMax <= 0 {
		b.RawMax = DefaultRawMaxVolts
	}
	if b.DACMax <= 0 {
		b.DACMax = DefaultDACMax
	}
	o := &analogOutput{binding: b, slot: len(m.analogOuts)}
	if m.wantsSettings(b.RegisterSettings, b.ID, o.slot) {
		o.pin = bindSetting(m, m.settings.Int, settings.SlotKey("AO", o.slot, 'P'), label(b.Name, b.ID, "pin"), b.Pin)
	}
	m.analogOuts = append(m.analogOuts, o)
	if m.begun {
		m.applyAnalogOutput(o)
	}
	return true
}

func (m *Manager) validAnalogOut(pin int) bool {
	return m.analogOut != nil && m.analogOut.ValidAnalogOutputPin(pin)
}

// applyAnalogOutput follows pin changes and writes the code when it differs
// from the last one written.
func (m *Manager) applyAnalogOutput(o *analogOutput) {
	pin := live(o.pin, o.binding.Pin)
	if !o.seen || pin != o.appliedPin {
		if o.seen {
			m.logger.Info("analog output reconfigured", zap.String("id", o.binding.ID), zap.Int("old_pin", o.appliedPin), zap.Int("pin", pin))
		}
		if !m.validAnalogOut(pin) {
			m.logger.Warn("invalid analog output pin, output disabled", zap.String("id", o.binding.ID), zap.Int("pin", pin))
		}
		o.appliedPin = pin
		o.seen = true
		o.written = false
	}
	if !m.validAnalogOut(pin) {
		return
	}
	code := o.codeOf(o.volts)
	if o.written && code == o.code {
		return
	}
	if err := m.analogOut.WriteAnalog(pin, code); err != nil {
		m.logger.Warn("write analog output", zap.String("id", o.binding.ID), zap.Int("pin", pin), zap.Error(err))
		return
	}
	o.written = true
	o.code = code
}

func (m *Manager) setVolts(id, op string, volts func(o *analogOutput) float64) bool {
	o := m.findAnalogOutput(id)
	if o == nil {
		m.logger.Warn(op+" of unknown analog output", zap.String("id", id))
		return false
	}
	o.volts = clamp(volts(o), 0, o.binding.RawMax)
	if m.begun {
		m.applyAnalogOutput(o)
	}
	return true
}

// SetValue sets an analog output in its value range, clamped.
func (m *Manager) SetValue(id string, value float64) bool {
	return m.setVolts(id, "set value", func(o *analogOutput) float64 { return o.voltsOf(value) })
}

// Value returns an analog output's value, NaN if unknown.
func (m *Manager) Value(id string) float64 {
	if o := m.findAnalogOutput(id); o != nil {
		return o.valueOf(o.volts)
	}
	return math.NaN()
}

// SetRawValue sets an analog output's voltage, clamped to 0..RawMax.
func (m *Manager) SetRawValue(id string, volts float64) bool {
	return m.setVolts(id, "set raw value", func(*analogOutput) float64 { return volts })
}

// RawValue returns an analog output's voltage, NaN if unknown.
func (m *Manager) RawValue(id string) float64 {
	if o := m.findAnalogOutput(id); o != nil {
		return o.volts
	}
	return math.NaN()
}

// SetDACValue sets an analog output by code, clamped to 0..DACMax.
func (m *Manager) SetDACValue(id string, code int) bool {
	return m.setVolts(id, "set dac value", func(o *analogOutput) float64 {
		c := max(0, min(o.binding.DACMax, code))
		return float64(c) / float64(o.binding.DACMax) * o.binding.RawMax
	})
}

// DACValue returns the code for an analog output's voltage, -1 if unknown.
func (m *Manager) DACValue(id string) int {
	if o := m.findAnalogOutput(id); o != nil {
		return o.codeOf(o.volts)
	}
	return -1
}

func (m *Manager) findAnalogOutput(id string) *analogOutput {
	for _, o := range m.analogOuts {
		if o.binding.ID == id {
			return o
		}
	}
	return nil
}
