// Package modbusadc samples analog channels from a Modbus TCP analog I/O
// module. Input channel N is read from input register Base+N; output
// channel N is written to holding register OutputBase+N.
package modbusadc

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/simonvetter/modbus"
)

// Config describes the remote ADC.
type Config struct {
	URL      string // e.g. "tcp://192.168.1.50:502"
	UnitID   uint8
	Timeout  time.Duration
	Base     uint16 // register of channel 0
	Channels int
	Holding  bool // read holding instead of input registers

	OutputBase uint16 // holding register of output channel 0
	Outputs    int
}

type registers interface {
	ReadRegister(addr uint16, regType modbus.RegType) (uint16, error)
	WriteRegister(addr uint16, value uint16) error
	Close() error
}

// Reader implements gpio.AnalogReader and gpio.AnalogWriter over Modbus.
type Reader struct {
	mu       sync.Mutex
	client   registers
	base     uint16
	channels int
	regType  modbus.RegType

	outBase uint16
	outputs int
}

// Open connects to the module described by cfg.
func Open(cfg Config) (*Reader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     cfg.URL,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create modbus client %s", cfg.URL)
	}
	if cfg.UnitID != 0 {
		if err := client.SetUnitId(cfg.UnitID); err != nil {
			return nil, errors.Wrap(err, "set unit id")
		}
	}
	if err := client.Open(); err != nil {
		return nil, errors.Wrapf(err, "open modbus %s", cfg.URL)
	}
	return newReader(client, cfg), nil
}

func newReader(client registers, cfg Config) *Reader {
	regType := modbus.INPUT_REGISTER
	if cfg.Holding {
		regType = modbus.HOLDING_REGISTER
	}
	return &Reader{
		client:   client,
		base:     cfg.Base,
		channels: cfg.Channels,
		regType:  regType,
		outBase:  cfg.OutputBase,
		outputs:  cfg.Outputs,
	}
}

// ValidAnalogPin reports whether pin is one of the configured channels.
func (r *Reader) ValidAnalogPin(pin int) bool {
	return pin >= 0 && pin < r.channels
}

// ReadAnalog reads the raw count of channel pin.
func (r *Reader) ReadAnalog(pin int) (int, error) {
	if !r.ValidAnalogPin(pin) {
		return 0, errors.Errorf("channel %d out of range (0..%d)", pin, r.channels-1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.client.ReadRegister(r.base+uint16(pin), r.regType)
	if err != nil {
		return 0, errors.Wrapf(err, "read channel %d", pin)
	}
	return int(v), nil
}

// ValidAnalogOutputPin reports whether pin is one of the output channels.
func (r *Reader) ValidAnalogOutputPin(pin int) bool {
	return pin >= 0 && pin < r.outputs
}

// WriteAnalog writes code to output channel pin.
func (r *Reader) WriteAnalog(pin, code int) error {
	if !r.ValidAnalogOutputPin(pin) {
		return errors.Errorf("output channel %d out of range (0..%d)", pin, r.outputs-1)
	}
	if code < 0 || code > 0xFFFF {
		return errors.Errorf("output code %d does not fit a register", code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.client.WriteRegister(r.outBase+uint16(pin), uint16(code)); err != nil {
		return errors.Wrapf(err, "write output channel %d", pin)
	}
	return nil
}

// Close closes the connection.
func (r *Reader) Close() error {
	return r.client.Close()
}
