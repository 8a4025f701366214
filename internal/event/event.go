// Package event defines the closed set of notifications the managers emit
// and the single Sink interface they are delivered through.
package event

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind identifies an event variant.
type Kind string

const (
	InputPress            Kind = "INPUT_PRESS"
	InputRelease          Kind = "INPUT_RELEASE"
	InputClick            Kind = "INPUT_CLICK"
	InputDoubleClick      Kind = "INPUT_DOUBLE_CLICK"
	InputLongClick        Kind = "INPUT_LONG_CLICK"
	InputLongPressStartup Kind = "INPUT_LONG_PRESS_STARTUP"
	AnalogValue           Kind = "ANALOG_VALUE"
	AlarmEnter            Kind = "ALARM_ENTER"
	AlarmExit             Kind = "ALARM_EXIT"
	AlarmStay             Kind = "ALARM_STAY"
	AlarmState            Kind = "ALARM_STATE"
	WiFiConnected         Kind = "WIFI_CONNECTED"
	WiFiDisconnected      Kind = "WIFI_DISCONNECTED"
	WiFiAPMode            Kind = "WIFI_AP_MODE"
)

// Event is one notification. Source is the binding, alarm or SSID it
// concerns; the remaining fields are set only by the kinds that use them.
type Event struct {
	Kind   Kind
	Source string
	Time   time.Time

	Raw   int     // AnalogValue
	Value float64 // AnalogValue
	State int     // AlarmState
}

// Sink receives events synchronously on the scheduler goroutine.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Fanout delivers each event to every sink in order.
type Fanout []Sink

func (f Fanout) Emit(e Event) {
	for _, s := range f {
		s.Emit(e)
	}
}

// Recorder keeps every event for assertions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind were recorded for source.
func (r *Recorder) Count(kind Kind, source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind && e.Source == source {
			n++
		}
	}
	return n
}

// Reset clears recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// LogSink writes each event to logger at debug level, analog samples
// excepted since they arrive continuously.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("event")}
}

func (s *LogSink) Emit(e Event) {
	fields := []zap.Field{zap.String("kind", string(e.Kind)), zap.String("source", e.Source)}
	switch e.Kind {
	case AnalogValue:
		s.logger.Debug("event", append(fields, zap.Int("raw", e.Raw), zap.Float64("value", e.Value))...)
		return
	case AlarmState:
		fields = append(fields, zap.Int("state", e.State))
	}
	s.logger.Info("event", fields...)
}
