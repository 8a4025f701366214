// Package mqtt publishes device events and status snapshots to a broker.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/event"
)

// DefaultPrefix is the topic root when none is configured.
const DefaultPrefix = "devicecore"

// Topics holds the topics a publisher writes to.
type Topics struct {
	Events string
	Status string
}

// NewTopics derives the topic set from prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Events: prefix + "/events", Status: prefix + "/status"}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a device event. Errors must not stop the caller.
	Publish(e event.Event) error

	// PublishSystem sends a lifecycle or status message.
	PublishSystem(e SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle message (STARTUP, SHUTDOWN, HEARTBEAT).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // shutdown only
	RawPayload []byte // pre-formatted status snapshot; used as-is when set
	Retained   bool
}

// Payload is the JSON envelope for a device event.
type Payload struct {
	Event EventPayload `json:"event"`
}

// EventPayload carries one device event.
type EventPayload struct {
	Timestamp string   `json:"timestamp"`
	Kind      string   `json:"kind"`
	Source    string   `json:"source"`
	Raw       *int     `json:"raw,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	State     *int     `json:"state,omitempty"`
}

// FormatPayload creates the JSON payload for a device event. Raw and value
// are only present for analog samples, state only for alarm state changes.
func FormatPayload(e event.Event) ([]byte, error) {
	p := EventPayload{
		Timestamp: e.Time.UTC().Format(time.RFC3339),
		Kind:      string(e.Kind),
		Source:    e.Source,
	}
	switch e.Kind {
	case event.AnalogValue:
		raw := e.Raw
		p.Raw = &raw
		if !math.IsNaN(e.Value) && !math.IsInf(e.Value, 0) {
			v := e.Value
			p.Value = &v
		}
	case event.AlarmEnter, event.AlarmExit, event.AlarmStay, event.AlarmState:
		st := e.State
		p.State = &st
	}
	return json.Marshal(Payload{Event: p})
}

// SystemPayload is used for lifecycle messages without a status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// RawPayload, when set, is returned unchanged.
func FormatSystemPayload(e SystemEvent) ([]byte, error) {
	if e.RawPayload != nil {
		return e.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Event:     e.Event,
			Reason:    e.Reason,
		},
	})
}

// Sink forwards events to a Publisher. Failures are logged and dropped.
type Sink struct {
	pub    Publisher
	logger *zap.Logger
	skip   map[event.Kind]bool
}

// NewSink returns an event.Sink publishing through pub, ignoring skip kinds.
func NewSink(pub Publisher, logger *zap.Logger, skip ...event.Kind) *Sink {
	s := &Sink{pub: pub, logger: logger, skip: make(map[event.Kind]bool, len(skip))}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	for _, k := range skip {
		s.skip[k] = true
	}
	return s
}

func (s *Sink) Emit(e event.Event) {
	if s.skip[e.Kind] {
		return
	}
	if err := s.pub.Publish(e); err != nil {
		s.logger.Warn("mqtt publish failed", zap.String("kind", string(e.Kind)), zap.String("source", e.Source), zap.Error(err))
	}
}
