package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFanoutDeliversInOrder(t *testing.T) {
	var a, b Recorder
	var order []string
	first := SinkFunc(func(Event) { order = append(order, "first") })
	second := SinkFunc(func(Event) { order = append(order, "second") })

	f := Fanout{&a, first, second, &b}
	f.Emit(Event{Kind: InputClick, Source: "btn"})

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, a.Count(InputClick, "btn"))
	assert.Equal(t, 1, b.Count(InputClick, "btn"))
}

func TestRecorderCountAndReset(t *testing.T) {
	var r Recorder
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Emit(Event{Kind: AlarmEnter, Source: "temp", Time: now})
	r.Emit(Event{Kind: AlarmEnter, Source: "level", Time: now})
	r.Emit(Event{Kind: AlarmEnter, Source: "temp", Time: now})

	assert.Equal(t, 2, r.Count(AlarmEnter, "temp"))
	assert.Equal(t, 0, r.Count(AlarmExit, "temp"))
	assert.Len(t, r.Events(), 3)

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestLogSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewLogSink(zap.New(core))

	s.Emit(Event{Kind: AnalogValue, Source: "tank", Raw: 100, Value: 2.4})
	s.Emit(Event{Kind: AlarmState, Source: "tank_low", State: 2})

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
		assert.Equal(t, int64(2), entries[1].ContextMap()["state"])
	}
}

func TestDiscard(t *testing.T) {
	Discard.Emit(Event{Kind: WiFiConnected})
}
