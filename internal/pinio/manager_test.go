package pinio

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sweeney/devicecore/internal/event"
	"github.com/sweeney/devicecore/internal/gpio"
	"github.com/sweeney/devicecore/internal/settings"
	"github.com/sweeney/devicecore/internal/status"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

type rig struct {
	m     *Manager
	drv   *gpio.FakeDriver
	clk   *clock
	rec   *event.Recorder
	reg   *settings.Registry
	store *settings.MemoryStore
}

func newRig(t *testing.T, window time.Duration) *rig {
	t.Helper()
	r := &rig{
		drv:   gpio.NewFakeDriver(),
		clk:   &clock{now: t0},
		rec:   &event.Recorder{},
		store: settings.NewMemoryStore(),
	}
	r.reg = settings.NewRegistry(r.store, zap.NewNop())
	r.m = New(Config{
		Driver:        r.drv,
		Analog:        r.drv,
		AnalogOut:     r.drv,
		Settings:      r.reg,
		Sink:          r.rec,
		Logger:        zap.NewNop(),
		Now:           r.clk.Now,
		StartupWindow: window,
	})
	return r
}

// runUntil ticks every 10ms up to offset (ms from t0), applying level
// changes to pin at the listed offsets.
func (r *rig) runUntil(pin int, edges map[int]bool, until int) {
	start := int(r.clk.now.Sub(t0) / time.Millisecond)
	for at := start; at <= until; at += 10 {
		if lvl, ok := edges[at]; ok {
			r.drv.SetLevel(pin, lvl)
		}
		r.clk.now = t0.Add(ms(at))
		r.m.Update()
	}
}

type counts struct {
	press, release, click, double, long, startup int
}

func (c *counts) callbacks() InputCallbacks {
	return InputCallbacks{
		OnPress:              func() { c.press++ },
		OnRelease:            func() { c.release++ },
		OnClick:              func() { c.click++ },
		OnDoubleClick:        func() { c.double++ },
		OnLongClick:          func() { c.long++ },
		OnLongPressOnStartup: func() { c.startup++ },
	}
}

func buttonRig(t *testing.T, c *counts) *rig {
	t.Helper()
	r := newRig(t, ms(1))
	require.True(t, r.m.AddDigitalInput(InputBinding{ID: "btn", Pin: 4}))
	cb := c.callbacks()
	cb.OnLongPressOnStartup = nil
	require.True(t, r.m.ConfigureDigitalInputEvents("btn", cb, InputEventOptions{
		Debounce:    ms(20),
		DoubleClick: ms(300),
		LongClick:   ms(1000),
	}))
	r.m.Begin()
	return r
}

func TestSingleClick(t *testing.T) {
	var c counts
	r := buttonRig(t, &c)

	r.runUntil(4, map[int]bool{0: true, 50: false}, 340)
	assert.Equal(t, 0, c.click, "click must not fire before the double-click window closes")

	r.runUntil(4, nil, 1000)
	assert.Equal(t, 1, c.click)
	assert.Equal(t, 0, c.double)
	assert.Equal(t, 1, c.press)
	assert.Equal(t, 1, c.release)
	assert.Equal(t, 1, r.rec.Count(event.InputClick, "btn"))
}

func TestDoubleClick(t *testing.T) {
	var c counts
	r := buttonRig(t, &c)

	r.runUntil(4, map[int]bool{0: true, 50: false, 120: true, 170: false}, 1000)
	assert.Equal(t, 1, c.double)
	assert.Equal(t, 0, c.click)
	assert.Equal(t, 1, r.rec.Count(event.InputDoubleClick, "btn"))
}

func TestLongPressFiresOnce(t *testing.T) {
	var c counts
	r := buttonRig(t, &c)

	r.runUntil(4, map[int]bool{0: true}, 990)
	assert.Equal(t, 0, c.long)

	r.runUntil(4, map[int]bool{3000: false}, 4000)
	assert.Equal(t, 1, c.long)
	assert.Equal(t, 0, c.click)
	assert.Equal(t, 0, c.double)
	assert.Equal(t, 1, c.release)
}

func TestStartupLongPressEndToEnd(t *testing.T) {
	r := newRig(t, ms(3000))
	require.True(t, r.m.AddDigitalInput(InputBinding{ID: "btn", Pin: 4}))
	var c counts
	require.True(t, r.m.ConfigureDigitalInputEvents("btn", c.callbacks(), InputEventOptions{
		Debounce:  ms(20),
		LongClick: ms(1000),
	}))

	r.drv.SetLevel(4, true)
	r.m.Begin()
	r.runUntil(4, nil, 2500)

	assert.Equal(t, 1, c.startup)
	assert.Equal(t, 0, c.press)
	assert.Equal(t, 0, c.click)
	assert.Equal(t, 0, c.long)
	assert.Equal(t, 1, r.rec.Count(event.InputLongPressStartup, "btn"))
}

func TestLongPressAtStartupWindowEdge(t *testing.T) {
	r := newRig(t, ms(1000))
	require.True(t, r.m.AddDigitalInput(InputBinding{ID: "btn", Pin: 4}))
	var c counts
	r.m.ConfigureDigitalInputEvents("btn", c.callbacks(), InputEventOptions{Debounce: ms(20), LongClick: ms(1000)})

	// held from boot, long click completes on the tick the window closes
	r.drv.SetLevel(4, true)
	r.m.Begin()
	r.runUntil(4, nil, 1500)

	assert.Equal(t, 1, c.startup)
	assert.Equal(t, 0, c.long)
}

func TestLongPressAfterStartupWindowIsLongClick(t *testing.T) {
	r := newRig(t, ms(500))
	require.True(t, r.m.AddDigitalInput(InputBinding{ID: "btn", Pin: 4}))
	var c counts
	r.m.ConfigureDigitalInputEvents("btn", c.callbacks(), InputEventOptions{Debounce: ms(20), LongClick: ms(1000)})
	r.m.Begin()

	r.runUntil(4, map[int]bool{0: true}, 1500)
	assert.Equal(t, 0, c.startup)
	assert.Equal(t, 1, c.long)
}

func TestActiveLowInput(t *testing.T) {
	r := newRig(t, ms(1))
	r.m.AddDigitalInput(InputBinding{ID: "door", Pin: 5, ActiveLow: true, PullUp: true})
	r.drv.SetLevel(5, true)
	r.m.Begin()
	assert.False(t, r.m.InputState("door"), "high on an active-low input is released")

	r.runUntil(5, map[int]bool{10: false}, 200)
	assert.True(t, r.m.InputState("door"))
}

func TestNoReconfigurationFlicker(t *testing.T) {
	r := newRig(t, ms(1))
	r.m.AddDigitalOutput(OutputBinding{ID: "relay", Pin: 2, RegisterSettings: true})
	r.m.Begin()

	for i := 0; i < 50; i++ {
		r.clk.now = r.clk.now.Add(ms(10))
		r.m.Update()
	}
	assert.Equal(t, 1, r.drv.Count("output", 2))
	assert.Equal(t, 0, r.drv.Count("write", 2), "claimed inactive, nothing left to write")
	assert.Equal(t, 0, r.drv.Count("release", 2))
}

func TestOutputReconfigurationDrivesOldPinInactive(t *testing.T) {
	r := newRig(t, ms(1))
	r.m.AddDigitalOutput(OutputBinding{ID: "relay", Pin: 2, RegisterSettings: true})
	r.m.Begin()
	r.m.SetState("relay", true)
	require.True(t, r.drv.Outputs[2])

	require.NoError(t, r.reg.Apply("IO00P", "13"))
	r.drv.Ops = nil
	r.m.Update()

	want := []gpio.Op{
		{Kind: "write", Pin: 2, High: false},
		{Kind: "release", Pin: 2},
		{Kind: "output", Pin: 13, High: false},
		{Kind: "write", Pin: 13, High: true},
	}
	assert.Equal(t, want, r.drv.Ops)
	assert.True(t, r.m.State("relay"))
}

func TestActiveLowOutput(t *testing.T) {
	r := newRig(t, ms(1))
	r.m.AddDigitalOutput(OutputBinding{ID: "led", Pin: 3, ActiveLow: true})
	r.m.Begin()
	assert.True(t, r.drv.Outputs[3], "inactive active-low output is driven high")

	r.m.SetState("led", true)
	assert.False(t, r.drv.Outputs[3])
}

func TestActiveLowOutputClaimedInactive(t *testing.T) {
	r := newRig(t, ms(1))
	r.m.AddDigitalOutput(OutputBinding{ID: "relay", Pin: 5, ActiveLow: true, RegisterSettings: true})
	r.m.Begin()

	assert.Equal(t, []gpio.Op{{Kind: "output", Pin: 5, High: true}}, r.drv.Ops,
		"an active-low relay must never be claimed low")

	require.NoError(t, r.reg.Apply("IO00P", "6"))
	r.drv.Ops = nil
	r.m.Update()
	assert.Equal(t, []gpio.Op{
		{Kind: "write", Pin: 5, High: true},
		{Kind: "release", Pin: 5},
		{Kind: "output", Pin: 6, High: true},
	}, r.drv.Ops)
	assert.True(t, r.drv.Outputs[6])
}

func TestPolarityChangeReappliesOutput(t *testing.T) {
	r := newRig(t, ms(1))
	r.m.AddDigitalOutput(OutputBinding{ID: "relay", Pin: 2, RegisterSettings: true})
	r.m.Begin()
	require.False(t, r.drv.Outputs[2])

	require.NoError(t, r.reg.Apply("IO00L", "true"))
	r.m.Update()
	assert.True(t, r.drv.Outputs[2], "inactive output follows new polarity")
}

func TestInvalidPins(t *testing.T) {
	r := newRig(t, ms(1))
	r.m.AddDigitalOutput(OutputBinding{ID: "relay", Pin: 77})
	r.m.AddDigitalInput(InputBinding{ID: "btn", Pin: -1})
	r.m.AddAnalogInput(NewAnalogInput("tank", "Tank", 5))
	r.drv.SetLevel(-1, true)
	r.m.Begin()
	r.m.Update()

	assert.True(t, r.m.SetState("relay", true), "known id accepts state")
	assert.Empty(t, r.drv.Ops, "no driver calls for invalid pins")
	assert.False(t, r.m.IsConfigured("relay"))
	assert.False(t, r.m.InputState("btn"))
	assert.False(t, r.m.IsConfigured("btn"))
	assert.True(t, math.IsNaN(r.m.AnalogValue("tank")))
	assert.False(t, r.m.IsConfigured("tank"))
}

func TestDuplicateIDsRejected(t *testing.T) {
	r := newRig(t, ms(1))
	assert.True(t, r.m.AddDigitalOutput(OutputBinding{ID: "a", Pin: 1}))
	assert.False(t, r.m.AddDigitalOutput(OutputBinding{ID: "a", Pin: 2}))
	assert.True(t, r.m.AddDigitalInput(InputBinding{ID: "a", Pin: 3}), "ids are unique per category")
	assert.False(t, r.m.AddDigitalInput(InputBinding{ID: "a", Pin: 4}))
	assert.True(t, r.m.AddAnalogInput(NewAnalogInput("a", "", 34)))
	assert.False(t, r.m.AddAnalogInput(NewAnalogInput("a", "", 35)))
}

func TestPullConflictUsesPullUp(t *testing.T) {
	r := newRig(t, ms(1))
	r.m.AddDigitalInput(InputBinding{ID: "btn", Pin: 4, PullUp: true, PullDown: true})
	r.m.Begin()

	require.Len(t, r.drv.Ops, 1)
	assert.Equal(t, gpio.Op{Kind: "input", Pin: 4, Pull: gpio.PullUp}, r.drv.Ops[0])
}

func TestInputPinChangeReleasesOldPin(t *testing.T) {
	r := newRig(t, ms(1))
	r.m.AddDigitalInput(InputBinding{ID: "btn", Pin: 4, RegisterSettings: true})
	var c counts
	r.m.ConfigureDigitalInputEvents("btn", c.callbacks(), InputEventOptions{Debounce: ms(20)})
	r.m.Begin()

	r.drv.SetLevel(6, true)
	require.NoError(t, r.reg.Apply("II00P", "6"))
	r.m.Update()

	assert.Equal(t, 1, r.drv.Count("release", 4))
	assert.Equal(t, 1, r.drv.Count("input", 6))
	r.runUntil(6, nil, 500)
	assert.Equal(t, 0, c.press, "level seen on the new pin is seeded, not reported")
}

func TestSettingsKeys(t *testing.T) {
	r := newRig(t, ms(1))
	r.m.AddDigitalOutput(OutputBinding{ID: "relay1", Pin: 2, RegisterSettings: true})
	r.m.AddDigitalOutput(OutputBinding{ID: "relay2", Pin: 3})
	r.m.AddDigitalOutput(OutputBinding{ID: "relay3", Pin: 5, RegisterSettings: true})
	r.m.AddDigitalInput(InputBinding{ID: "btn", Pin: 4, RegisterSettings: true})
	r.m.AddAnalogInput(AnalogInputBinding{ID: "tank", Pin: 34, RegisterSettings: true})

	want := []string{
		"IO00P", "IO00L",
		"IO02P", "IO02L",
		"II00P", "II00L", "II00U", "II00D",
		"AI00P", "AI00R", "AI00S", "AI00M", "AI00N", "AI00U", "AI00D", "AI00E",
	}
	assert.Equal(t, want, r.m.Keys(), "slots follow registration order, including bindings without settings")
	for _, k := range r.m.Keys() {
		assert.LessOrEqual(t, len(k), settings.MaxKeyLen)
	}
}

func TestThreeDigitSlotKeys(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := New(Config{
		Driver:   gpio.NewFakeDriver(),
		Settings: settings.NewRegistry(settings.NewMemoryStore(), zap.NewNop()),
		Logger:   zap.New(core),
	})
	for i := 0; i <= 100; i++ {
		m.AddDigitalOutput(OutputBinding{ID: fmt.Sprintf("relay%d", i), Pin: 2, RegisterSettings: true})
	}

	assert.Contains(t, m.Keys(), "IO99P")
	assert.Contains(t, m.Keys(), "IO100P", "three-digit slots still get their own key")
	warned := logs.FilterMessage("slot exceeds two digits, settings keys are no longer fixed width").All()
	require.Len(t, warned, 1)
	assert.Equal(t, int64(100), warned[0].ContextMap()["slot"])
}

func TestStoredSettingOverridesBindingDefault(t *testing.T) {
	r := newRig(t, ms(1))
	require.NoError(t, r.store.Save("IO00P", "21"))
	r.m.AddDigitalOutput(OutputBinding{ID: "relay", Pin: 2, RegisterSettings: true})
	r.m.Begin()

	assert.Equal(t, 1, r.drv.Count("output", 21))
	assert.Equal(t, 0, r.drv.Count("output", 2))
}

func analogRig(t *testing.T, b AnalogInputBinding, raw int) (*rig, *[]float64) {
	t.Helper()
	r := newRig(t, ms(1))
	r.drv.SetAnalog(b.Pin, raw)
	require.True(t, r.m.AddAnalogInput(b))
	var values []float64
	r.m.ConfigureAnalogInputEvents(b.ID, func(raw int, value float64) { values = append(values, value) })
	r.m.Begin()
	return r, &values
}

func TestAnalogDeadband(t *testing.T) {
	b := AnalogInputBinding{ID: "tank", Pin: 34, RawMin: 0, RawMax: 4095, OutMin: 0, OutMax: 100, Deadband: 1.0}
	r, values := analogRig(t, b, 2047)

	r.drv.SetAnalog(34, 2048)
	r.clk.now = r.clk.now.Add(time.Second)
	r.m.Update()
	assert.Empty(t, *values, "49.99 -> 50.01 is inside the deadband")
	assert.InDelta(t, 50.01, r.m.AnalogValue("tank"), 0.01, "current value still tracks the sample")

	r.drv.SetAnalog(34, 2090)
	r.clk.now = r.clk.now.Add(time.Second)
	r.m.Update()
	require.Len(t, *values, 1)
	assert.InDelta(t, 51.03, (*values)[0], 0.01)
	assert.Equal(t, 2090, r.m.AnalogRawValue("tank"))
	assert.Equal(t, 1, r.rec.Count(event.AnalogValue, "tank"))
}

func TestAnalogMinEventInterval(t *testing.T) {
	b := AnalogInputBinding{ID: "tank", Pin: 34, RawMax: 4095, OutMax: 100, Deadband: 5, MinEventInterval: 10 * time.Second}
	r, values := analogRig(t, b, 1000)

	r.clk.now = t0.Add(9 * time.Second)
	r.m.Update()
	assert.Empty(t, *values)

	r.clk.now = t0.Add(10 * time.Second)
	r.m.Update()
	assert.Len(t, *values, 1, "unchanged value is re-reported after the interval")
}

func TestAnalogZeroIntervalDisablesPeriodicEvents(t *testing.T) {
	b := AnalogInputBinding{ID: "tank", Pin: 34, RawMax: 4095, OutMax: 100, Deadband: 5}
	r, values := analogRig(t, b, 1000)

	r.clk.now = t0.Add(time.Hour)
	r.m.Update()
	assert.Empty(t, *values)
}

func TestAnalogValidityChangeIsEvent(t *testing.T) {
	b := AnalogInputBinding{ID: "tank", Pin: 34, RawMax: 4095, OutMax: 100, Deadband: 50, RegisterSettings: true}
	r, values := analogRig(t, b, 1000)

	require.NoError(t, r.reg.Apply("AI00P", "5"))
	r.m.Update()
	require.Len(t, *values, 1)
	assert.True(t, math.IsNaN((*values)[0]))

	require.NoError(t, r.reg.Apply("AI00P", "34"))
	r.m.Update()
	require.Len(t, *values, 2)
	assert.InDelta(t, 24.42, (*values)[1], 0.01)
}

func TestMapAnalog(t *testing.T) {
	tests := []struct {
		name string
		raw  int
		cfg  analogConfig
		want float64
	}{
		{"midscale", 2048, analogConfig{rawMax: 4096, outMax: 100}, 50},
		{"offset range", 600, analogConfig{rawMin: 400, rawMax: 2400, outMin: 4, outMax: 20}, 5.6},
		{"inverted output", 0, analogConfig{rawMax: 100, outMin: 10, outMax: -10}, 10},
		{"degenerate", 1234, analogConfig{rawMin: 7, rawMax: 7, outMin: 3, outMax: 9}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, mapAnalog(tt.raw, tt.cfg), 1e-9)
		})
	}
}

func TestRuntimeProviders(t *testing.T) {
	r := newRig(t, ms(1))
	r.m.AddDigitalOutput(OutputBinding{ID: "relay", Name: "Relay", Pin: 2})
	r.m.AddDigitalInput(InputBinding{ID: "btn", Pin: 4})
	r.m.AddAnalogInput(AnalogInputBinding{ID: "tank", Pin: 34, RawMax: 4095, OutMax: 100, Unit: "%", Deadband: 0.1})
	r.m.AddAnalogInput(AnalogInputBinding{ID: "dead", Pin: 5})
	r.drv.SetAnalog(34, 4095)
	r.m.Begin()
	r.m.SetState("relay", true)

	reg := status.NewRegistry(t0, r.clk.Now)
	r.m.RegisterRuntime(reg)
	reg.Refresh()
	snap := reg.Snapshot()

	assert.Equal(t, true, snap.Groups[GroupOutputs]["relay"])
	assert.Equal(t, false, snap.Groups[GroupInputs]["btn"])
	assert.Equal(t, 100.0, snap.Groups[GroupAnalog]["tank"])
	assert.Equal(t, 4095, snap.Groups[GroupAnalog]["tank_raw"])
	assert.Nil(t, snap.Groups[GroupAnalog]["dead"])

	fields := reg.Fields()
	require.Len(t, fields, 4)
	assert.Equal(t, "Relay", fields[0].Label)
	assert.Equal(t, "%", fields[2].Unit)
	assert.Equal(t, 1, fields[2].Precision)
}
