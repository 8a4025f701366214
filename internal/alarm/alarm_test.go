package alarm

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/event"
	"github.com/sweeney/devicecore/internal/settings"
	"github.com/sweeney/devicecore/internal/status"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newEngine(t *testing.T) (*Engine, *clock, *event.Recorder, *settings.Registry) {
	t.Helper()
	clk := &clock{now: t0}
	rec := &event.Recorder{}
	reg := settings.NewRegistry(settings.NewMemoryStore(), zap.NewNop())
	g := New(Config{Settings: reg, Sink: rec, Logger: zap.NewNop(), Now: clk.Now})
	return g, clk, rec, reg
}

// step advances past the rate limit and updates.
func step(g *Engine, clk *clock) {
	clk.Advance(DefaultUpdateInterval)
	g.Update()
}

func TestOutsideWindowSequence(t *testing.T) {
	g, clk, rec, _ := newEngine(t)
	level := 5.0
	var come, gone int
	var codes []State

	h := g.AddAnalogAlarm(AnalogConfig{
		ID: "tank", Kind: AnalogOutsideWindow, Enabled: true,
		Min: 10, Max: 90, MinActive: true, MaxActive: true,
		Source: &level,
	})
	require.NotNil(t, h)
	h.OnAlarmCome(func() { come++ }).
		OnAlarmGone(func() { gone++ }).
		OnStateCodeChanged(func(s State) { codes = append(codes, s) })

	g.Update()
	assert.Equal(t, StateBelow, g.StateOf("tank"))

	level = 50
	step(g, clk)
	assert.Equal(t, StateOk, g.StateOf("tank"))
	assert.False(t, g.IsActive("tank"))

	level = 95
	step(g, clk)
	assert.Equal(t, StateAbove, g.StateOf("tank"))

	assert.Equal(t, 2, come)
	assert.Equal(t, 1, gone)
	assert.Equal(t, []State{StateBelow, StateOk, StateAbove}, codes)
	assert.Equal(t, 2, rec.Count(event.AlarmEnter, "tank"))
	assert.Equal(t, 1, rec.Count(event.AlarmExit, "tank"))
	assert.Equal(t, 3, rec.Count(event.AlarmState, "tank"))
}

func TestOutsideWindowJumpKeepsActive(t *testing.T) {
	g, clk, _, _ := newEngine(t)
	level := 5.0
	var changes []bool
	g.AddAnalogAlarm(AnalogConfig{
		ID: "w", Kind: AnalogOutsideWindow, Enabled: true,
		Min: 10, Max: 90, MinActive: true, MaxActive: true,
		Getter: func() float64 { return level },
	}).OnStateChanged(func(a bool) { changes = append(changes, a) })

	g.Update()
	level = 95
	step(g, clk)

	// Below -> Above without passing Ok is a state change, not an exit.
	assert.Equal(t, []bool{true}, changes)
	assert.Equal(t, StateAbove, g.StateOf("w"))
}

func TestBelowAndAbove(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		value float64
		want  State
	}{
		{"below fires", AnalogBelow, 5, StateBelow},
		{"below at limit ok", AnalogBelow, 10, StateOk},
		{"below ignores high", AnalogBelow, 95, StateOk},
		{"above fires", AnalogAbove, 95, StateAbove},
		{"above at limit ok", AnalogAbove, 90, StateOk},
		{"above ignores low", AnalogAbove, 5, StateOk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _, _, _ := newEngine(t)
			v := tt.value
			g.AddAnalogAlarm(AnalogConfig{
				ID: "a", Kind: tt.kind, Enabled: true,
				Min: 10, Max: 90, MinActive: true, MaxActive: true,
				Source: &v,
			})
			g.Update()
			assert.Equal(t, tt.want, g.StateOf("a"))
		})
	}
}

func TestThresholdFlagsAndNonFinite(t *testing.T) {
	g, _, _, _ := newEngine(t)
	v := 5.0
	g.AddAnalogAlarm(AnalogConfig{ID: "off", Kind: AnalogBelow, Enabled: true, Min: 10, MinActive: false, Source: &v})
	g.AddAnalogAlarm(AnalogConfig{ID: "nan", Kind: AnalogBelow, Enabled: true, Min: math.NaN(), MinActive: true, Source: &v})
	g.AddAnalogAlarm(AnalogConfig{ID: "inf", Kind: AnalogAbove, Enabled: true, Max: math.Inf(-1), MaxActive: true, Source: &v})

	g.Update()
	assert.False(t, g.HasActiveAlarms())
}

func TestDigitalKinds(t *testing.T) {
	g, clk, _, _ := newEngine(t)
	door := false
	g.AddDigitalAlarm(DigitalConfig{ID: "open", Kind: DigitalActive, Enabled: true, Source: &door})
	g.AddDigitalWarning(DigitalConfig{ID: "closed", Kind: DigitalInactive, Enabled: true, Getter: func() bool { return door }})

	g.Update()
	assert.False(t, g.IsActive("open"))
	assert.True(t, g.IsActive("closed"))
	assert.Equal(t, []string{"closed"}, g.ActiveAlarms())

	door = true
	step(g, clk)
	assert.Equal(t, StateActive, g.StateOf("open"))
	assert.Equal(t, []string{"open"}, g.ActiveAlarms())
}

func TestDisableForcesOkAndFiresExit(t *testing.T) {
	g, clk, rec, reg := newEngine(t)
	v := 95.0
	var gone int
	g.AddAnalogAlarm(AnalogConfig{ID: "hot", Kind: AnalogAbove, Enabled: true, Max: 90, MaxActive: true, Source: &v}).
		OnAlarmGone(func() { gone++ })
	require.True(t, g.BindSettings("hot"))

	g.Update()
	require.True(t, g.IsActive("hot"))

	require.NoError(t, reg.Apply("AL00E", "false"))
	step(g, clk)
	assert.False(t, g.IsActive("hot"))
	assert.Equal(t, StateOk, g.StateOf("hot"))
	assert.Equal(t, 1, gone)
	assert.Equal(t, 1, rec.Count(event.AlarmExit, "hot"))
}

func TestSettingsChangeThreshold(t *testing.T) {
	g, clk, _, reg := newEngine(t)
	v := 50.0
	g.AddAnalogAlarm(AnalogConfig{ID: "x", Kind: AnalogAbove, Enabled: true, Max: 90, MaxActive: true, Source: &v})
	require.True(t, g.BindSettings("x"))
	assert.Equal(t, []string{"AL00E", "AL00L", "AL00H", "AL00m", "AL00M"}, g.Keys())

	g.Update()
	assert.False(t, g.IsActive("x"))

	require.NoError(t, reg.Apply("AL00H", "40"))
	step(g, clk)
	assert.True(t, g.IsActive("x"))

	require.NoError(t, reg.Apply("AL00M", "false"))
	step(g, clk)
	assert.False(t, g.IsActive("x"))
}

func TestDigitalSettingsOnlyEnabled(t *testing.T) {
	g, _, _, _ := newEngine(t)
	b := true
	g.AddDigitalAlarm(DigitalConfig{ID: "d", Kind: DigitalActive, Enabled: true, Source: &b})
	require.True(t, g.BindSettings("d"))
	assert.Equal(t, []string{"AL00E"}, g.Keys())
	assert.False(t, g.BindSettings("missing"))
}

func TestStayRearms(t *testing.T) {
	g, clk, rec, _ := newEngine(t)
	on := true
	var stays int
	g.AddDigitalAlarm(DigitalConfig{ID: "s", Kind: DigitalActive, Enabled: true, Source: &on}).
		OnAlarmStay(func() { stays++ }, 3*time.Second)

	g.Update()
	assert.Equal(t, 0, stays)

	step(g, clk) // +1.5s
	assert.Equal(t, 0, stays)
	step(g, clk) // +3.0s
	assert.Equal(t, 1, stays)
	step(g, clk) // +4.5s
	assert.Equal(t, 1, stays)
	step(g, clk) // +6.0s
	assert.Equal(t, 2, stays)
	assert.Equal(t, 2, rec.Count(event.AlarmStay, "s"))

	on = false
	step(g, clk)
	step(g, clk)
	step(g, clk)
	assert.Equal(t, 2, stays)
}

func TestStayZeroIntervalDisabled(t *testing.T) {
	g, clk, rec, _ := newEngine(t)
	on := true
	var stays int
	g.AddDigitalAlarm(DigitalConfig{ID: "s", Kind: DigitalActive, Enabled: true, Source: &on}).
		OnAlarmStay(func() { stays++ }, 0)

	g.Update()
	for i := 0; i < 20; i++ {
		step(g, clk)
	}
	assert.Zero(t, stays)
	assert.Zero(t, rec.Count(event.AlarmStay, "s"))
}

func TestStayDefaultInterval(t *testing.T) {
	g, clk, _, _ := newEngine(t)
	on := true
	var stays int
	g.AddDigitalAlarm(DigitalConfig{ID: "s", Kind: DigitalActive, Enabled: true, Source: &on}).
		OnAlarmStay(func() { stays++ }, DefaultStayInterval)

	g.Update()
	for i := 0; i < 6; i++ {
		step(g, clk) // 9s
	}
	assert.Zero(t, stays)
	step(g, clk) // 10.5s
	assert.Equal(t, 1, stays)
}

func TestRateLimit(t *testing.T) {
	g, clk, _, _ := newEngine(t)
	b := false
	g.AddDigitalAlarm(DigitalConfig{ID: "r", Kind: DigitalActive, Enabled: true, Source: &b})

	g.Update()
	b = true
	clk.Advance(time.Second)
	g.Update()
	assert.False(t, g.IsActive("r"), "update inside interval must be skipped")

	clk.Advance(500 * time.Millisecond)
	g.Update()
	assert.True(t, g.IsActive("r"))

	b = false
	g.SetUpdateInterval(10 * time.Second)
	g.Update()
	assert.False(t, g.IsActive("r"), "interval change forces next update")

	g.SetUpdateInterval(0)
	b = true
	g.Update()
	assert.True(t, g.IsActive("r"))
}

func TestMissingSourceSkipsEntry(t *testing.T) {
	g, _, _, _ := newEngine(t)
	bound := true
	g.AddDigitalAlarm(DigitalConfig{ID: "none", Kind: DigitalActive, Enabled: true}).BindActive(&bound)
	g.Update()
	assert.False(t, g.IsActive("none"))
	assert.True(t, bound, "skipped entry leaves bound pointer alone")
}

func TestBoundPointers(t *testing.T) {
	g, clk, _, _ := newEngine(t)
	v := 5.0
	var active bool
	var state State
	g.AddAnalogAlarm(AnalogConfig{ID: "b", Kind: AnalogOutsideWindow, Enabled: true, Min: 10, Max: 90, MinActive: true, MaxActive: true, Source: &v}).
		BindActive(&active).
		BindState(&state)

	g.Update()
	assert.True(t, active)
	assert.Equal(t, StateBelow, state)

	active = false
	step(g, clk)
	assert.True(t, active, "bound flag rewritten each update")

	v = 50
	step(g, clk)
	assert.False(t, active)
	assert.Equal(t, StateOk, state)
}

func TestDuplicateIDReturnsNilHandle(t *testing.T) {
	g, _, _, _ := newEngine(t)
	b := true
	require.NotNil(t, g.AddDigitalAlarm(DigitalConfig{ID: "dup", Kind: DigitalActive, Source: &b}))
	h := g.AddDigitalAlarm(DigitalConfig{ID: "dup", Kind: DigitalActive, Source: &b})
	assert.Nil(t, h)

	// Chained calls on a nil handle are no-ops.
	assert.NotPanics(t, func() {
		h.OnAlarmCome(func() {}).OnAlarmGone(func() {}).OnAlarmStay(func() {}, time.Second).BindActive(&b)
	})
	assert.Equal(t, "", h.ID())
}

func TestRuntimeAlarm(t *testing.T) {
	g, clk, rec, _ := newEngine(t)
	var triggered, cleared int
	require.NotNil(t, g.RegisterRuntimeAlarm("sensor_fault", "Sensor fault", func() { triggered++ }, func() { cleared++ }))

	g.Update()
	assert.False(t, g.IsActive("sensor_fault"))

	assert.True(t, g.SetRuntimeAlarmActive("sensor_fault", true, true))
	assert.True(t, g.IsActive("sensor_fault"))
	assert.Equal(t, StateActive, g.StateOf("sensor_fault"))
	assert.Equal(t, 1, triggered)

	// Update never re-evaluates manual entries.
	step(g, clk)
	assert.True(t, g.IsActive("sensor_fault"))

	assert.True(t, g.SetRuntimeAlarmActive("sensor_fault", false, true))
	assert.Equal(t, 1, cleared)
	assert.Equal(t, 1, rec.Count(event.AlarmEnter, "sensor_fault"))
	assert.Equal(t, 1, rec.Count(event.AlarmExit, "sensor_fault"))
}

func TestRuntimeAlarmSilent(t *testing.T) {
	g, _, rec, _ := newEngine(t)
	var triggered int
	g.RegisterRuntimeAlarm("quiet", "", func() { triggered++ }, nil)

	assert.True(t, g.SetRuntimeAlarmActive("quiet", true, false))
	assert.True(t, g.IsActive("quiet"))
	assert.Equal(t, 0, triggered)
	assert.Empty(t, rec.Events())

	assert.False(t, g.SetRuntimeAlarmActive("missing", true, true))
	b := true
	g.AddDigitalAlarm(DigitalConfig{ID: "auto", Kind: DigitalActive, Source: &b})
	assert.False(t, g.SetRuntimeAlarmActive("auto", true, true), "automatic entries cannot be forced")
}

func TestRegisterRuntime(t *testing.T) {
	g, clk, _, _ := newEngine(t)
	v := 95.0
	g.AddAnalogWarning(AnalogConfig{ID: "hot", Name: "Hot", Kind: AnalogAbove, Enabled: true, Max: 90, MaxActive: true, Source: &v})
	reg := status.NewRegistry(t0, clk.Now)
	g.RegisterRuntime(reg)

	g.Update()
	reg.Refresh()
	snap := reg.Snapshot()
	assert.Equal(t, int(StateAbove), snap.Groups[Group]["hot"])
	assert.Equal(t, true, snap.Groups[Group]["any_active"])

	fields := reg.Fields()
	require.Len(t, fields, 1)
	assert.Equal(t, "Hot", fields[0].Label)
	assert.Equal(t, "warning", fields[0].Unit)
	assert.True(t, fields[0].HasAlarm)
}

func TestParseKind(t *testing.T) {
	for k := DigitalActive; k <= Manual; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("sideways")
	assert.Error(t, err)
}
