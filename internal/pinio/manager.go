// Package pinio is the I/O manager: a registry of named digital and analog
// pins, polled once per scheduler tick.
//
// Every tick the manager re-resolves each binding's live configuration,
// moves outputs safely when their pin changes, classifies debounced input
// gestures and gates analog samples through a deadband.
package pinio

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/event"
	"github.com/sweeney/devicecore/internal/gpio"
	"github.com/sweeney/devicecore/internal/logic"
	"github.com/sweeney/devicecore/internal/settings"
)

// DefaultStartupWindow is how long after Begin a long press counts as a
// startup gesture.
const DefaultStartupWindow = 10 * time.Second

// maxStableSlot is the highest slot that still yields a two-digit key.
const maxStableSlot = 99

// Config wires a Manager to its collaborators. Driver is required.
type Config struct {
	Driver gpio.Driver
	// Analog samples analog inputs; nil makes every analog input read NaN.
	Analog gpio.AnalogReader
	// AnalogOut drives analog outputs; nil disables them.
	AnalogOut gpio.AnalogWriter
	// Settings receives live settings for bindings that ask for them.
	Settings *settings.Registry
	Sink     event.Sink
	Logger   *zap.Logger
	Now      func() time.Time
	// StartupWindow defaults to DefaultStartupWindow.
	StartupWindow time.Duration
}

type output struct {
	binding   OutputBinding
	slot      int
	pin       settings.Setting[int]
	activeLow settings.Setting[bool]

	applied outputConfig
	seen    bool // applied has been resolved at least once
	claimed bool // applied.pin is configured on the driver
	desired bool
	written bool
	level   bool // last physical level written
}

func (o *output) resolve() outputConfig {
	return outputConfig{
		pin:       live(o.pin, o.binding.Pin),
		activeLow: live(o.activeLow, o.binding.ActiveLow),
	}
}

type input struct {
	binding   InputBinding
	slot      int
	pin       settings.Setting[int]
	activeLow settings.Setting[bool]
	pullUp    settings.Setting[bool]
	pullDown  settings.Setting[bool]

	applied    inputConfig
	seen       bool
	claimed    bool
	classifier *logic.Classifier
	callbacks  InputCallbacks
}

func (in *input) resolve() (inputConfig, bool) {
	up := live(in.pullUp, in.binding.PullUp)
	down := live(in.pullDown, in.binding.PullDown)
	cfg := inputConfig{
		pin:       live(in.pin, in.binding.Pin),
		activeLow: live(in.activeLow, in.binding.ActiveLow),
	}
	switch {
	case up:
		cfg.pull = gpio.PullUp
	case down:
		cfg.pull = gpio.PullDown
	}
	return cfg, up && down
}

type analogInput struct {
	binding  AnalogInputBinding
	slot     int
	pin      settings.Setting[int]
	rawMin   settings.Setting[int]
	rawMax   settings.Setting[int]
	outMin   settings.Setting[float64]
	outMax   settings.Setting[float64]
	deadband settings.Setting[float64]
	minEvent settings.Setting[int]
	unit     settings.Setting[string]

	applied analogConfig
	seen    bool

	raw           int
	value         float64
	acceptedRaw   int
	acceptedValue float64
	lastEvent     time.Time
	callback      func(raw int, value float64)
}

func (a *analogInput) resolve() analogConfig {
	b := a.binding
	return analogConfig{
		pin:      live(a.pin, b.Pin),
		rawMin:   live(a.rawMin, b.RawMin),
		rawMax:   live(a.rawMax, b.RawMax),
		outMin:   live(a.outMin, b.OutMin),
		outMax:   live(a.outMax, b.OutMax),
		deadband: live(a.deadband, b.Deadband),
		minEvent: time.Duration(live(a.minEvent, int(b.MinEventInterval/time.Millisecond))) * time.Millisecond,
	}
}

func (a *analogInput) unitName() string {
	return live(a.unit, a.binding.Unit)
}

// Manager owns the binding registry.
type Manager struct {
	driver        gpio.Driver
	analog        gpio.AnalogReader
	analogOut     gpio.AnalogWriter
	settings      *settings.Registry
	sink          event.Sink
	logger        *zap.Logger
	now           func() time.Time
	startupWindow time.Duration

	outputs    []*output
	inputs     []*input
	analogs    []*analogInput
	analogOuts []*analogOutput
	keys       []string

	begun        bool
	startupUntil time.Time
}

// New creates a Manager.
func New(cfg Config) *Manager {
	m := &Manager{
		driver:        cfg.Driver,
		analog:        cfg.Analog,
		analogOut:     cfg.AnalogOut,
		settings:      cfg.Settings,
		sink:          cfg.Sink,
		logger:        cfg.Logger,
		now:           cfg.Now,
		startupWindow: cfg.StartupWindow,
	}
	if m.sink == nil {
		m.sink = event.Discard
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("io")
	if m.now == nil {
		m.now = time.Now
	}
	if m.startupWindow <= 0 {
		m.startupWindow = DefaultStartupWindow
	}
	return m
}

func live[T any](s settings.Setting[T], def T) T {
	if s == nil {
		return def
	}
	return s.Get()
}

func bindSetting[T any](m *Manager, register func(key, label string, def T) (settings.Setting[T], error), key, label string, def T) settings.Setting[T] {
	s, err := register(key, label, def)
	if err != nil {
		m.logger.Warn("setting unavailable, using binding default", zap.String("key", key), zap.Error(err))
		return nil
	}
	m.keys = append(m.keys, key)
	return s
}

func (m *Manager) wantsSettings(register bool, id string, slot int) bool {
	if !register {
		return false
	}
	if m.settings == nil {
		m.logger.Warn("binding asks for settings but no registry is configured", zap.String("id", id))
		return false
	}
	if slot > maxStableSlot {
		m.logger.Warn("slot exceeds two digits, settings keys are no longer fixed width", zap.String("id", id), zap.Int("slot", slot))
	}
	return true
}

func label(name, id, field string) string {
	if name == "" {
		name = id
	}
	return name + " " + field
}

// AddDigitalOutput registers an output. Duplicate ids are logged and ignored.
func (m *Manager) AddDigitalOutput(b OutputBinding) bool {
	if m.findOutput(b.ID) != nil {
		m.logger.Warn("duplicate output id ignored", zap.String("id", b.ID))
		return false
	}
	o := &output{binding: b, slot: len(m.outputs)}
	if m.wantsSettings(b.RegisterSettings, b.ID, o.slot) {
		o.pin = bindSetting(m, m.settings.Int, settings.SlotKey("IO", o.slot, 'P'), label(b.Name, b.ID, "pin"), b.Pin)
		o.activeLow = bindSetting(m, m.settings.Bool, settings.SlotKey("IO", o.slot, 'L'), label(b.Name, b.ID, "active low"), b.ActiveLow)
	}
	m.outputs = append(m.outputs, o)
	if m.begun {
		m.beginOutput(o)
	}
	return true
}

// AddDigitalInput registers an input. Duplicate ids are logged and ignored.
func (m *Manager) AddDigitalInput(b InputBinding) bool {
	if m.findInput(b.ID) != nil {
		m.logger.Warn("duplicate input id ignored", zap.String("id", b.ID))
		return false
	}
	in := &input{binding: b, slot: len(m.inputs), classifier: logic.NewClassifier(logic.Timing{})}
	if m.wantsSettings(b.RegisterSettings, b.ID, in.slot) {
		in.pin = bindSetting(m, m.settings.Int, settings.SlotKey("II", in.slot, 'P'), label(b.Name, b.ID, "pin"), b.Pin)
		in.activeLow = bindSetting(m, m.settings.Bool, settings.SlotKey("II", in.slot, 'L'), label(b.Name, b.ID, "active low"), b.ActiveLow)
		in.pullUp = bindSetting(m, m.settings.Bool, settings.SlotKey("II", in.slot, 'U'), label(b.Name, b.ID, "pull-up"), b.PullUp)
		in.pullDown = bindSetting(m, m.settings.Bool, settings.SlotKey("II", in.slot, 'D'), label(b.Name, b.ID, "pull-down"), b.PullDown)
	}
	m.inputs = append(m.inputs, in)
	if m.begun {
		m.beginInput(in, m.now())
	}
	return true
}

// AddAnalogInput registers an analog input. Duplicate ids are logged and ignored.
func (m *Manager) AddAnalogInput(b AnalogInputBinding) bool {
	if m.findAnalog(b.ID) != nil {
		m.logger.Warn("duplicate analog input id ignored", zap.String("id", b.ID))
		return false
	}
	a := &analogInput{binding: b, slot: len(m.analogs), value: math.NaN(), acceptedValue: math.NaN()}
	if m.wantsSettings(b.RegisterSettings, b.ID, a.slot) {
		key := func(c byte) string { return settings.SlotKey("AI", a.slot, c) }
		a.pin = bindSetting(m, m.settings.Int, key('P'), label(b.Name, b.ID, "pin"), b.Pin)
		a.rawMin = bindSetting(m, m.settings.Int, key('R'), label(b.Name, b.ID, "raw min"), b.RawMin)
		a.rawMax = bindSetting(m, m.settings.Int, key('S'), label(b.Name, b.ID, "raw max"), b.RawMax)
		a.outMin = bindSetting(m, m.settings.Float, key('M'), label(b.Name, b.ID, "out min"), b.OutMin)
		a.outMax = bindSetting(m, m.settings.Float, key('N'), label(b.Name, b.ID, "out max"), b.OutMax)
		a.unit = bindSetting(m, m.settings.String, key('U'), label(b.Name, b.ID, "unit"), b.Unit)
		a.deadband = bindSetting(m, m.settings.Float, key('D'), label(b.Name, b.ID, "deadband"), b.Deadband)
		a.minEvent = bindSetting(m, m.settings.Int, key('E'), label(b.Name, b.ID, "min event ms"), int(b.MinEventInterval/time.Millisecond))
	}
	m.analogs = append(m.analogs, a)
	if m.begun {
		m.sampleAnalog(a, m.now(), true)
	}
	return true
}

// ConfigureDigitalInputEvents attaches callbacks and timing to an input and
// resets its gesture tracking.
func (m *Manager) ConfigureDigitalInputEvents(id string, cb InputCallbacks, opts InputEventOptions) bool {
	in := m.findInput(id)
	if in == nil {
		m.logger.Warn("configure events for unknown input", zap.String("id", id))
		return false
	}
	in.callbacks = cb
	in.classifier = logic.NewClassifier(logic.Timing{
		Debounce:    opts.Debounce,
		DoubleClick: opts.DoubleClick,
		LongClick:   opts.LongClick,
	})
	if m.begun {
		in.classifier.Seed(m.readInput(in), m.now())
	}
	return true
}

// ConfigureAnalogInputEvents sets the callback fired for each accepted value.
func (m *Manager) ConfigureAnalogInputEvents(id string, fn func(raw int, value float64)) bool {
	a := m.findAnalog(id)
	if a == nil {
		m.logger.Warn("configure events for unknown analog input", zap.String("id", id))
		return false
	}
	a.callback = fn
	return true
}

// Begin applies every binding, drives outputs inactive, seeds inputs from
// their current level and opens the startup long-press window.
func (m *Manager) Begin() {
	now := m.now()
	for _, o := range m.outputs {
		m.beginOutput(o)
	}
	for _, in := range m.inputs {
		m.beginInput(in, now)
	}
	for _, a := range m.analogs {
		m.sampleAnalog(a, now, true)
	}
	for _, o := range m.analogOuts {
		o.seen = false
		m.applyAnalogOutput(o)
	}
	m.startupUntil = now.Add(m.startupWindow)
	m.begun = true
	m.logger.Info("io started",
		zap.Int("outputs", len(m.outputs)),
		zap.Int("inputs", len(m.inputs)),
		zap.Int("analog", len(m.analogs)),
		zap.Int("analog_outputs", len(m.analogOuts)),
		zap.Duration("startup_window", m.startupWindow))
}

// Update runs one tick: reconfigure, drive outputs, classify inputs, sample
// analog inputs, then drive analog outputs.
func (m *Manager) Update() {
	if !m.begun {
		return
	}
	now := m.now()
	startup := !now.After(m.startupUntil)

	for _, o := range m.outputs {
		m.applyOutput(o)
		m.writeOutput(o)
	}
	for _, in := range m.inputs {
		if m.applyInput(in) {
			in.classifier.Seed(m.readInput(in), now)
			continue
		}
		level := m.readInput(in)
		hook := startup && in.callbacks.OnLongPressOnStartup != nil
		for _, g := range in.classifier.Process(level, now, hook) {
			m.dispatch(in, g, now)
		}
	}
	for _, a := range m.analogs {
		m.sampleAnalog(a, now, false)
	}
	for _, o := range m.analogOuts {
		m.applyAnalogOutput(o)
	}
}

func (m *Manager) beginOutput(o *output) {
	o.desired = false
	m.applyOutput(o)
	m.writeOutput(o)
}

func (m *Manager) beginInput(in *input, now time.Time) {
	m.applyInput(in)
	in.classifier.Seed(m.readInput(in), now)
}

// applyOutput moves o to its live configuration if it changed. The old pin
// is driven inactive and released first.
func (m *Manager) applyOutput(o *output) {
	cfg := o.resolve()
	if o.seen && cfg == o.applied {
		return
	}
	if o.claimed {
		old := o.applied
		if err := m.driver.Write(old.pin, old.activeLow); err != nil {
			m.logger.Warn("drive old output pin inactive", zap.String("id", o.binding.ID), zap.Int("pin", old.pin), zap.Error(err))
		}
		if err := m.driver.Release(old.pin); err != nil {
			m.logger.Warn("release old output pin", zap.String("id", o.binding.ID), zap.Int("pin", old.pin), zap.Error(err))
		}
		m.logger.Info("output reconfigured", zap.String("id", o.binding.ID), zap.Int("old_pin", old.pin), zap.Int("pin", cfg.pin))
	}

	o.applied = cfg
	o.seen = true
	o.claimed = false
	o.written = false

	if !m.driver.ValidPin(cfg.pin) {
		m.logger.Warn("invalid output pin, output disabled", zap.String("id", o.binding.ID), zap.Int("pin", cfg.pin))
		return
	}
	// Claim at the inactive level; writeOutput then applies the desired state.
	if err := m.driver.ConfigureOutput(cfg.pin, cfg.activeLow); err != nil {
		m.logger.Warn("configure output", zap.String("id", o.binding.ID), zap.Int("pin", cfg.pin), zap.Error(err))
		return
	}
	o.claimed = true
	o.written = true
	o.level = cfg.activeLow
}

func (m *Manager) writeOutput(o *output) {
	if !o.claimed {
		return
	}
	level := o.desired != o.applied.activeLow
	if o.written && level == o.level {
		return
	}
	if err := m.driver.Write(o.applied.pin, level); err != nil {
		m.logger.Warn("write output", zap.String("id", o.binding.ID), zap.Int("pin", o.applied.pin), zap.Error(err))
		return
	}
	o.written = true
	o.level = level
}

// applyInput moves in to its live configuration and reports whether it
// changed after the first application.
func (m *Manager) applyInput(in *input) bool {
	cfg, conflict := in.resolve()
	if in.seen && cfg == in.applied {
		return false
	}
	changed := in.seen
	if in.claimed {
		if err := m.driver.Release(in.applied.pin); err != nil {
			m.logger.Warn("release old input pin", zap.String("id", in.binding.ID), zap.Int("pin", in.applied.pin), zap.Error(err))
		}
	}
	if conflict {
		m.logger.Warn("pull-up and pull-down both set, using pull-up", zap.String("id", in.binding.ID))
	}

	in.applied = cfg
	in.seen = true
	in.claimed = false

	if !m.driver.ValidPin(cfg.pin) {
		m.logger.Warn("invalid input pin, input reads false", zap.String("id", in.binding.ID), zap.Int("pin", cfg.pin))
		return changed
	}
	if err := m.driver.ConfigureInput(cfg.pin, cfg.pull); err != nil {
		m.logger.Warn("configure input", zap.String("id", in.binding.ID), zap.Int("pin", cfg.pin), zap.Error(err))
		return changed
	}
	in.claimed = true
	return changed
}

// readInput returns the logical level; unusable inputs read false.
func (m *Manager) readInput(in *input) bool {
	if !in.claimed {
		return false
	}
	high, err := m.driver.Read(in.applied.pin)
	if err != nil {
		m.logger.Debug("read input", zap.String("id", in.binding.ID), zap.Error(err))
		return false
	}
	return high != in.applied.activeLow
}

var gestureKinds = map[logic.Gesture]event.Kind{
	logic.GesturePress:            event.InputPress,
	logic.GestureRelease:          event.InputRelease,
	logic.GestureClick:            event.InputClick,
	logic.GestureDoubleClick:      event.InputDoubleClick,
	logic.GestureLongClick:        event.InputLongClick,
	logic.GestureLongPressStartup: event.InputLongPressStartup,
}

func (m *Manager) dispatch(in *input, g logic.Gesture, now time.Time) {
	var hook func()
	switch g {
	case logic.GesturePress:
		hook = in.callbacks.OnPress
	case logic.GestureRelease:
		hook = in.callbacks.OnRelease
	case logic.GestureClick:
		hook = in.callbacks.OnClick
	case logic.GestureDoubleClick:
		hook = in.callbacks.OnDoubleClick
	case logic.GestureLongClick:
		hook = in.callbacks.OnLongClick
	case logic.GestureLongPressStartup:
		hook = in.callbacks.OnLongPressOnStartup
	}
	if hook != nil {
		hook()
	}
	m.sink.Emit(event.Event{Kind: gestureKinds[g], Source: in.binding.ID, Time: now})
}

// sampleAnalog reads a and gates the value. seed accepts the sample
// silently.
func (m *Manager) sampleAnalog(a *analogInput, now time.Time, seed bool) {
	cfg := a.resolve()
	if !a.seen || cfg.pin != a.applied.pin {
		if !m.validAnalog(cfg.pin) {
			m.logger.Warn("invalid analog pin, input reads NaN", zap.String("id", a.binding.ID), zap.Int("pin", cfg.pin))
		}
	}
	a.applied = cfg
	a.seen = true

	a.raw, a.value = m.readAnalog(a, cfg)
	if seed {
		a.acceptedRaw, a.acceptedValue = a.raw, a.value
		a.lastEvent = now
		return
	}
	if !acceptAnalog(a.value, a.acceptedValue, now.Sub(a.lastEvent), cfg) {
		return
	}
	a.acceptedRaw, a.acceptedValue = a.raw, a.value
	a.lastEvent = now

	if a.callback != nil {
		a.callback(a.raw, a.value)
	}
	m.sink.Emit(event.Event{Kind: event.AnalogValue, Source: a.binding.ID, Time: now, Raw: a.raw, Value: a.value})
}

func (m *Manager) validAnalog(pin int) bool {
	return m.analog != nil && m.analog.ValidAnalogPin(pin)
}

func (m *Manager) readAnalog(a *analogInput, cfg analogConfig) (int, float64) {
	if !m.validAnalog(cfg.pin) {
		return 0, math.NaN()
	}
	raw, err := m.analog.ReadAnalog(cfg.pin)
	if err != nil {
		m.logger.Debug("read analog", zap.String("id", a.binding.ID), zap.Error(err))
		return 0, math.NaN()
	}
	return raw, mapAnalog(raw, cfg)
}

// SetState sets an output's logical state and drives it immediately.
func (m *Manager) SetState(id string, on bool) bool {
	o := m.findOutput(id)
	if o == nil {
		m.logger.Warn("set state of unknown output", zap.String("id", id))
		return false
	}
	o.desired = on
	if m.begun {
		m.writeOutput(o)
	}
	return true
}

// State returns an output's logical state.
func (m *Manager) State(id string) bool {
	if o := m.findOutput(id); o != nil {
		return o.desired
	}
	return false
}

// InputState returns an input's debounced logical state.
func (m *Manager) InputState(id string) bool {
	if in := m.findInput(id); in != nil {
		return in.classifier.Pressed()
	}
	return false
}

// AnalogRawValue returns the latest raw sample, or 0 if unknown.
func (m *Manager) AnalogRawValue(id string) int {
	if a := m.findAnalog(id); a != nil {
		return a.raw
	}
	return 0
}

// AnalogValue returns the latest scaled sample, NaN if unknown or invalid.
func (m *Manager) AnalogValue(id string) float64 {
	if a := m.findAnalog(id); a != nil {
		return a.value
	}
	return math.NaN()
}

// IsConfigured reports whether id exists and currently holds a usable pin.
func (m *Manager) IsConfigured(id string) bool {
	if o := m.findOutput(id); o != nil {
		return o.claimed
	}
	if in := m.findInput(id); in != nil {
		return in.claimed
	}
	if a := m.findAnalog(id); a != nil {
		return m.validAnalog(a.resolve().pin)
	}
	if o := m.findAnalogOutput(id); o != nil {
		return m.validAnalogOut(live(o.pin, o.binding.Pin))
	}
	return false
}

// Keys returns every settings key registered by this manager.
func (m *Manager) Keys() []string {
	return append([]string(nil), m.keys...)
}

func (m *Manager) findOutput(id string) *output {
	for _, o := range m.outputs {
		if o.binding.ID == id {
			return o
		}
	}
	return nil
}

func (m *Manager) findInput(id string) *input {
	for _, in := range m.inputs {
		if in.binding.ID == id {
			return in
		}
	}
	return nil
}

func (m *Manager) findAnalog(id string) *analogInput {
	for _, a := range m.analogs {
		if a.binding.ID == id {
			return a
		}
	}
	return nil
}
