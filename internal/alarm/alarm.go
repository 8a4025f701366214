// Package alarm evaluates threshold alarms over digital and analog values.
//
// Each automatic entry reads its source through a getter or a bound pointer
// on every rate-limited Update and is classified Ok, Active, Below or Above.
// Transitions fire hooks synchronously and are mirrored to the event sink.
// Manual (runtime) entries are never evaluated; the application sets them.
package alarm

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/event"
	"github.com/sweeney/devicecore/internal/settings"
)

// DefaultUpdateInterval rate-limits Update.
const DefaultUpdateInterval = 1500 * time.Millisecond

// DefaultStayInterval is the usual OnAlarmStay interval.
const DefaultStayInterval = 10 * time.Second

// Kind selects how a value is classified.
type Kind int

const (
	DigitalActive Kind = iota
	DigitalInactive
	AnalogBelow
	AnalogAbove
	AnalogOutsideWindow
	// Manual entries are set by the application only.
	Manual
)

func (k Kind) String() string {
	switch k {
	case DigitalActive:
		return "digital_active"
	case DigitalInactive:
		return "digital_inactive"
	case AnalogBelow:
		return "analog_below"
	case AnalogAbove:
		return "analog_above"
	case AnalogOutsideWindow:
		return "analog_outside_window"
	case Manual:
		return "manual"
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := DigitalActive; k <= Manual; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("alarm: unknown kind %q", s)
}

// IsDigital reports whether k reads a boolean source.
func (k Kind) IsDigital() bool { return k == DigitalActive || k == DigitalInactive }

// IsAnalog reports whether k reads a float source.
func (k Kind) IsAnalog() bool { return k == AnalogBelow || k == AnalogAbove || k == AnalogOutsideWindow }

// Severity distinguishes alarms from warnings for display.
type Severity int

const (
	SeverityAlarm Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "alarm"
}

// State is the classified condition of an entry.
type State int

const (
	StateOk     State = 0
	StateActive State = 1
	StateBelow  State = 2
	StateAbove  State = 3
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateBelow:
		return "BELOW"
	case StateAbove:
		return "ABOVE"
	}
	return "OK"
}

// DigitalConfig registers a digital alarm. Exactly one of Getter or Source
// should be set; with neither, the entry is skipped every tick.
type DigitalConfig struct {
	ID       string
	Name     string
	Kind     Kind // DigitalActive or DigitalInactive
	Severity Severity
	Enabled  bool
	Getter   func() bool
	Source   *bool
}

// AnalogConfig registers an analog alarm.
type AnalogConfig struct {
	ID        string
	Name      string
	Kind      Kind // AnalogBelow, AnalogAbove or AnalogOutsideWindow
	Severity  Severity
	Enabled   bool
	Min       float64
	Max       float64
	MinActive bool
	MaxActive bool
	Getter    func() float64
	Source    *float64
}

type entry struct {
	id       string
	name     string
	kind     Kind
	severity Severity
	slot     int

	enabledDefault   bool
	minDefault       float64
	maxDefault       float64
	minActiveDefault bool
	maxActiveDefault bool

	enabled   settings.Setting[bool]
	min       settings.Setting[float64]
	max       settings.Setting[float64]
	minActive settings.Setting[bool]
	maxActive settings.Setting[bool]

	digitalGetter func() bool
	digitalSource *bool
	analogGetter  func() float64
	analogSource  *float64

	active   bool
	state    State
	lastStay time.Time

	onCome             func()
	onGone             func()
	onStay             func()
	stayInterval       time.Duration
	onStateChanged     func(bool)
	onStateCodeChanged func(State)
	boundActive        *bool
	boundState         *State
}

func live[T any](s settings.Setting[T], def T) T {
	if s == nil {
		return def
	}
	return s.Get()
}

func (e *entry) isEnabled() bool { return live(e.enabled, e.enabledDefault) }

func (e *entry) readDigital() (bool, bool) {
	switch {
	case e.digitalGetter != nil:
		return e.digitalGetter(), true
	case e.digitalSource != nil:
		return *e.digitalSource, true
	}
	return false, false
}

func (e *entry) readAnalog() (float64, bool) {
	switch {
	case e.analogGetter != nil:
		return e.analogGetter(), true
	case e.analogSource != nil:
		return *e.analogSource, true
	}
	return 0, false
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// evaluate returns the next classification, or ok=false when the entry has
// no source.
func (e *entry) evaluate() (active bool, state State, ok bool) {
	if !e.isEnabled() {
		return false, StateOk, true
	}
	if e.kind.IsDigital() {
		v, ok := e.readDigital()
		if !ok {
			return false, StateOk, false
		}
		if v == (e.kind == DigitalActive) {
			return true, StateActive, true
		}
		return false, StateOk, true
	}

	v, ok := e.readAnalog()
	if !ok {
		return false, StateOk, false
	}
	lo, hi := live(e.min, e.minDefault), live(e.max, e.maxDefault)
	below := live(e.minActive, e.minActiveDefault) && finite(lo) && v < lo
	above := live(e.maxActive, e.maxActiveDefault) && finite(hi) && v > hi

	switch e.kind {
	case AnalogBelow:
		if below {
			return true, StateBelow, true
		}
	case AnalogAbove:
		if above {
			return true, StateAbove, true
		}
	case AnalogOutsideWindow:
		if below {
			return true, StateBelow, true
		}
		if above {
			return true, StateAbove, true
		}
	}
	return false, StateOk, true
}

// Config wires an Engine.
type Config struct {
	Settings *settings.Registry
	Sink     event.Sink
	Logger   *zap.Logger
	Now      func() time.Time
	// UpdateInterval defaults to DefaultUpdateInterval.
	UpdateInterval time.Duration
}

// Engine owns every alarm entry.
type Engine struct {
	settings *settings.Registry
	sink     event.Sink
	logger   *zap.Logger
	now      func() time.Time

	interval   time.Duration
	lastUpdate time.Time
	updated    bool

	entries []*entry
	keys    []string
}

// New creates an Engine.
func New(cfg Config) *Engine {
	e := &Engine{
		settings: cfg.Settings,
		sink:     cfg.Sink,
		logger:   cfg.Logger,
		now:      cfg.Now,
		interval: cfg.UpdateInterval,
	}
	if e.sink == nil {
		e.sink = event.Discard
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("alarm")
	if e.now == nil {
		e.now = time.Now
	}
	if e.interval <= 0 {
		e.interval = DefaultUpdateInterval
	}
	return e
}

func (g *Engine) find(id string) *entry {
	for _, e := range g.entries {
		if e.id == id {
			return e
		}
	}
	return nil
}

func (g *Engine) add(e *entry) *Handle {
	if g.find(e.id) != nil {
		g.logger.Warn("duplicate alarm id ignored", zap.String("id", e.id))
		return nil
	}
	if e.name == "" {
		e.name = e.id
	}
	e.slot = len(g.entries)
	g.entries = append(g.entries, e)
	return &Handle{e: e}
}

// AddDigitalAlarm registers a digital alarm. It returns nil for a duplicate id;
// Handle methods are nil-safe.
func (g *Engine) AddDigitalAlarm(cfg DigitalConfig) *Handle {
	if !cfg.Kind.IsDigital() {
		g.logger.Warn("digital alarm with non-digital kind, using digital_active", zap.String("id", cfg.ID), zap.Stringer("kind", cfg.Kind))
		cfg.Kind = DigitalActive
	}
	return g.add(&entry{
		id:             cfg.ID,
		name:           cfg.Name,
		kind:           cfg.Kind,
		severity:       cfg.Severity,
		enabledDefault: cfg.Enabled,
		digitalGetter:  cfg.Getter,
		digitalSource:  cfg.Source,
	})
}

// AddAnalogAlarm registers an analog alarm.
func (g *Engine) AddAnalogAlarm(cfg AnalogConfig) *Handle {
	if !cfg.Kind.IsAnalog() {
		g.logger.Warn("analog alarm with non-analog kind, using analog_outside_window", zap.String("id", cfg.ID), zap.Stringer("kind", cfg.Kind))
		cfg.Kind = AnalogOutsideWindow
	}
	return g.add(&entry{
		id:               cfg.ID,
		name:             cfg.Name,
		kind:             cfg.Kind,
		severity:         cfg.Severity,
		enabledDefault:   cfg.Enabled,
		minDefault:       cfg.Min,
		maxDefault:       cfg.Max,
		minActiveDefault: cfg.MinActive,
		maxActiveDefault: cfg.MaxActive,
		analogGetter:     cfg.Getter,
		analogSource:     cfg.Source,
	})
}

// AddDigitalWarning registers a digital entry with warning severity.
func (g *Engine) AddDigitalWarning(cfg DigitalConfig) *Handle {
	cfg.Severity = SeverityWarning
	return g.AddDigitalAlarm(cfg)
}

// AddAnalogWarning registers an analog entry with warning severity.
func (g *Engine) AddAnalogWarning(cfg AnalogConfig) *Handle {
	cfg.Severity = SeverityWarning
	return g.AddAnalogAlarm(cfg)
}

// RegisterRuntimeAlarm declares a manual entry. onTrigger and onClear may be nil.
func (g *Engine) RegisterRuntimeAlarm(id, name string, onTrigger, onClear func()) *Handle {
	h := g.add(&entry{id: id, name: name, kind: Manual, enabledDefault: true})
	return h.OnAlarmCome(onTrigger).OnAlarmGone(onClear)
}

// SetRuntimeAlarmActive force-sets a manual entry. With fireCallbacks false
// the state changes silently.
func (g *Engine) SetRuntimeAlarmActive(id string, active, fireCallbacks bool) bool {
	e := g.find(id)
	if e == nil || e.kind != Manual {
		g.logger.Warn("set unknown runtime alarm", zap.String("id", id))
		return false
	}
	state := StateOk
	if active {
		state = StateActive
	}
	g.apply(e, active, state, g.now(), fireCallbacks)
	return true
}

// BindSettings registers live settings for an entry: AL<slot>E enabled, and
// for analog kinds AL<slot>L min, AL<slot>H max, AL<slot>m min active and
// AL<slot>M max active.
func (g *Engine) BindSettings(id string) bool {
	e := g.find(id)
	if e == nil || e.kind == Manual {
		g.logger.Warn("bind settings for unknown alarm", zap.String("id", id))
		return false
	}
	if g.settings == nil {
		g.logger.Warn("no settings registry configured", zap.String("id", id))
		return false
	}
	key := func(c byte) string { return settings.SlotKey("AL", e.slot, c) }

	var err error
	if e.enabled, err = g.settings.Bool(key('E'), e.name+" enabled", e.enabledDefault); err != nil {
		return g.bindFailed(e, err)
	}
	g.keys = append(g.keys, key('E'))
	if !e.kind.IsAnalog() {
		return true
	}
	if e.min, err = g.settings.Float(key('L'), e.name+" min", e.minDefault); err != nil {
		return g.bindFailed(e, err)
	}
	if e.max, err = g.settings.Float(key('H'), e.name+" max", e.maxDefault); err != nil {
		return g.bindFailed(e, err)
	}
	if e.minActive, err = g.settings.Bool(key('m'), e.name+" min active", e.minActiveDefault); err != nil {
		return g.bindFailed(e, err)
	}
	if e.maxActive, err = g.settings.Bool(key('M'), e.name+" max active", e.maxActiveDefault); err != nil {
		return g.bindFailed(e, err)
	}
	g.keys = append(g.keys, key('L'), key('H'), key('m'), key('M'))
	return true
}

func (g *Engine) bindFailed(e *entry, err error) bool {
	g.logger.Warn("alarm settings unavailable, using defaults", zap.String("id", e.id), zap.Error(err))
	return false
}

// Keys returns every settings key bound by BindSettings.
func (g *Engine) Keys() []string {
	return append([]string(nil), g.keys...)
}

// SetUpdateInterval changes the rate limit; the next Update always runs.
func (g *Engine) SetUpdateInterval(d time.Duration) {
	g.interval = d
	g.updated = false
}

// Update evaluates every automatic entry, at most once per update interval.
func (g *Engine) Update() {
	now := g.now()
	if g.updated && g.interval > 0 && now.Sub(g.lastUpdate) < g.interval {
		return
	}
	g.updated = true
	g.lastUpdate = now

	for _, e := range g.entries {
		if e.kind != Manual {
			active, state, ok := e.evaluate()
			if !ok {
				continue
			}
			g.apply(e, active, state, now, true)
		}

		if e.boundActive != nil {
			*e.boundActive = e.active
		}
		if e.boundState != nil {
			*e.boundState = e.state
		}

		if e.active && e.onStay != nil && e.stayInterval > 0 && now.Sub(e.lastStay) >= e.stayInterval {
			e.lastStay = now
			e.onStay()
			g.sink.Emit(event.Event{Kind: event.AlarmStay, Source: e.id, Time: now, State: int(e.state)})
		}
	}
}

func (g *Engine) apply(e *entry, active bool, state State, now time.Time, fire bool) {
	if active != e.active {
		e.active = active
		if active {
			e.lastStay = now
		}
		if fire {
			if e.onStateChanged != nil {
				e.onStateChanged(active)
			}
			if active {
				if e.onCome != nil {
					e.onCome()
				}
				g.sink.Emit(event.Event{Kind: event.AlarmEnter, Source: e.id, Time: now, State: int(state)})
			} else {
				if e.onGone != nil {
					e.onGone()
				}
				g.sink.Emit(event.Event{Kind: event.AlarmExit, Source: e.id, Time: now, State: int(state)})
			}
		}
	}

	if state != e.state {
		e.state = state
		if fire {
			if e.onStateCodeChanged != nil {
				e.onStateCodeChanged(state)
			}
			g.sink.Emit(event.Event{Kind: event.AlarmState, Source: e.id, Time: now, State: int(state)})
		}
	}
}

// IsActive reports whether id is active.
func (g *Engine) IsActive(id string) bool {
	if e := g.find(id); e != nil {
		return e.active
	}
	return false
}

// StateOf returns the classified state of id, StateOk if unknown.
func (g *Engine) StateOf(id string) State {
	if e := g.find(id); e != nil {
		return e.state
	}
	return StateOk
}

// HasActiveAlarms reports whether any entry is active.
func (g *Engine) HasActiveAlarms() bool {
	for _, e := range g.entries {
		if e.active {
			return true
		}
	}
	return false
}

// ActiveAlarms returns the ids of active entries in registration order.
func (g *Engine) ActiveAlarms() []string {
	var out []string
	for _, e := range g.entries {
		if e.active {
			out = append(out, e.id)
		}
	}
	return out
}
