package main

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/alarm"
	"github.com/sweeney/devicecore/internal/config"
	"github.com/sweeney/devicecore/internal/event"
	"github.com/sweeney/devicecore/internal/gpio"
	"github.com/sweeney/devicecore/internal/mqtt"
	"github.com/sweeney/devicecore/internal/pinio"
	"github.com/sweeney/devicecore/internal/settings"
	"github.com/sweeney/devicecore/internal/status"
	"github.com/sweeney/devicecore/internal/wifi"
)

// updater is anything the scheduler loop drives once per tick.
type updater interface {
	Update()
}

// hardware holds the collaborators that touch the outside world. Tests
// substitute fakes.
type hardware struct {
	driver    gpio.Driver
	analog    gpio.AnalogReader
	analogOut gpio.AnalogWriter // nil disables analog outputs
	radio     wifi.Radio        // nil disables connectivity management
	store     settings.Store
	publisher mqtt.Publisher // nil disables MQTT
	conn      mqtt.ConnectionStatus
	restart   wifi.Restarter
}

// app is the wired device: managers, settings and telemetry.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	now      func() time.Time
	settings *settings.Registry
	status   *status.Registry
	io       *pinio.Manager
	alarms   *alarm.Engine
	wifi     *wifi.Manager
	hw       *hardware

	// setupHold is set by a long press during the startup window.
	setupHold bool
	updaters  []updater
}

func newApp(cfg *config.Config, hw *hardware, logger *zap.Logger, now func() time.Time) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		now:      now,
		settings: settings.NewRegistry(hw.store, logger),
		status:   status.NewRegistry(now(), now),
		hw:       hw,
	}

	sinks := event.Fanout{event.NewLogSink(logger)}
	if hw.publisher != nil {
		var skip []event.Kind
		if !cfg.MQTT.PublishAnalog {
			skip = append(skip, event.AnalogValue)
		}
		sinks = append(sinks, mqtt.NewSink(hw.publisher, logger, skip...))
	}

	a.io = pinio.New(pinio.Config{
		Driver:        hw.driver,
		Analog:        hw.analog,
		AnalogOut:     hw.analogOut,
		Settings:      a.settings,
		Sink:          sinks,
		Logger:        logger,
		Now:           now,
		StartupWindow: cfg.IO.StartupWindow,
	})
	if err := a.addIO(); err != nil {
		return nil, err
	}

	a.alarms = alarm.New(alarm.Config{
		Settings:       a.settings,
		Sink:           sinks,
		Logger:         logger,
		Now:            now,
		UpdateInterval: cfg.Alarms.UpdateInterval,
	})
	if err := a.addAlarms(); err != nil {
		return nil, err
	}

	a.updaters = []updater{a.io, a.alarms}
	if hw.radio != nil {
		a.wifi = wifi.New(wifi.Config{
			Radio:   hw.radio,
			Sink:    sinks,
			Logger:  logger,
			Now:     now,
			Restart: hw.restart,
		})
		a.updaters = append(a.updaters, a.wifi)
	}

	a.registerRuntime()
	return a, nil
}

func (a *app) addIO() error {
	for _, o := range a.cfg.IO.Outputs {
		if !a.io.AddDigitalOutput(pinio.OutputBinding{
			ID:               o.ID,
			Name:             o.Name,
			Pin:              o.Pin,
			ActiveLow:        o.ActiveLow,
			RegisterSettings: o.Settings,
		}) {
			return fmt.Errorf("output %q rejected", o.ID)
		}
	}

	for _, in := range a.cfg.IO.Inputs {
		if !a.io.AddDigitalInput(pinio.InputBinding{
			ID:               in.ID,
			Name:             in.Name,
			Pin:              in.Pin,
			ActiveLow:        in.ActiveLow,
			PullUp:           in.PullUp,
			PullDown:         in.PullDown,
			RegisterSettings: in.Settings,
		}) {
			return fmt.Errorf("input %q rejected", in.ID)
		}
		var cb pinio.InputCallbacks
		if in.SetupHold {
			id := in.ID
			cb.OnLongPressOnStartup = func() {
				a.logger.Info("setup hold detected", zap.String("input", id))
				a.setupHold = true
			}
		}
		a.io.ConfigureDigitalInputEvents(in.ID, cb, pinio.InputEventOptions{
			Debounce:    in.Debounce,
			LongClick:   in.LongClick,
			DoubleClick: in.DoubleClick,
		})
	}

	for _, c := range a.cfg.IO.Analog {
		b := pinio.NewAnalogInput(c.ID, c.Name, c.Pin)
		b.RawMin = c.RawMin
		if c.RawMax != 0 {
			b.RawMax = c.RawMax
		}
		b.OutMin = c.OutMin
		if c.OutMax != 0 {
			b.OutMax = c.OutMax
		}
		b.Unit = c.Unit
		if c.Deadband > 0 {
			b.Deadband = c.Deadband
		}
		if c.MinEventInterval != nil {
			b.MinEventInterval = *c.MinEventInterval
		}
		b.RegisterSettings = c.Settings
		if !a.io.AddAnalogInput(b) {
			return fmt.Errorf("analog input %q rejected", c.ID)
		}
	}

	for _, c := range a.cfg.IO.AnalogOutputs {
		b := pinio.NewAnalogOutput(c.ID, c.Name, c.Pin)
		if c.ValueMin != 0 || c.ValueMax != 0 {
			b.ValueMin, b.ValueMax = c.ValueMin, c.ValueMax
		}
		b.Unit = c.Unit
		b.Reverse = c.Reverse
		if c.RawMax > 0 {
			b.RawMax = c.RawMax
		}
		if c.DACMax > 0 {
			b.DACMax = c.DACMax
		}
		b.RegisterSettings = c.Settings
		if !a.io.AddAnalogOutput(b) {
			return fmt.Errorf("analog output %q rejected", c.ID)
		}
	}
	return nil
}

func (a *app) addAlarms() error {
	for _, c := range a.cfg.Alarms.Entries {
		kind, err := alarm.ParseKind(c.Kind)
		if err != nil {
			return err
		}
		severity := alarm.SeverityAlarm
		if c.Severity == "warning" {
			severity = alarm.SeverityWarning
		}
		name := c.Name
		if name == "" {
			name = c.ID
		}
		source := c.Source

		var h *alarm.Handle
		if kind.IsDigital() {
			h = a.alarms.AddDigitalAlarm(alarm.DigitalConfig{
				ID:       c.ID,
				Name:     name,
				Kind:     kind,
				Severity: severity,
				Enabled:  !c.Disabled,
				Getter:   func() bool { return a.io.InputState(source) },
			})
		} else {
			ac := alarm.AnalogConfig{
				ID:       c.ID,
				Name:     name,
				Kind:     kind,
				Severity: severity,
				Enabled:  !c.Disabled,
				Getter:   func() float64 { return a.io.AnalogValue(source) },
			}
			if c.Min != nil {
				ac.Min, ac.MinActive = *c.Min, true
			}
			if c.Max != nil {
				ac.Max, ac.MaxActive = *c.Max, true
			}
			h = a.alarms.AddAnalogAlarm(ac)
		}
		if h == nil {
			return fmt.Errorf("alarm %q rejected", c.ID)
		}

		if c.Settings && !a.alarms.BindSettings(c.ID) {
			return fmt.Errorf("alarm %q: bind settings failed", c.ID)
		}
		if c.Output != "" {
			out := c.Output
			h.OnStateChanged(func(active bool) { a.io.SetState(out, active) })
		}
		if c.StayInterval > 0 {
			id := c.ID
			h.OnAlarmStay(func() {
				a.logger.Warn("alarm still active", zap.String("alarm", id))
			}, c.StayInterval)
		}
	}
	return nil
}

func (a *app) registerRuntime() {
	a.status.AddProvider("system", 0, func() map[string]any {
		values := map[string]any{
			"version":  version,
			"settings": a.cfg.Settings.Backend,
		}
		if a.hw.conn != nil {
			values["mqtt_connected"] = a.hw.conn.IsConnected()
		}
		return values
	})
	a.status.AddField(status.FieldMeta{Group: "system", Key: "version", Label: "Version"})
	a.status.AddField(status.FieldMeta{Group: "system", Key: "settings", Label: "Settings store", Order: 1})
	a.status.AddField(status.FieldMeta{Group: "system", Key: "mqtt_connected", Label: "MQTT", IsBool: true, HasAlarm: true, Order: 2})

	if a.wifi != nil {
		a.wifi.RegisterRuntime(a.status)
	}
	a.io.RegisterRuntime(a.status)
	a.alarms.RegisterRuntime(a.status)
}

// begin starts every manager. Connectivity settings bound here override
// the configured values once stored.
func (a *app) begin() error {
	a.io.Begin()
	if a.wifi == nil {
		return nil
	}

	w := a.cfg.WiFi
	a.wifi.EnableSmartRoaming(w.Roaming.Enabled)
	a.wifi.SetRoamingThreshold(w.Roaming.Threshold)
	a.wifi.SetRoamingCooldown(w.Roaming.Cooldown)
	a.wifi.SetRoamingImprovement(w.Roaming.Improvement)
	switch {
	case w.MacFilter != "":
		a.wifi.SetAPMacFilter(w.MacFilter)
	case w.MacPriority != "":
		a.wifi.SetAPMacPriority(w.MacPriority)
	}
	a.wifi.Begin(w.ReconnectInterval, w.AutoRebootMinutes)
	if err := a.wifi.BindSettings(a.settings); err != nil {
		return fmt.Errorf("bind wifi settings: %w", err)
	}

	if w.SSID == "" {
		a.wifi.StartAccessPoint(w.AP.SSID, w.AP.Password)
		return nil
	}
	if w.Static.Address == "" {
		a.wifi.StartConnection(w.SSID, w.Password)
		return nil
	}
	static, err := parseStatic(w.Static)
	if err != nil {
		return err
	}
	a.wifi.StartConnectionStatic(static, w.SSID, w.Password)
	return nil
}

// checkSetupHold switches to the access point once after a startup hold.
func (a *app) checkSetupHold() {
	if !a.setupHold {
		return
	}
	a.setupHold = false
	if a.wifi == nil || a.wifi.IsInAPMode() {
		return
	}
	a.logger.Info("starting access point for setup", zap.String("ssid", a.cfg.WiFi.AP.SSID))
	a.wifi.StartAccessPoint(a.cfg.WiFi.AP.SSID, a.cfg.WiFi.AP.Password)
}

// tick runs one scheduler pass.
func (a *app) tick() {
	for _, u := range a.updaters {
		u.Update()
	}
	a.checkSetupHold()
	a.status.Refresh()
}

func parseStatic(c config.StaticConfig) (wifi.StaticConfig, error) {
	var out wifi.StaticConfig
	var err error
	if out.Address, err = netip.ParsePrefix(c.Address); err != nil {
		return out, fmt.Errorf("wifi.static.address: %w", err)
	}
	parse := func(field, s string) netip.Addr {
		if s == "" {
			return netip.Addr{}
		}
		addr, perr := netip.ParseAddr(s)
		if perr != nil {
			err = errors.Join(err, fmt.Errorf("wifi.static.%s: %w", field, perr))
		}
		return addr
	}
	out.Gateway = parse("gateway", c.Gateway)
	out.DNS1 = parse("dns1", c.DNS1)
	out.DNS2 = parse("dns2", c.DNS2)
	return out, err
}
