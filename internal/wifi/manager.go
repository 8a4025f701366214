package wifi

import (
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/event"
)

// State is the connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAPMode
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateAPMode:
		return "AP Mode"
	case StateReconnecting:
		return "Reconnecting"
	}
	return "Disconnected"
}

// Defaults.
const (
	DefaultReconnectInterval  = 10 * time.Second
	DefaultRoamingThreshold   = -75
	DefaultRoamingCooldown    = 120 * time.Second
	DefaultRoamingImprovement = 10
	roamReconnectDelay        = 500 * time.Millisecond

	// Retries after the first reset the radio stack on every
	// stackResetEvery-th attempt. Each half of the power cycle waits
	// stackResetSettle.
	stackResetEvery  = 6
	stackResetSettle = 500 * time.Millisecond
	maxAttempts      = 250
)

// Restarter reboots the device. It is the only fatal action the manager takes.
type Restarter func(reason string)

// Config wires a Manager.
type Config struct {
	Radio   Radio
	Sink    event.Sink
	Logger  *zap.Logger
	Now     func() time.Time
	Restart Restarter
}

// Manager drives a Radio from a cooperative Update loop.
type Manager struct {
	radio   Radio
	sink    event.Sink
	logger  *zap.Logger
	now     func() time.Time
	restart Restarter

	state       State
	initialized bool

	ssid     string
	password string
	static   *StaticConfig
	pref     apPreference

	reconnectInterval    time.Duration
	autoReboot           time.Duration
	autoRebootEnabled    bool
	lastGood             time.Time
	connectedAt          time.Time
	lastReconnectAttempt time.Time
	attempts             int
	resetStep            int
	resetAt              time.Time

	roaming         bool
	roamThreshold   int
	roamCooldown    time.Duration
	roamImprovement int
	lastRoam        time.Time
	roamPending     bool
	roamTarget      string
	roamReconnectAt time.Time

	onConnected    func()
	onDisconnected func()
	onAPMode       func()
}

// New creates a Manager. Call Begin before Update.
func New(cfg Config) *Manager {
	m := &Manager{
		radio:             cfg.Radio,
		sink:              cfg.Sink,
		logger:            cfg.Logger,
		now:               cfg.Now,
		restart:           cfg.Restart,
		reconnectInterval: DefaultReconnectInterval,
		roaming:           true,
		roamThreshold:     DefaultRoamingThreshold,
		roamCooldown:      DefaultRoamingCooldown,
		roamImprovement:   DefaultRoamingImprovement,
	}
	if m.sink == nil {
		m.sink = event.Discard
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("wifi")
	if m.now == nil {
		m.now = time.Now
	}
	if m.restart == nil {
		m.restart = func(reason string) {
			m.logger.Error("restart requested but no restarter configured", zap.String("reason", reason))
		}
	}
	return m
}

// Begin seeds state from the radio. autoRebootMin of zero disables the
// outage restart.
func (m *Manager) Begin(reconnectInterval time.Duration, autoRebootMin int) {
	m.reconnectInterval = reconnectInterval
	m.SetAutoRebootTimeout(autoRebootMin)

	now := m.now()
	m.lastGood = now
	m.lastReconnectAttempt = time.Time{}

	switch {
	case m.radio.Mode() == ModeAP:
		m.state = StateAPMode
	case m.radio.Status() == StatusConnected:
		m.state = StateConnected
		m.connectedAt = now
	default:
		m.state = StateDisconnected
	}
	m.initialized = true
	m.logger.Info("wifi started",
		zap.Stringer("state", m.state),
		zap.Duration("reconnect_interval", m.reconnectInterval),
		zap.Duration("auto_reboot", m.autoReboot))
}

// SetCallbacks sets the transition hooks. Nil hooks are skipped.
func (m *Manager) SetCallbacks(onConnected, onDisconnected, onAPMode func()) {
	m.onConnected = onConnected
	m.onDisconnected = onDisconnected
	m.onAPMode = onAPMode
}

// StartConnection stores DHCP credentials and starts associating.
func (m *Manager) StartConnection(ssid, password string) {
	m.ssid, m.password, m.static = ssid, password, nil
	m.roamPending = false
	m.attempts = 0
	m.abortStackReset()
	m.logger.Info("connecting", zap.String("ssid", ssid))
	m.connect()
}

// StartConnectionStatic stores credentials plus a fixed address and starts
// associating.
func (m *Manager) StartConnectionStatic(cfg StaticConfig, ssid, password string) {
	m.ssid, m.password = ssid, password
	m.static = &cfg
	m.roamPending = false
	m.attempts = 0
	m.abortStackReset()
	m.logger.Info("connecting with static address", zap.String("ssid", ssid), zap.Stringer("address", cfg.Address))
	m.connect()
}

// StartAccessPoint switches the radio to broadcast mode.
func (m *Manager) StartAccessPoint(ssid, password string) {
	m.roamPending = false
	m.abortStackReset()
	if err := m.radio.SoftAP(ssid, password); err != nil {
		m.logger.Error("start access point", zap.String("ssid", ssid), zap.Error(err))
		return
	}
	m.logger.Info("access point started", zap.String("ssid", ssid))
	m.transition(StateAPMode)
}

func (m *Manager) connect() {
	m.connectTo(m.targetBSSID())
}

func (m *Manager) connectTo(bssid string) {
	if m.static != nil {
		if err := m.radio.Config(*m.static); err != nil {
			m.logger.Warn("apply static config", zap.Error(err))
		}
	}
	if m.attempts < maxAttempts {
		m.attempts++
	}
	if err := m.radio.Begin(m.ssid, m.password, bssid); err != nil {
		m.logger.Warn("begin association", zap.String("ssid", m.ssid), zap.Error(err))
		m.lastReconnectAttempt = m.now()
		if m.state != StateReconnecting {
			m.transition(StateReconnecting)
		}
		return
	}
	m.transition(StateConnecting)
	m.lastReconnectAttempt = m.now()
}

// targetBSSID scans before association when a filter or priority is set.
func (m *Manager) targetBSSID() string {
	if m.pref.filter == "" && m.pref.priority == "" {
		return ""
	}
	nets, err := m.radio.Scan()
	if err != nil || len(nets) == 0 {
		m.logger.Warn("pre-connect scan found nothing, letting radio choose", zap.Error(err))
		return ""
	}
	bssid := pickConnectBSSID(nets, m.ssid, m.pref)
	if bssid == "" {
		m.logger.Warn("preferred access point not found", zap.String("filter", m.pref.filter), zap.String("priority", m.pref.priority))
	}
	return bssid
}

// Update advances the state machine. It blocks only for a roaming scan.
func (m *Manager) Update() {
	if !m.initialized {
		return
	}
	now := m.now()

	m.advanceStackReset(now)

	if m.roamPending && !now.Before(m.roamReconnectAt) {
		m.roamPending = false
		m.logger.Info("reassociating after roam", zap.String("bssid", m.roamTarget))
		m.connectTo(m.roamTarget)
	}

	status := m.radio.Status()
	switch {
	case m.radio.Mode() == ModeAP:
		if m.state != StateAPMode {
			m.transition(StateAPMode)
		}
	case status == StatusConnected:
		if m.state != StateConnected {
			m.transition(StateConnected)
		}
		m.lastGood = now
	case m.state == StateConnected && status.busy():
		m.logger.Debug("transient status while connected", zap.Stringer("status", status))
		m.lastGood = now
	default:
		if m.state == StateConnected {
			m.logger.Warn("connection lost", zap.Stringer("status", status))
			m.transition(StateDisconnected)
		}
		m.reconnect(now, status)
	}

	if m.autoRebootEnabled && m.autoReboot > 0 && m.state != StateAPMode {
		if since := now.Sub(m.lastGood); since >= m.autoReboot {
			m.logger.Error("no connection, restarting", zap.Duration("since_last_good", since))
			m.lastGood = now
			m.restart("wifi: no connection for " + since.String())
			return
		}
	}

	if m.state == StateConnected {
		m.checkRoaming(now)
	}
}

func (m *Manager) reconnect(now time.Time, status Status) {
	if m.radio.Mode() == ModeAP || m.roamPending || m.resetStep > 0 || m.ssid == "" {
		return
	}
	if status.busy() {
		return
	}
	if !m.lastReconnectAttempt.IsZero() && now.Sub(m.lastReconnectAttempt) < m.reconnectInterval {
		return
	}
	m.lastReconnectAttempt = now
	if m.state != StateReconnecting {
		m.transition(StateReconnecting)
	}
	// The first retry and every stackResetEvery-th one after it power
	// cycle the radio before associating. Restarting the device is left
	// to the auto reboot timeout.
	if m.attempts == 1 || (m.attempts >= 2 && m.attempts%stackResetEvery == 0) {
		m.startStackReset(now)
		return
	}
	m.connect()
}

func (m *Manager) startStackReset(now time.Time) {
	m.logger.Info("resetting radio stack", zap.Int("attempt", m.attempts+1))
	if err := m.radio.SetEnabled(false); err != nil {
		m.logger.Warn("disable radio", zap.Error(err))
		m.connect()
		return
	}
	m.resetStep = 1
	m.resetAt = now.Add(stackResetSettle)
}

// advanceStackReset re-enables the radio, then associates once it settles.
func (m *Manager) advanceStackReset(now time.Time) {
	if m.resetStep == 0 || now.Before(m.resetAt) {
		return
	}
	switch m.resetStep {
	case 1:
		if err := m.radio.SetEnabled(true); err != nil {
			m.logger.Warn("enable radio", zap.Error(err))
		}
		m.resetStep = 2
		m.resetAt = now.Add(stackResetSettle)
	default:
		m.resetStep = 0
		m.logger.Info("radio stack reset complete")
		m.connect()
	}
}

// abortStackReset leaves the radio enabled when a reset is cut short.
func (m *Manager) abortStackReset() {
	if m.resetStep == 1 {
		if err := m.radio.SetEnabled(true); err != nil {
			m.logger.Warn("enable radio", zap.Error(err))
		}
	}
	m.resetStep = 0
}

func (m *Manager) checkRoaming(now time.Time) {
	if !m.roaming || m.ssid == "" || m.roamPending {
		return
	}
	if !m.lastRoam.IsZero() && now.Sub(m.lastRoam) < m.roamCooldown {
		return
	}
	current := m.radio.RSSI()
	if current >= m.roamThreshold {
		return
	}
	m.lastRoam = now

	m.logger.Info("signal below threshold, scanning", zap.Int("rssi", current), zap.Int("threshold", m.roamThreshold))
	nets, err := m.radio.Scan()
	if err != nil {
		m.logger.Warn("roaming scan", zap.Error(err))
		return
	}
	target, ok := pickRoamTarget(nets, m.ssid, m.radio.BSSID(), current, m.roamImprovement, m.pref)
	if !ok {
		m.logger.Debug("no better access point", zap.Int("rssi", current), zap.Int("candidates", len(nets)))
		return
	}

	m.logger.Info("roaming to stronger access point",
		zap.String("bssid", target.BSSID),
		zap.Int("rssi", target.RSSI),
		zap.Int("improvement", target.RSSI-current))
	if err := m.radio.Disconnect(); err != nil {
		m.logger.Warn("disconnect for roaming", zap.Error(err))
	}
	m.transition(StateConnecting)
	m.roamPending = true
	m.roamTarget = target.BSSID
	m.roamReconnectAt = now.Add(roamReconnectDelay)
}

func (m *Manager) transition(next State) {
	prev := m.state
	m.state = next
	if prev != next {
		m.logger.Info("state", zap.Stringer("from", prev), zap.Stringer("to", next))
	}
	now := m.now()

	switch next {
	case StateConnected:
		if prev != StateConnected {
			m.connectedAt = now
			m.attempts = 0
			m.logger.Info("connected", zap.String("ip", m.radio.LocalIP()), zap.Int("rssi", m.radio.RSSI()))
			m.sink.Emit(event.Event{Kind: event.WiFiConnected, Source: m.ssid, Time: now})
			if m.onConnected != nil {
				m.onConnected()
			}
		}
	case StateDisconnected, StateReconnecting, StateConnecting:
		if prev == StateConnected {
			m.sink.Emit(event.Event{Kind: event.WiFiDisconnected, Source: m.ssid, Time: now})
			if m.onDisconnected != nil {
				m.onDisconnected()
			}
		}
	case StateAPMode:
		if prev != StateAPMode {
			m.sink.Emit(event.Event{Kind: event.WiFiAPMode, Source: m.ssid, Time: now})
			if m.onAPMode != nil {
				m.onAPMode()
			}
		}
	}
}

// Disconnect drops the link. The state follows on the next Update.
func (m *Manager) Disconnect() {
	m.logger.Info("manual disconnect")
	m.roamPending = false
	if err := m.radio.Disconnect(); err != nil {
		m.logger.Warn("disconnect", zap.Error(err))
	}
}

// ForceReconnect lets the next Update attempt association immediately.
func (m *Manager) ForceReconnect() {
	m.lastReconnectAttempt = time.Time{}
}

// Reconnect drops the link and reassociates on the next Update.
func (m *Manager) Reconnect() {
	m.logger.Info("manual reconnect")
	m.Disconnect()
	m.ForceReconnect()
}

// Reset returns to Disconnected without callbacks and restarts the outage timer.
func (m *Manager) Reset() {
	m.state = StateDisconnected
	m.lastGood = m.now()
	m.lastReconnectAttempt = time.Time{}
	m.roamPending = false
	m.attempts = 0
	m.abortStackReset()
}

func (m *Manager) State() State { return m.state }
func (m *Manager) IsConnected() bool { return m.state == StateConnected }
func (m *Manager) IsInAPMode() bool { return m.state == StateAPMode }
func (m *Manager) StatusString() string { return m.state.String() }

// IsConnecting reports Connecting or Reconnecting.
func (m *Manager) IsConnecting() bool {
	return m.state == StateConnecting || m.state == StateReconnecting
}

// ConnectAttempts counts association attempts since the last connection.
func (m *Manager) ConnectAttempts() int { return m.attempts }

// LastConnectionTime is the last tick the link was seen up.
func (m *Manager) LastConnectionTime() time.Time { return m.lastGood }

// TimeSinceLastConnection is the outage length so far.
func (m *Manager) TimeSinceLastConnection() time.Duration { return m.now().Sub(m.lastGood) }

// ConnectionUptime is how long the current association has lasted, zero
// when not connected.
func (m *Manager) ConnectionUptime() time.Duration {
	if m.state != StateConnected {
		return 0
	}
	return m.now().Sub(m.connectedAt)
}

func (m *Manager) RSSI() int { return m.radio.RSSI() }
func (m *Manager) LocalIP() string { return m.radio.LocalIP() }

// EnableSmartRoaming turns roaming on or off.
func (m *Manager) EnableSmartRoaming(enable bool) { m.roaming = enable }

// SetRoamingThreshold sets the RSSI below which roaming scans run.
func (m *Manager) SetRoamingThreshold(dBm int) { m.roamThreshold = dBm }

// SetRoamingCooldown sets the minimum time between roaming attempts.
func (m *Manager) SetRoamingCooldown(d time.Duration) { m.roamCooldown = d }

// SetRoamingImprovement sets the margin a candidate must beat the current AP by.
func (m *Manager) SetRoamingImprovement(dBm int) { m.roamImprovement = dBm }

// EnableAutoReboot toggles the outage restart without changing the timeout.
func (m *Manager) EnableAutoReboot(enable bool) { m.autoRebootEnabled = enable }

// SetAutoRebootTimeout sets the outage restart in minutes; zero disables it.
func (m *Manager) SetAutoRebootTimeout(minutes int) {
	if minutes < 0 {
		minutes = 0
	}
	m.autoReboot = time.Duration(minutes) * time.Minute
	m.autoRebootEnabled = minutes > 0
}

// SetReconnectInterval sets the minimum time between association attempts.
func (m *Manager) SetReconnectInterval(d time.Duration) { m.reconnectInterval = d }

// SetAPMacFilter restricts association and roaming to one BSSID.
func (m *Manager) SetAPMacFilter(mac string) {
	m.pref = apPreference{filter: mac}
	m.logger.Info("access point filter set", zap.String("bssid", mac))
}

// SetAPMacPriority prefers one BSSID while allowing others.
func (m *Manager) SetAPMacPriority(mac string) {
	m.pref = apPreference{priority: mac}
	m.logger.Info("access point priority set", zap.String("bssid", mac))
}

func (m *Manager) ClearMacFilter() { m.pref.filter = "" }
func (m *Manager) ClearMacPriority() { m.pref.priority = "" }
