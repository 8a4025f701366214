package wifi

import (
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/devicecore/internal/settings"
	"github.com/sweeney/devicecore/internal/status"
)

// Group is the runtime group the manager publishes under.
const Group = "wifi"

// Settings keys for roaming and restart parameters.
const (
	KeyRoaming     = "WiFiRoam"
	KeyRoamRSSI    = "WiFiRoamRSSI"
	KeyRoamCool    = "WiFiRoamCool"
	KeyRoamImprove = "WiFiRoamImpr"
	KeyAutoReboot  = "WiFiRebootMin"
	KeyReconnect   = "WiFiRetryMs"
)

// BindSettings exposes roaming and restart parameters as live settings.
// Current values are the defaults; stored values are applied immediately.
func (m *Manager) BindSettings(reg *settings.Registry) error {
	roam, err := reg.Bool(KeyRoaming, "Smart roaming", m.roaming)
	if err != nil {
		return err
	}
	rssi, err := reg.Int(KeyRoamRSSI, "Roaming threshold (dBm)", m.roamThreshold)
	if err != nil {
		return err
	}
	cool, err := reg.Int(KeyRoamCool, "Roaming cooldown (s)", int(m.roamCooldown/time.Second))
	if err != nil {
		return err
	}
	impr, err := reg.Int(KeyRoamImprove, "Roaming improvement (dB)", m.roamImprovement)
	if err != nil {
		return err
	}
	reboot, err := reg.Int(KeyAutoReboot, "Auto reboot (min)", int(m.autoReboot/time.Minute))
	if err != nil {
		return err
	}
	retry, err := reg.Int(KeyReconnect, "Reconnect interval (ms)", int(m.reconnectInterval/time.Millisecond))
	if err != nil {
		return err
	}

	m.EnableSmartRoaming(roam.Get())
	m.SetRoamingThreshold(rssi.Get())
	m.SetRoamingCooldown(time.Duration(cool.Get()) * time.Second)
	m.SetRoamingImprovement(impr.Get())
	m.SetAutoRebootTimeout(reboot.Get())
	m.SetReconnectInterval(time.Duration(retry.Get()) * time.Millisecond)

	roam.OnChange(m.EnableSmartRoaming)
	rssi.OnChange(m.SetRoamingThreshold)
	cool.OnChange(func(v int) { m.SetRoamingCooldown(time.Duration(v) * time.Second) })
	impr.OnChange(m.SetRoamingImprovement)
	reboot.OnChange(m.SetAutoRebootTimeout)
	retry.OnChange(func(v int) { m.SetReconnectInterval(time.Duration(v) * time.Millisecond) })

	m.logger.Debug("settings bound", zap.Bool("roaming", m.roaming), zap.Int("threshold", m.roamThreshold))
	return nil
}

// RegisterRuntime publishes connection state to reg.
func (m *Manager) RegisterRuntime(reg *status.Registry) {
	reg.AddProvider(Group, 10, func() map[string]any {
		return map[string]any{
			"state":     m.state.String(),
			"connected": m.IsConnected(),
			"rssi":      m.radio.RSSI(),
			"ssid":      m.radio.SSID(),
			"bssid":     m.radio.BSSID(),
			"ip":        m.radio.LocalIP(),
			"uptime_s":  int64(m.ConnectionUptime() / time.Second),
			"offline_s": int64(m.TimeSinceLastConnection() / time.Second),
		}
	})
	fields := []status.FieldMeta{
		{Key: "state", Label: "State"},
		{Key: "connected", Label: "Connected", IsBool: true, HasAlarm: true},
		{Key: "rssi", Label: "Signal", Unit: "dBm"},
		{Key: "ssid", Label: "SSID"},
		{Key: "bssid", Label: "Access point"},
		{Key: "ip", Label: "IP address"},
		{Key: "uptime_s", Label: "Connected for", Unit: "s"},
		{Key: "offline_s", Label: "Since last link", Unit: "s"},
	}
	for i, f := range fields {
		f.Group = Group
		f.Order = i
		reg.AddField(f)
	}
}
