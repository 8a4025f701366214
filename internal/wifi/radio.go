// Package wifi keeps a station associated with a configured network,
// falls back to access point mode, roams to stronger APs and restarts the
// device after a prolonged outage.
package wifi

import "net/netip"

// Mode is the radio operating mode.
type Mode int

const (
	ModeOff Mode = iota
	ModeStation
	ModeAP
)

func (m Mode) String() string {
	switch m {
	case ModeStation:
		return "station"
	case ModeAP:
		return "ap"
	}
	return "off"
}

// Status is the link status reported by the radio.
type Status int

const (
	StatusIdle Status = iota
	StatusNoSSID
	StatusScanCompleted
	StatusConnected
	StatusConnectFailed
	StatusConnectionLost
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusNoSSID:
		return "no_ssid"
	case StatusScanCompleted:
		return "scan_completed"
	case StatusConnected:
		return "connected"
	case StatusConnectFailed:
		return "connect_failed"
	case StatusConnectionLost:
		return "connection_lost"
	}
	return "disconnected"
}

// busy reports statuses the radio shows while a connect or scan is in flight.
func (s Status) busy() bool { return s == StatusIdle || s == StatusScanCompleted }

// Network is one scan result.
type Network struct {
	SSID  string
	BSSID string
	RSSI  int
}

// StaticConfig is a fixed IPv4 configuration. Zero DNS entries are omitted.
type StaticConfig struct {
	Address netip.Prefix
	Gateway netip.Addr
	DNS1    netip.Addr
	DNS2    netip.Addr
}

// Radio abstracts the WiFi hardware.
type Radio interface {
	Mode() Mode
	Status() Status
	// Begin starts an asynchronous association. An empty bssid lets the
	// radio choose.
	Begin(ssid, password, bssid string) error
	Config(cfg StaticConfig) error
	Disconnect() error
	SoftAP(ssid, password string) error
	// SetEnabled powers the radio. Turning it off and on again resets the
	// stack.
	SetEnabled(on bool) error
	// Scan blocks until the scan completes.
	Scan() ([]Network, error)
	RSSI() int
	BSSID() string
	SSID() string
	LocalIP() string
}
