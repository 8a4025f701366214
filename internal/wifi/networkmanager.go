package wifi

import (
	"encoding/binary"
	"net"
	"net/netip"
	"time"

	"github.com/Wifx/gonetworkmanager/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Connection profiles owned by the radio. Each Begin or SoftAP replaces
// them.
const (
	stationProfile = "devicecore"
	hotspotProfile = "devicecore-ap"
)

const (
	scanTimeout  = 10 * time.Second
	scanPollTick = 200 * time.Millisecond
)

// connSettings is a NetworkManager connection as sent over D-Bus.
type connSettings = map[string]map[string]interface{}

// NMRadio drives a WiFi interface through NetworkManager over D-Bus.
// Association is asynchronous, so Begin never blocks on the link.
type NMRadio struct {
	iface  string
	nm     gonetworkmanager.NetworkManager
	dev    gonetworkmanager.DeviceWireless
	logger *zap.Logger

	mode   Mode
	static *StaticConfig
}

// NewNMRadio connects to NetworkManager and looks up iface, which must be
// a WiFi device.
func NewNMRadio(iface string, logger *zap.Logger) (*NMRadio, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nm, err := gonetworkmanager.NewNetworkManager()
	if err != nil {
		return nil, errors.Wrap(err, "connect to networkmanager")
	}
	dev, err := nm.GetDeviceByIpIface(iface)
	if err != nil {
		return nil, errors.Wrapf(err, "find device %s", iface)
	}
	typ, err := dev.GetPropertyDeviceType()
	if err != nil {
		return nil, errors.Wrapf(err, "device %s type", iface)
	}
	if typ != gonetworkmanager.NmDeviceTypeWifi {
		return nil, errors.Errorf("device %s is not a wifi device", iface)
	}
	wdev, err := gonetworkmanager.NewDeviceWireless(dev.GetPath())
	if err != nil {
		return nil, errors.Wrapf(err, "open wireless device %s", iface)
	}
	return &NMRadio{
		iface:  iface,
		nm:     nm,
		dev:    wdev,
		logger: logger.Named("networkmanager"),
		mode:   ModeStation,
	}, nil
}

func (r *NMRadio) Mode() Mode { return r.mode }

func (r *NMRadio) Status() Status {
	state, err := r.dev.GetPropertyState()
	if err != nil {
		r.logger.Debug("device state", zap.Error(err))
		return StatusDisconnected
	}
	return deviceStatus(state)
}

func deviceStatus(state gonetworkmanager.NmDeviceState) Status {
	switch state {
	case gonetworkmanager.NmDeviceStateActivated:
		return StatusConnected
	case gonetworkmanager.NmDeviceStatePrepare,
		gonetworkmanager.NmDeviceStateConfig,
		gonetworkmanager.NmDeviceStateNeedAuth,
		gonetworkmanager.NmDeviceStateIpConfig,
		gonetworkmanager.NmDeviceStateIpCheck,
		gonetworkmanager.NmDeviceStateSecondaries:
		return StatusIdle
	case gonetworkmanager.NmDeviceStateUnavailable,
		gonetworkmanager.NmDeviceStateUnmanaged,
		gonetworkmanager.NmDeviceStateDeactivating:
		return StatusConnectionLost
	case gonetworkmanager.NmDeviceStateFailed:
		return StatusConnectFailed
	}
	return StatusDisconnected
}

func (r *NMRadio) Begin(ssid, password, bssid string) error {
	conn, err := stationSettings(r.iface, ssid, password, bssid, r.static)
	if err != nil {
		return err
	}
	if err := r.activate(conn); err != nil {
		return errors.Wrapf(err, "connect to %s", ssid)
	}
	r.mode = ModeStation
	return nil
}

// Config records a static address applied by the next Begin.
func (r *NMRadio) Config(cfg StaticConfig) error {
	if !cfg.Address.IsValid() {
		return errors.New("static config: address required")
	}
	r.static = &cfg
	return nil
}

func (r *NMRadio) Disconnect() error {
	return errors.Wrapf(r.dev.Disconnect(), "disconnect %s", r.iface)
}

func (r *NMRadio) SoftAP(ssid, password string) error {
	if err := r.activate(hotspotSettings(r.iface, ssid, password)); err != nil {
		return errors.Wrapf(err, "start hotspot %s", ssid)
	}
	r.mode = ModeAP
	return nil
}

func (r *NMRadio) SetEnabled(on bool) error {
	return errors.Wrap(r.nm.SetPropertyWirelessEnabled(on), "set wireless enabled")
}

// activate replaces any profile this radio created earlier and brings conn up.
func (r *NMRadio) activate(conn connSettings) error {
	r.deleteProfiles()
	_, err := r.nm.AddAndActivateConnection(conn, r.dev)
	return err
}

func (r *NMRadio) deleteProfiles() {
	s, err := gonetworkmanager.NewSettings()
	if err != nil {
		r.logger.Debug("open settings", zap.Error(err))
		return
	}
	conns, err := s.ListConnections()
	if err != nil {
		r.logger.Debug("list connections", zap.Error(err))
		return
	}
	for _, c := range conns {
		cs, err := c.GetSettings()
		if err != nil {
			continue
		}
		id, _ := cs["connection"]["id"].(string)
		if id != stationProfile && id != hotspotProfile {
			continue
		}
		if err := c.Delete(); err != nil {
			r.logger.Warn("delete stale profile", zap.String("id", id), zap.Error(err))
		}
	}
}

// Scan requests a rescan and blocks until NetworkManager reports it done.
// A refused request, which NetworkManager returns right after another
// scan, falls back to the cached list.
func (r *NMRadio) Scan() ([]Network, error) {
	before, _ := r.dev.GetPropertyLastScan()
	if err := r.dev.RequestScan(); err != nil {
		r.logger.Debug("scan request refused, using cached results", zap.Error(err))
	} else {
		deadline := time.Now().Add(scanTimeout)
		for time.Now().Before(deadline) {
			last, err := r.dev.GetPropertyLastScan()
			if err == nil && last != before {
				break
			}
			time.Sleep(scanPollTick)
		}
	}

	aps, err := r.dev.GetAccessPoints()
	if err != nil {
		return nil, errors.Wrap(err, "list access points")
	}
	nets := make([]Network, 0, len(aps))
	for _, ap := range aps {
		n, err := network(ap)
		if err != nil {
			r.logger.Debug("read access point", zap.Error(err))
			continue
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func network(ap gonetworkmanager.AccessPoint) (Network, error) {
	ssid, err := ap.GetPropertySSID()
	if err != nil {
		return Network{}, err
	}
	bssid, err := ap.GetPropertyHWAddress()
	if err != nil {
		return Network{}, err
	}
	strength, err := ap.GetPropertyStrength()
	if err != nil {
		return Network{}, err
	}
	return Network{SSID: ssid, BSSID: bssid, RSSI: strengthToDBm(strength)}, nil
}

// strengthToDBm converts NetworkManager's 0-100 quality to an approximate dBm.
func strengthToDBm(quality uint8) int {
	return int(quality)/2 - 100
}

// active returns the associated network, if any.
func (r *NMRadio) active() (Network, bool) {
	ap, err := r.dev.GetPropertyActiveAccessPoint()
	if err != nil || ap == nil {
		return Network{}, false
	}
	n, err := network(ap)
	if err != nil {
		r.logger.Debug("active access point", zap.Error(err))
		return Network{}, false
	}
	return n, true
}

func (r *NMRadio) RSSI() int {
	if n, ok := r.active(); ok {
		return n.RSSI
	}
	return -100
}

func (r *NMRadio) BSSID() string {
	n, _ := r.active()
	return n.BSSID
}

func (r *NMRadio) SSID() string {
	n, _ := r.active()
	return n.SSID
}

func (r *NMRadio) LocalIP() string {
	cfg, err := r.dev.GetPropertyIP4Config()
	if err != nil || cfg == nil {
		return ""
	}
	addrs, err := cfg.GetPropertyAddressData()
	if err != nil || len(addrs) == 0 {
		return ""
	}
	return addrs[0].Address
}

// stationSettings builds the station profile. A nil static uses DHCP.
func stationSettings(iface, ssid, password, bssid string, static *StaticConfig) (connSettings, error) {
	wireless := map[string]interface{}{
		"ssid": []byte(ssid),
		"mode": "infrastructure",
	}
	if bssid != "" {
		mac, err := net.ParseMAC(bssid)
		if err != nil {
			return nil, errors.Wrapf(err, "bssid %q", bssid)
		}
		wireless["bssid"] = []byte(mac)
	}

	conn := connSettings{
		"connection": {
			"id":             stationProfile,
			"uuid":           uuid.NewString(),
			"type":           "802-11-wireless",
			"interface-name": iface,
		},
		"802-11-wireless": wireless,
		"ipv4":            ipv4Settings(static),
	}
	if password != "" {
		conn["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			"psk":      password,
		}
	}
	return conn, nil
}

func ipv4Settings(static *StaticConfig) map[string]interface{} {
	if static == nil {
		return map[string]interface{}{"method": "auto"}
	}
	ipv4 := map[string]interface{}{
		"method": "manual",
		"address-data": []map[string]interface{}{{
			"address": static.Address.Addr().String(),
			"prefix":  uint32(static.Address.Bits()),
		}},
	}
	if static.Gateway.IsValid() {
		ipv4["gateway"] = static.Gateway.String()
	}
	var dns []uint32
	for _, a := range []netip.Addr{static.DNS1, static.DNS2} {
		if !a.Is4() {
			continue
		}
		// NetworkManager expects the address bytes in memory order.
		b := a.As4()
		dns = append(dns, binary.NativeEndian.Uint32(b[:]))
	}
	if len(dns) > 0 {
		ipv4["dns"] = dns
	}
	return ipv4
}

// hotspotSettings builds a WPA2 access point sharing the host's uplink.
// An empty password leaves the network open.
func hotspotSettings(iface, ssid, password string) connSettings {
	conn := connSettings{
		"connection": {
			"id":             hotspotProfile,
			"uuid":           uuid.NewString(),
			"type":           "802-11-wireless",
			"interface-name": iface,
			"autoconnect":    false,
		},
		"802-11-wireless": {
			"ssid": []byte(ssid),
			"mode": "ap",
			"band": "bg",
		},
		"ipv4": {"method": "shared"},
		"ipv6": {"method": "ignore"},
	}
	if password != "" {
		conn["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			"psk":      password,
			"proto":    []string{"rsn"},
			"pairwise": []string{"ccmp"},
			"group":    []string{"ccmp"},
		}
	}
	return conn
}
