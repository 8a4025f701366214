package wifi

// BeginCall records one association request.
type BeginCall struct {
	SSID     string
	Password string
	BSSID    string
}

// FakeRadio is a scriptable Radio for tests. Begin does not change Status;
// tests drive the link by setting CurrentStatus.
type FakeRadio struct {
	CurrentMode   Mode
	CurrentStatus Status
	CurrentRSSI   int
	CurrentBSSID  string
	CurrentSSID   string
	IP            string

	Networks  []Network
	ScanError error
	BeginErr  error
	EnableErr error

	Begins      []BeginCall
	Configs     []StaticConfig
	Disconnects int
	Scans       int
	APs         []BeginCall
	Enables     []bool
}

// NewFakeRadio returns a disconnected station-mode radio.
func NewFakeRadio() *FakeRadio {
	return &FakeRadio{CurrentMode: ModeStation, CurrentStatus: StatusDisconnected, CurrentRSSI: -100}
}

func (f *FakeRadio) Mode() Mode { return f.CurrentMode }
func (f *FakeRadio) Status() Status { return f.CurrentStatus }

func (f *FakeRadio) Begin(ssid, password, bssid string) error {
	f.Begins = append(f.Begins, BeginCall{SSID: ssid, Password: password, BSSID: bssid})
	if f.BeginErr != nil {
		return f.BeginErr
	}
	f.CurrentMode = ModeStation
	return nil
}

func (f *FakeRadio) Config(cfg StaticConfig) error {
	f.Configs = append(f.Configs, cfg)
	return nil
}

func (f *FakeRadio) Disconnect() error {
	f.Disconnects++
	f.CurrentStatus = StatusDisconnected
	return nil
}

func (f *FakeRadio) SoftAP(ssid, password string) error {
	f.APs = append(f.APs, BeginCall{SSID: ssid, Password: password})
	f.CurrentMode = ModeAP
	return nil
}

func (f *FakeRadio) SetEnabled(on bool) error {
	f.Enables = append(f.Enables, on)
	if f.EnableErr != nil {
		return f.EnableErr
	}
	if !on {
		f.CurrentMode = ModeOff
		f.CurrentStatus = StatusDisconnected
	} else if f.CurrentMode == ModeOff {
		f.CurrentMode = ModeStation
	}
	return nil
}

func (f *FakeRadio) Scan() ([]Network, error) {
	f.Scans++
	if f.ScanError != nil {
		return nil, f.ScanError
	}
	return append([]Network(nil), f.Networks...), nil
}

func (f *FakeRadio) RSSI() int { return f.CurrentRSSI }
func (f *FakeRadio) BSSID() string { return f.CurrentBSSID }
func (f *FakeRadio) SSID() string { return f.CurrentSSID }
func (f *FakeRadio) LocalIP() string { return f.IP }

// Associate marks the link up on bssid.
func (f *FakeRadio) Associate(ssid, bssid string, rssi int) {
	f.CurrentMode = ModeStation
	f.CurrentStatus = StatusConnected
	f.CurrentSSID = ssid
	f.CurrentBSSID = bssid
	f.CurrentRSSI = rssi
}
