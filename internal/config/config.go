// Package config loads process configuration from defaults, an optional YAML
// file, a .env file and DEVICECORE_* environment variables, in rising order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "DEVICECORE"

// Settings backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

type Config struct {
	LogLevel  string        `mapstructure:"log_level"`
	LogFormat string        `mapstructure:"log_format"`
	Tick      time.Duration `mapstructure:"tick"`

	Settings SettingsConfig `mapstructure:"settings"`
	GPIO     GPIOConfig     `mapstructure:"gpio"`
	Modbus   ModbusConfig   `mapstructure:"modbus"`
	WiFi     WiFiConfig     `mapstructure:"wifi"`
	IO       IOConfig       `mapstructure:"io"`
	Alarms   AlarmsConfig   `mapstructure:"alarms"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
}

type SettingsConfig struct {
	Backend   string
	Path      string
	RedisAddr string `mapstructure:"redis_addr"`
	RedisHash string `mapstructure:"redis_hash"`
	RedisDB   int    `mapstructure:"redis_db"`
}

type GPIOConfig struct {
	Chip string
}

// ModbusConfig enables the remote ADC when URL is set.
type ModbusConfig struct {
	URL      string
	UnitID   uint8 `mapstructure:"unit_id"`
	Timeout  time.Duration
	Base     uint16
	Channels int
	Holding  bool
	// Analog outputs are written to holding registers from OutputBase.
	OutputBase uint16 `mapstructure:"output_base"`
	Outputs    int
}

type WiFiConfig struct {
	Enabled   bool
	Interface string
	SSID      string
	Password  string
	// Static switches to a manual IPv4 profile when Address is set.
	Static StaticConfig
	// AP is started instead of a station connection when no SSID is set.
	AP                AccessPointConfig `mapstructure:"ap"`
	ReconnectInterval time.Duration     `mapstructure:"reconnect_interval"`
	AutoRebootMinutes int               `mapstructure:"auto_reboot_minutes"`
	RebootCommand     []string          `mapstructure:"reboot_command"`
	Roaming           RoamingConfig
	MacFilter         string `mapstructure:"mac_filter"`
	MacPriority       string `mapstructure:"mac_priority"`
}

type StaticConfig struct {
	Address string // CIDR, e.g. 192.168.1.40/24
	Gateway string
	DNS1    string `mapstructure:"dns1"`
	DNS2    string `mapstructure:"dns2"`
}

type AccessPointConfig struct {
	SSID     string
	Password string
}

type RoamingConfig struct {
	Enabled     bool
	Threshold   int
	Cooldown    time.Duration
	Improvement int
}

type IOConfig struct {
	StartupWindow time.Duration        `mapstructure:"startup_window"`
	Outputs       []OutputConfig       `mapstructure:"outputs"`
	Inputs        []InputConfig        `mapstructure:"inputs"`
	Analog        []AnalogConfig       `mapstructure:"analog"`
	AnalogOutputs []AnalogOutputConfig `mapstructure:"analog_outputs"`
}

type OutputConfig struct {
	ID        string
	Name      string
	Pin       int
	ActiveLow bool `mapstructure:"active_low"`
	Settings  bool
}

type InputConfig struct {
	ID        string
	Name      string
	Pin       int
	ActiveLow bool `mapstructure:"active_low"`
	PullUp    bool `mapstructure:"pull_up"`
	PullDown  bool `mapstructure:"pull_down"`
	Settings  bool
	// Zero timings keep the classifier defaults.
	Debounce    time.Duration
	LongClick   time.Duration `mapstructure:"long_click"`
	DoubleClick time.Duration `mapstructure:"double_click"`
	// SetupHold starts the access point when the input is held through
	// the startup window.
	SetupHold bool `mapstructure:"setup_hold"`
}

// AnalogConfig mirrors pinio.AnalogInputBinding. Zero scaling fields take
// the 12-bit defaults.
type AnalogConfig struct {
	ID               string
	Name             string
	Pin              int
	RawMin           int     `mapstructure:"raw_min"`
	RawMax           int     `mapstructure:"raw_max"`
	OutMin           float64 `mapstructure:"out_min"`
	OutMax           float64 `mapstructure:"out_max"`
	Unit             string
	Deadband         float64
	MinEventInterval *time.Duration `mapstructure:"min_event_interval"`
	Settings         bool
}

// AnalogOutputConfig mirrors pinio.AnalogOutputBinding. A zero value range
// means 0..100; zero raw_max and dac_max take the DAC defaults.
type AnalogOutputConfig struct {
	ID       string
	Name     string
	Pin      int
	ValueMin float64 `mapstructure:"value_min"`
	ValueMax float64 `mapstructure:"value_max"`
	Unit     string
	Reverse  bool
	RawMax   float64 `mapstructure:"raw_max"`
	DACMax   int     `mapstructure:"dac_max"`
	Settings bool
}

type AlarmsConfig struct {
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	Entries        []AlarmConfig `mapstructure:"entries"`
}

// AlarmConfig declares one threshold alarm over a configured input.
type AlarmConfig struct {
	ID       string
	Name     string
	Kind     string
	Severity string
	// Source is the id of an input (digital kinds) or analog input.
	Source   string
	Disabled bool
	Min      *float64
	Max      *float64
	Settings bool
	// Output is driven on while the alarm is active.
	Output       string
	StayInterval time.Duration `mapstructure:"stay_interval"`
}

type HTTPConfig struct {
	Addr string
}

type MQTTConfig struct {
	Broker     string
	Prefix     string
	ClientID   string `mapstructure:"client_id"`
	Username   string
	Password   string
	BufferSize int `mapstructure:"buffer_size"`
	// Heartbeat publishes a runtime snapshot this often; zero disables it.
	Heartbeat time.Duration
	// PublishAnalog forwards ANALOG_VALUE events, which can be chatty.
	PublishAnalog bool `mapstructure:"publish_analog"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("tick", 10*time.Millisecond)
	v.SetDefault("settings.backend", BackendMemory)
	v.SetDefault("settings.path", "/var/lib/devicecore/settings.yaml")
	v.SetDefault("settings.redis_addr", "localhost:6379")
	v.SetDefault("settings.redis_hash", "devicecore:settings")
	v.SetDefault("gpio.chip", "gpiochip0")
	v.SetDefault("modbus.url", "")
	v.SetDefault("modbus.timeout", time.Second)
	v.SetDefault("modbus.channels", 8)
	v.SetDefault("wifi.enabled", false)
	v.SetDefault("wifi.interface", "wlan0")
	v.SetDefault("wifi.ssid", "")
	v.SetDefault("wifi.password", "")
	v.SetDefault("wifi.reconnect_interval", 10*time.Second)
	v.SetDefault("wifi.reboot_command", []string{"systemctl", "reboot"})
	v.SetDefault("wifi.ap.ssid", "devicecore-setup")
	v.SetDefault("wifi.roaming.threshold", -75)
	v.SetDefault("wifi.roaming.cooldown", 120*time.Second)
	v.SetDefault("wifi.roaming.improvement", 10)
	v.SetDefault("io.startup_window", 10*time.Second)
	v.SetDefault("alarms.update_interval", 1500*time.Millisecond)
	v.SetDefault("http.addr", ":8080")
	// Empty defaults register the keys so env overrides reach Unmarshal.
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.prefix", "devicecore")
	v.SetDefault("mqtt.buffer_size", 256)
	v.SetDefault("mqtt.heartbeat", 15*time.Minute)
}

// Load reads configuration. path overrides CONFIG_FILE; both may be empty.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var alarmKinds = map[string]bool{
	"digital_active":        true,
	"digital_inactive":      true,
	"analog_below":          true,
	"analog_above":          true,
	"analog_outside_window": true,
}

// Validate checks cross references and bounds.
func (c *Config) Validate() error {
	var errs []error
	if c.Tick <= 0 {
		errs = append(errs, errors.New("tick must be > 0"))
	}
	switch c.Settings.Backend {
	case BackendMemory, BackendRedis:
	case BackendFile:
		if c.Settings.Path == "" {
			errs = append(errs, errors.New("settings.path required for file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("settings.backend %q: want memory, file or redis", c.Settings.Backend))
	}
	if c.WiFi.Enabled && c.WiFi.Interface == "" {
		errs = append(errs, errors.New("wifi.interface required"))
	}
	if c.WiFi.MacFilter != "" && c.WiFi.MacPriority != "" {
		errs = append(errs, errors.New("wifi.mac_filter and wifi.mac_priority are mutually exclusive"))
	}

	ids := map[string]string{}
	claim := func(kind, id string) {
		if id == "" {
			errs = append(errs, fmt.Errorf("%s with empty id", kind))
			return
		}
		if prev, ok := ids[id]; ok {
			errs = append(errs, fmt.Errorf("%s %q: id already used by %s", kind, id, prev))
			return
		}
		ids[id] = kind
	}
	for _, o := range c.IO.Outputs {
		claim("output", o.ID)
	}
	for _, in := range c.IO.Inputs {
		claim("input", in.ID)
	}
	for _, a := range c.IO.Analog {
		claim("analog input", a.ID)
	}
	for _, o := range c.IO.AnalogOutputs {
		claim("analog output", o.ID)
		if o.ValueMin > o.ValueMax {
			errs = append(errs, fmt.Errorf("analog output %q: value_min above value_max", o.ID))
		}
	}

	alarmIDs := map[string]bool{}
	for _, a := range c.Alarms.Entries {
		if a.ID == "" || alarmIDs[a.ID] {
			errs = append(errs, fmt.Errorf("alarm %q: empty or duplicate id", a.ID))
			continue
		}
		alarmIDs[a.ID] = true
		if !alarmKinds[a.Kind] {
			errs = append(errs, fmt.Errorf("alarm %q: unknown kind %q", a.ID, a.Kind))
			continue
		}
		want := "analog input"
		if strings.HasPrefix(a.Kind, "digital") {
			want = "input"
		}
		if ids[a.Source] != want {
			errs = append(errs, fmt.Errorf("alarm %q: source %q is not a configured %s", a.ID, a.Source, want))
		}
		if a.Severity != "" && a.Severity != "alarm" && a.Severity != "warning" {
			errs = append(errs, fmt.Errorf("alarm %q: severity %q: want alarm or warning", a.ID, a.Severity))
		}
		if a.Output != "" && ids[a.Output] != "output" {
			errs = append(errs, fmt.Errorf("alarm %q: output %q is not a configured output", a.ID, a.Output))
		}
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.WiFi.Password != "" {
		c.WiFi.Password = "*redacted*"
	}
	if c.WiFi.AP.Password != "" {
		c.WiFi.AP.Password = "*redacted*"
	}
	if c.MQTT.Password != "" {
		c.MQTT.Password = "*redacted*"
	}
	return c
}
