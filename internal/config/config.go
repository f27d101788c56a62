package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GPSD      GPSDConfig      `yaml:"gpsd"`
	Logger    LoggerConfig    `yaml:"logger"`
	Log       LogConfig       `yaml:"log"`
	LED       LEDConfig       `yaml:"led"`
	Display   DisplayConfig   `yaml:"display"`
	ExtraData ExtraDataConfig `yaml:"extradata"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Web       WebConfig       `yaml:"web"`
}

type GPSDConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	IOTimeout   time.Duration `yaml:"io_timeout"`

	// Reconnect defaults to true.
	Reconnect      *bool         `yaml:"reconnect"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	// MaxElapsed 0 retries until shutdown.
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

func (c GPSDConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c GPSDConfig) ReconnectEnabled() bool {
	return c.Reconnect == nil || *c.Reconnect
}

// LoggerConfig drives the fix logging loop.
type LoggerConfig struct {
	Interval time.Duration `yaml:"interval"`
	OutDir   string        `yaml:"out_dir"`
	// Flush after every line; defaults to true.
	Flush *bool `yaml:"flush"`
}

func (c LoggerConfig) FlushEnabled() bool {
	return c.Flush == nil || *c.Flush
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LEDConfig holds GPIO line offsets; 0 or less logs instead of driving a pin.
type LEDConfig struct {
	RedPin   int `yaml:"red_pin"`
	GreenPin int `yaml:"green_pin"`
}

type DisplayConfig struct {
	Driver  string        `yaml:"driver"`
	Refresh time.Duration `yaml:"refresh"`
	I2CBus  string        `yaml:"i2c_bus"`
	Width   int           `yaml:"width"`
	Height  int           `yaml:"height"`
}

func (c DisplayConfig) Enabled() bool { return c.Driver != "none" }

type ExtraDataConfig struct {
	Provider string        `yaml:"provider"`
	Interval time.Duration `yaml:"interval"`
}

type MQTTConfig struct {
	Broker  string        `yaml:"broker"`
	Topic   string        `yaml:"topic"`
	QoS     int           `yaml:"qos"`
	Retain  bool          `yaml:"retain"`
	Timeout time.Duration `yaml:"timeout"`
}

func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

type WebConfig struct {
	Listen string `yaml:"listen"`
}

func (c WebConfig) Enabled() bool { return c.Listen != "" }

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and fills defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.DefaultAndValidate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer (got %q)", key, v)
		}
		*dst = n
		return nil
	}
	seconds := func(key string, dst *time.Duration) error {
		var n int
		if err := integer(key, &n); err != nil {
			return err
		}
		if _, ok := lookup(key); ok {
			*dst = time.Duration(n) * time.Second
		}
		return nil
	}

	str("GPSD_HOST", &cfg.GPSD.Host)
	if err := integer("GPSD_PORT", &cfg.GPSD.Port); err != nil {
		return err
	}
	if err := seconds("GPS_INTERVAL_SEC", &cfg.Logger.Interval); err != nil {
		return err
	}
	str("OUT_DIR", &cfg.Logger.OutDir)
	if v, ok := lookup("FLUSH_FILE"); ok {
		flush := v != "false"
		cfg.Logger.Flush = &flush
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	if err := integer("LED_PIN_RED", &cfg.LED.RedPin); err != nil {
		return err
	}
	if err := integer("LED_PIN_GREEN", &cfg.LED.GreenPin); err != nil {
		return err
	}
	str("DISPLAY_DRIVER", &cfg.Display.Driver)
	if err := seconds("DISPLAY_REFRESH_SEC", &cfg.Display.Refresh); err != nil {
		return err
	}
	str("EXTRADATA_PROVIDER", &cfg.ExtraData.Provider)
	str("MQTT_BROKER", &cfg.MQTT.Broker)
	str("WEB_LISTEN", &cfg.Web.Listen)
	return nil
}

// DefaultAndValidate fills unset fields and rejects invalid ones.
func (cfg *Config) DefaultAndValidate() error {
	if cfg.GPSD.Host == "" {
		cfg.GPSD.Host = "127.0.0.1"
	}
	if cfg.GPSD.Port == 0 {
		cfg.GPSD.Port = 2947
	}
	if cfg.GPSD.Port < 1 || cfg.GPSD.Port > 65535 {
		return fmt.Errorf("gpsd.port must be 1-65535 (got %d)", cfg.GPSD.Port)
	}
	if cfg.GPSD.DialTimeout <= 0 {
		cfg.GPSD.DialTimeout = 5 * time.Second
	}
	if cfg.GPSD.IOTimeout <= 0 {
		cfg.GPSD.IOTimeout = 5 * time.Second
	}
	if cfg.GPSD.BackoffInitial <= 0 {
		cfg.GPSD.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.GPSD.BackoffMax <= 0 {
		cfg.GPSD.BackoffMax = 10 * time.Second
	}
	if cfg.GPSD.BackoffMax < cfg.GPSD.BackoffInitial {
		return fmt.Errorf("gpsd.backoff_max must be >= gpsd.backoff_initial")
	}
	if cfg.GPSD.MaxElapsed < 0 {
		return fmt.Errorf("gpsd.max_elapsed must be >= 0")
	}

	if cfg.Logger.Interval == 0 {
		cfg.Logger.Interval = 5 * time.Second
	}
	if cfg.Logger.Interval < 0 {
		return fmt.Errorf("logger.interval must be > 0")
	}
	if cfg.Logger.OutDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("logger.out_dir: %w", err)
		}
		cfg.Logger.OutDir = wd
	}
	if abs, err := filepath.Abs(cfg.Logger.OutDir); err == nil {
		cfg.Logger.OutDir = abs
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = "warn"
	case "warning":
		cfg.Log.Level = "warn"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "json"
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be 'json' or 'console' (got %q)", cfg.Log.Format)
	}

	cfg.Display.Driver = strings.ToLower(strings.TrimSpace(cfg.Display.Driver))
	if cfg.Display.Driver == "" {
		cfg.Display.Driver = "none"
	}
	if cfg.Display.Refresh < 0 {
		return fmt.Errorf("display.refresh must be >= 0")
	}
	if cfg.Display.Refresh == 0 {
		cfg.Display.Refresh = time.Second
	}
	if cfg.Display.Width < 0 || cfg.Display.Height < 0 {
		return fmt.Errorf("display.width and display.height must be >= 0")
	}

	cfg.ExtraData.Provider = strings.ToLower(strings.TrimSpace(cfg.ExtraData.Provider))
	if cfg.ExtraData.Provider == "" {
		cfg.ExtraData.Provider = "none"
	}
	if cfg.ExtraData.Interval <= 0 {
		cfg.ExtraData.Interval = 5 * time.Second
	}

	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2 (got %d)", cfg.MQTT.QoS)
	}
	if cfg.MQTT.Enabled() {
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = "pizero-gpslog/fix"
		}
		if cfg.MQTT.Timeout <= 0 {
			cfg.MQTT.Timeout = 5 * time.Second
		}
	}

	if cfg.Web.Enabled() {
		if _, _, err := net.SplitHostPort(cfg.Web.Listen); err != nil {
			return fmt.Errorf("web.listen must be host:port (got %q)", cfg.Web.Listen)
		}
	}
	return nil
}
