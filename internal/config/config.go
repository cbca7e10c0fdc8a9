package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// current holds the application configuration; hot reloads swap it.
var current atomic.Pointer[Config]

// Get returns the active configuration, or nil before Init.
func Get() *Config {
	return current.Load()
}

// Config struct is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Widgets  WidgetsConfig  `mapstructure:"widgets"`
}

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Port          string        `mapstructure:"port"`
	SessionSecret string        `mapstructure:"session_secret"`
	RateLimit     uint          `mapstructure:"rate_limit"`
	RateWindow    time.Duration `mapstructure:"rate_window"`
	Production    bool          `mapstructure:"production"`
}

// DatabaseConfig holds database connection settings. Driver is "postgres"
// or "sqlite"; Path is only read by sqlite.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Path     string `mapstructure:"path"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// TrackerConfig identifies the site the engine reports for.
type TrackerConfig struct {
	TrackingID string `mapstructure:"tracking_id"`
	ProjectID  string `mapstructure:"project_id"`
}

// EngineConfig holds the detector thresholds and session timing.
type EngineConfig struct {
	RageClickWindow  time.Duration `mapstructure:"rage_click_window"`
	ScrollStallAfter time.Duration `mapstructure:"scroll_stall_after"`
	IdleAfter        time.Duration `mapstructure:"idle_after"`
	BacktrackDepth   int           `mapstructure:"backtrack_depth"`
	FormChurnLimit   int           `mapstructure:"form_churn_limit"`
	ClickableClasses []string      `mapstructure:"clickable_classes"`
	ThrottleInterval time.Duration `mapstructure:"throttle_interval"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	ReapInterval     time.Duration `mapstructure:"reap_interval"`
}

// DispatchConfig controls how behaviour batches leave the engine.
type DispatchConfig struct {
	Transport    string        `mapstructure:"transport"` // http, mqtt or none
	Endpoint     string        `mapstructure:"endpoint"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	FlushSize    int           `mapstructure:"flush_size"`
	HistoryLimit int           `mapstructure:"history_limit"`
	Compress     bool          `mapstructure:"compress"`
}

// MQTTConfig holds the broker settings for the mqtt transport.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
}

// WidgetsConfig points at the widget definitions file.
type WidgetsConfig struct {
	Path string `mapstructure:"path"`
}

// Transports accepted in dispatch.transport.
const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
	TransportNone = "none"
)

// setDefaults sets the default values for the configuration.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "5050")
	v.SetDefault("server.session_secret", "change-me-in-production")
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("server.rate_window", "1m")
	v.SetDefault("server.production", false)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "db")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "user")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.dbname", "daynight")
	v.SetDefault("database.path", "daynight.db")

	// Logging defaults
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "debug")
	v.SetDefault("logging.max_size", 10)   // 10 MB
	v.SetDefault("logging.max_backups", 3) // Keep 3 backups
	v.SetDefault("logging.max_age", 7)     // 7 days
	v.SetDefault("logging.compress", true) // Compress old logs

	v.SetDefault("tracker.project_id", "default")

	// Engine defaults
	v.SetDefault("engine.rage_click_window", "1s")
	v.SetDefault("engine.scroll_stall_after", "3s")
	v.SetDefault("engine.idle_after", "10s")
	v.SetDefault("engine.backtrack_depth", 20)
	v.SetDefault("engine.form_churn_limit", 5)
	v.SetDefault("engine.clickable_classes", []string{"clickable", "btn"})
	v.SetDefault("engine.throttle_interval", "100ms")
	v.SetDefault("engine.session_ttl", "30m")
	v.SetDefault("engine.reap_interval", "1m")

	// Dispatch defaults
	v.SetDefault("dispatch.transport", TransportHTTP)
	v.SetDefault("dispatch.endpoint", "http://localhost:5050/track-behavior")
	v.SetDefault("dispatch.timeout", "10s")
	v.SetDefault("dispatch.max_attempts", 4) // first attempt plus three retries
	v.SetDefault("dispatch.base_delay", "1s")
	v.SetDefault("dispatch.max_delay", "30s")
	v.SetDefault("dispatch.flush_size", 10)
	v.SetDefault("dispatch.history_limit", 10)
	v.SetDefault("dispatch.compress", false)

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "daynight-engine")
	v.SetDefault("mqtt.topic", "daynight/behavior")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("widgets.path", "config/widgets.yaml")
}

func newViper(projectRoot string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// --- File Configuration ---
	v.AddConfigPath(filepath.Join(projectRoot, "config"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// --- Environment Variable Binding ---
	v.SetEnvPrefix("DAYNIGHT") // e.g., DAYNIGHT_SERVER_PORT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads the configuration under projectRoot without installing it
// globally or watching for changes.
func Load(projectRoot string) (*Config, error) {
	v := newViper(projectRoot)
	// It's okay if the file doesn't exist; defaults and env vars will be used.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Dispatch.Transport {
	case TransportHTTP:
		if c.Dispatch.Endpoint == "" {
			return errors.New("config: dispatch.endpoint is required for the http transport")
		}
	case TransportMQTT:
		if c.MQTT.Broker == "" {
			return errors.New("config: mqtt.broker is required for the mqtt transport")
		}
	case TransportNone:
	default:
		return fmt.Errorf("config: unknown dispatch.transport %q", c.Dispatch.Transport)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

var (
	listenersMu sync.Mutex
	listeners   []func(*Config)
)

// OnReload registers fn to run with the new configuration after every
// successful hot reload.
func OnReload(fn func(*Config)) {
	listenersMu.Lock()
	defer listenersMu.Unlock()
	listeners = append(listeners, fn)
}

// publish installs c and hands it to every reload listener.
func publish(c *Config) {
	current.Store(c)

	listenersMu.Lock()
	fns := slices.Clone(listeners)
	listenersMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Init initializes the global configuration with Viper and watches the
// config file for changes.
func Init(projectRoot string, log *zap.Logger) error {
	v := newViper(projectRoot)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Warn("No config file found, using defaults and environment")
	}

	c, err := decode(v)
	if err != nil {
		return err
	}
	current.Store(c)

	// Set up a watch for configuration changes for hot-reloading
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Configuration file changed, reloading.", zap.String("file", e.Name))
		c, err := decode(v)
		if err != nil {
			log.Error("Error reloading configuration", zap.Error(err))
			return
		}
		publish(c)
	})

	log.Info("Configuration loaded successfully",
		zap.String("transport", c.Dispatch.Transport),
		zap.String("database", c.Database.Driver),
	)
	return nil
}
