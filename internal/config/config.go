package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "PARCELDESK"
	defaultHTTPAddress       = "0.0.0.0:3000"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabasePath      = "parcel-desk.db"
	defaultDatabaseTimeout   = 5 * time.Second
	defaultLogLevel          = "info"
	defaultWhatsAppDriver    = "gateway"
	defaultGatewayURL        = "http://127.0.0.1:3001"
	defaultSessionID         = "parcel-desk-notif"
	defaultReconnectDelay    = 5 * time.Second
	defaultMaxReconnectDelay = time.Minute
	defaultRestartDelay      = 3 * time.Second
	defaultAuthFailurePolicy = "fail_closed"
	defaultSendTimeout       = 15 * time.Second
	defaultCountryCode       = "62"
	defaultMinDigits         = 10
	defaultHistorySize       = 10000
	defaultTimezone          = "Asia/Jakarta"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string
	Database    DatabaseConfig
	WhatsApp    WhatsAppConfig
	Notify      NotifyConfig
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver  string
	Path    string
	DSN     string
	Timeout time.Duration
}

// WhatsAppConfig describes the messaging session and its recovery policy.
type WhatsAppConfig struct {
	Driver            string
	GatewayURL        string
	SessionID         string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	RestartDelay      time.Duration
	AuthFailurePolicy string
	SendTimeout       time.Duration
}

// NotifyConfig tunes phone normalization and notification dedup.
type NotifyConfig struct {
	CountryCode           string
	MinDigits             int
	HistorySize           int
	ResetHistoryOnRestart bool
	Timezone              string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("database.timeout", defaultDatabaseTimeout)

	configViper.SetDefault("whatsapp.driver", defaultWhatsAppDriver)
	configViper.SetDefault("whatsapp.gateway_url", defaultGatewayURL)
	configViper.SetDefault("whatsapp.session_id", defaultSessionID)
	configViper.SetDefault("whatsapp.reconnect_delay", defaultReconnectDelay)
	configViper.SetDefault("whatsapp.max_reconnect_delay", defaultMaxReconnectDelay)
	configViper.SetDefault("whatsapp.restart_delay", defaultRestartDelay)
	configViper.SetDefault("whatsapp.auth_failure_policy", defaultAuthFailurePolicy)
	configViper.SetDefault("whatsapp.send_timeout", defaultSendTimeout)

	configViper.SetDefault("notify.country_code", defaultCountryCode)
	configViper.SetDefault("notify.min_digits", defaultMinDigits)
	configViper.SetDefault("notify.history_size", defaultHistorySize)
	configViper.SetDefault("notify.reset_history_on_restart", true)
	configViper.SetDefault("notify.timezone", defaultTimezone)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		LogLevel:    configViper.GetString("log.level"),
		Database: DatabaseConfig{
			Driver:  strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:    configViper.GetString("database.path"),
			DSN:     configViper.GetString("database.dsn"),
			Timeout: configViper.GetDuration("database.timeout"),
		},
		WhatsApp: WhatsAppConfig{
			Driver:            strings.ToLower(strings.TrimSpace(configViper.GetString("whatsapp.driver"))),
			GatewayURL:        configViper.GetString("whatsapp.gateway_url"),
			SessionID:         configViper.GetString("whatsapp.session_id"),
			ReconnectDelay:    configViper.GetDuration("whatsapp.reconnect_delay"),
			MaxReconnectDelay: configViper.GetDuration("whatsapp.max_reconnect_delay"),
			RestartDelay:      configViper.GetDuration("whatsapp.restart_delay"),
			AuthFailurePolicy: strings.ToLower(strings.TrimSpace(configViper.GetString("whatsapp.auth_failure_policy"))),
			SendTimeout:       configViper.GetDuration("whatsapp.send_timeout"),
		},
		Notify: NotifyConfig{
			CountryCode:           strings.TrimSpace(configViper.GetString("notify.country_code")),
			MinDigits:             configViper.GetInt("notify.min_digits"),
			HistorySize:           configViper.GetInt("notify.history_size"),
			ResetHistoryOnRestart: configViper.GetBool("notify.reset_history_on_restart"),
			Timezone:              configViper.GetString("notify.timezone"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// Location resolves the configured notification time zone.
func (c NotifyConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database.timeout must be positive")
	}

	switch c.WhatsApp.Driver {
	case "gateway":
		if strings.TrimSpace(c.WhatsApp.GatewayURL) == "" {
			return fmt.Errorf("whatsapp.gateway_url is required for the gateway driver")
		}
		if strings.TrimSpace(c.WhatsApp.SessionID) == "" {
			return fmt.Errorf("whatsapp.session_id is required for the gateway driver")
		}
	case "console":
	default:
		return fmt.Errorf("whatsapp.driver must be gateway or console, got %q", c.WhatsApp.Driver)
	}
	switch c.WhatsApp.AuthFailurePolicy {
	case "fail_closed", "retry":
	default:
		return fmt.Errorf("whatsapp.auth_failure_policy must be fail_closed or retry, got %q", c.WhatsApp.AuthFailurePolicy)
	}
	for key, value := range map[string]time.Duration{
		"whatsapp.reconnect_delay":     c.WhatsApp.ReconnectDelay,
		"whatsapp.max_reconnect_delay": c.WhatsApp.MaxReconnectDelay,
		"whatsapp.restart_delay":       c.WhatsApp.RestartDelay,
		"whatsapp.send_timeout":        c.WhatsApp.SendTimeout,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.WhatsApp.MaxReconnectDelay < c.WhatsApp.ReconnectDelay {
		return fmt.Errorf("whatsapp.max_reconnect_delay must not be below whatsapp.reconnect_delay")
	}

	if c.Notify.CountryCode == "" || strings.Trim(c.Notify.CountryCode, "0123456789") != "" {
		return fmt.Errorf("notify.country_code must be digits, got %q", c.Notify.CountryCode)
	}
	if c.Notify.MinDigits < 1 {
		return fmt.Errorf("notify.min_digits must be at least 1")
	}
	if c.Notify.HistorySize < 1 {
		return fmt.Errorf("notify.history_size must be at least 1")
	}
	if _, err := c.Notify.Location(); err != nil {
		return fmt.Errorf("notify.timezone is invalid: %w", err)
	}
	return nil
}
