package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Checkout  CheckoutConfig  `mapstructure:"checkout"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CheckoutConfig holds the lane's pricing and recognition policy
type CheckoutConfig struct {
	LaneID              string  `mapstructure:"lane_id"`
	TaxRate             float64 `mapstructure:"tax_rate"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	DefaultConfidence   float64 `mapstructure:"default_confidence"`
	MaxAlternatives     int     `mapstructure:"max_alternatives"`
	ReverifyAgePerUnit  bool    `mapstructure:"reverify_age_per_unit"`
	MaxLineQuantity     int     `mapstructure:"max_line_quantity"`
}

// DetectorConfig holds the detection simulator timing
type DetectorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// CatalogConfig points at the product catalog file
type CatalogConfig struct {
	Path string `mapstructure:"path"` // empty uses the embedded seed catalog
}

// PaymentConfig holds the payment terminal configuration
type PaymentConfig struct {
	Methods []string `mapstructure:"methods"`
}

// MQTTConfig holds store monitoring broker configuration
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PerIP int `mapstructure:"per_ip"` // requests per minute, 0 disables
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/visionlane/")

	// Environment variable settings
	v.SetEnvPrefix("VISIONLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; env vars and defaults are enough
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read config file")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, eris.Wrap(err, "config: decode")
	}

	if err := validate(&config); err != nil {
		return nil, eris.Wrap(err, "config: invalid configuration")
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*"})

	// Checkout defaults
	v.SetDefault("checkout.lane_id", "lane-1")
	v.SetDefault("checkout.tax_rate", 0.06)
	v.SetDefault("checkout.confidence_threshold", 0.75)
	v.SetDefault("checkout.default_confidence", 0.95)
	v.SetDefault("checkout.max_alternatives", 2)
	v.SetDefault("checkout.reverify_age_per_unit", false)
	v.SetDefault("checkout.max_line_quantity", 99)

	// Detector defaults
	v.SetDefault("detector.enabled", true)
	v.SetDefault("detector.interval", "3500ms")
	v.SetDefault("detector.min_delay", "300ms")
	v.SetDefault("detector.max_delay", "1300ms")

	v.SetDefault("catalog.path", "")

	v.SetDefault("payment.methods", []string{"cash", "card", "ewallet", "points"})

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost:1883")
	v.SetDefault("mqtt.client_id", "visionlane")
	v.SetDefault("mqtt.topic", "visionlane/events")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("ratelimit.per_ip", 120)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// validate validates the configuration
func validate(config *Config) error {
	c := config.Checkout
	if c.TaxRate < 0 || c.TaxRate > 1 {
		return eris.Errorf("checkout tax_rate must be between 0 and 1, got: %v", c.TaxRate)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return eris.Errorf("checkout confidence_threshold must be between 0 and 1, got: %v", c.ConfidenceThreshold)
	}
	if c.DefaultConfidence < 0 || c.DefaultConfidence > 1 {
		return eris.Errorf("checkout default_confidence must be between 0 and 1, got: %v", c.DefaultConfidence)
	}
	if c.MaxAlternatives < 0 {
		return eris.Errorf("checkout max_alternatives must not be negative, got: %d", c.MaxAlternatives)
	}
	if c.MaxLineQuantity <= 0 {
		return eris.Errorf("checkout max_line_quantity must be positive, got: %d", c.MaxLineQuantity)
	}

	d := config.Detector
	if d.Interval <= 0 {
		return eris.Errorf("detector interval must be positive, got: %s", d.Interval)
	}
	if d.MinDelay < 0 || d.MinDelay > d.MaxDelay {
		return eris.Errorf("detector delays must satisfy 0 <= min_delay <= max_delay, got: %s..%s", d.MinDelay, d.MaxDelay)
	}

	if len(config.Payment.Methods) == 0 {
		return eris.New("at least one payment method is required")
	}

	if config.MQTT.Enabled && config.MQTT.Broker == "" {
		return eris.New("mqtt broker is required when mqtt is enabled")
	}
	if config.MQTT.QoS < 0 || config.MQTT.QoS > 2 {
		return eris.Errorf("mqtt qos must be 0, 1 or 2, got: %d", config.MQTT.QoS)
	}

	if config.RateLimit.PerIP < 0 {
		return eris.Errorf("ratelimit per_ip must not be negative, got: %d", config.RateLimit.PerIP)
	}

	if config.Log.Format != "json" && config.Log.Format != "console" {
		return eris.Errorf("log format must be 'json' or 'console', got: %s", config.Log.Format)
	}

	return nil
}

// InitLogger builds the global zap logger from the log configuration
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
