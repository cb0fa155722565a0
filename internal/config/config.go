package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Resolution ResolutionConfig `yaml:"resolution" mapstructure:"resolution"`
	Gate       GateConfig       `yaml:"gate" mapstructure:"gate"`
	Capture    CaptureConfig    `yaml:"capture" mapstructure:"capture"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Stages     StagesConfig     `yaml:"stages" mapstructure:"stages"`
	Meta       MetaConfig       `yaml:"meta" mapstructure:"meta"`
	Dispatch   DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
}

// StoreConfig configures the database backend. For sqlite, DatabaseURL is
// the database file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ResolutionConfig configures CRM contact resolution.
type ResolutionConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	RescueWindow time.Duration `yaml:"rescue_window" mapstructure:"rescue_window"`
	NameRescue   bool          `yaml:"name_rescue" mapstructure:"name_rescue"`
}

// GateConfig configures the stage gate.
type GateConfig struct {
	StaleAfter time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
}

// CaptureConfig configures web and native lead capture.
type CaptureConfig struct {
	DedupWindow time.Duration `yaml:"dedup_window" mapstructure:"dedup_window"`
	Platform    string        `yaml:"platform" mapstructure:"platform"`
	FormName    string        `yaml:"form_name" mapstructure:"form_name"`
}

// NormalizeConfig holds the local phone numbering plan.
type NormalizeConfig struct {
	CountryCode    string `yaml:"country_code" mapstructure:"country_code"`
	NationalLength int    `yaml:"national_length" mapstructure:"national_length"`
	SuffixLength   int    `yaml:"suffix_length" mapstructure:"suffix_length"`
}

// StagesConfig overrides the funnel table. An empty Table keeps the
// built-in stages.
type StagesConfig struct {
	Entry          string        `yaml:"entry" mapstructure:"entry"`
	UnmappedPolicy string        `yaml:"unmapped_policy" mapstructure:"unmapped_policy"`
	Table          []StageConfig `yaml:"table" mapstructure:"table"`
}

// StageConfig maps one CRM tag to an outbound event.
type StageConfig struct {
	Tag     string `yaml:"tag" mapstructure:"tag"`
	Event   string `yaml:"event" mapstructure:"event"`
	Status  string `yaml:"status,omitempty" mapstructure:"status"`
	Website bool   `yaml:"website,omitempty" mapstructure:"website"`
}

// MetaConfig holds Conversions API settings.
type MetaConfig struct {
	PixelID       string        `yaml:"pixel_id" mapstructure:"pixel_id"`
	AccessToken   string        `yaml:"access_token" mapstructure:"access_token"`
	APIVersion    string        `yaml:"api_version" mapstructure:"api_version"`
	BaseURL       string        `yaml:"base_url" mapstructure:"base_url"`
	TestEventCode string        `yaml:"test_event_code" mapstructure:"test_event_code"`
	RateLimit     float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DispatchConfig configures outbound events and the sink circuit breaker.
type DispatchConfig struct {
	LeadEventSource         string  `yaml:"lead_event_source" mapstructure:"lead_event_source"`
	Currency                string  `yaml:"currency" mapstructure:"currency"`
	ConversionValue         float64 `yaml:"conversion_value" mapstructure:"conversion_value"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// RedisConfig enables the shared dispatch lock. An empty Addr keeps locks
// in-process.
type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a real default are registered empty so that
	// AutomaticEnv can still populate them.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("resolution.max_attempts", 5)
	v.SetDefault("resolution.retry_delay", "3s")
	v.SetDefault("resolution.rescue_window", "24h")
	v.SetDefault("resolution.name_rescue", true)
	v.SetDefault("gate.stale_after", "2h")
	v.SetDefault("capture.dedup_window", "24h")
	v.SetDefault("capture.platform", "site_smartcred")
	v.SetDefault("capture.form_name", "Formulario Site")
	v.SetDefault("normalize.country_code", "55")
	v.SetDefault("normalize.national_length", 11)
	v.SetDefault("normalize.suffix_length", 8)
	v.SetDefault("stages.entry", "NOVOS")
	v.SetDefault("stages.unmapped_policy", "drop")
	v.SetDefault("meta.pixel_id", "")
	v.SetDefault("meta.access_token", "")
	v.SetDefault("meta.test_event_code", "")
	v.SetDefault("meta.api_version", "v24.0")
	v.SetDefault("meta.base_url", "https://graph.facebook.com")
	v.SetDefault("meta.rate_limit", 10)
	v.SetDefault("meta.timeout", "30s")
	v.SetDefault("dispatch.lead_event_source", "CRM")
	v.SetDefault("dispatch.currency", "BRL")
	v.SetDefault("dispatch.conversion_value", 10000)
	v.SetDefault("dispatch.circuit_failure_threshold", 5)
	v.SetDefault("dispatch.circuit_reset_secs", 30)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "60s")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
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
