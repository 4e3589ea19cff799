package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Bind      string
	DataDir   string
	StaticDir string

	StoreDriver string

	DryRun         bool
	CommandTimeout time.Duration

	LogLevel  zerolog.Level
	LogPretty bool

	SessionTTL       time.Duration
	SessionSecretEnv string
	SessionSecure    bool

	RebootDelay       time.Duration
	ReconcileSchedule string
	RedirectHTTP      bool

	RateLoginPer15m int
	MetricsEnabled  bool
}

// fileConfig mirrors the YAML layout. Pointers distinguish "unset" from zero.
type fileConfig struct {
	HTTP struct {
		Bind string `yaml:"bind"`
	} `yaml:"http"`
	Data struct {
		Dir string `yaml:"dir"`
	} `yaml:"data"`
	Static struct {
		Dir string `yaml:"dir"`
	} `yaml:"static"`
	Store struct {
		Driver string `yaml:"driver"`
	} `yaml:"store"`
	Commands struct {
		DryRun  *bool  `yaml:"dryRun"`
		Timeout string `yaml:"timeout"`
	} `yaml:"commands"`
	Logging struct {
		Level  string `yaml:"level"`
		Pretty *bool  `yaml:"pretty"`
	} `yaml:"logging"`
	Sessions struct {
		TTL       string `yaml:"ttl"`
		SecretEnv string `yaml:"secretEnv"`
		Secure    *bool  `yaml:"secure"`
	} `yaml:"sessions"`
	Wireless struct {
		RebootDelay       string `yaml:"rebootDelay"`
		ReconcileSchedule string `yaml:"reconcileSchedule"`
		RedirectHTTP      *bool  `yaml:"redirectHTTP"`
	} `yaml:"wireless"`
	Rate struct {
		LoginPer15m int `yaml:"loginPer15m"`
	} `yaml:"rate"`
	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

func Defaults() Config {
	return Config{
		Bind:             "0.0.0.0:8000",
		DataDir:          "./data",
		StaticDir:        "./static",
		StoreDriver:      "badger",
		LogLevel:         zerolog.InfoLevel,
		SessionTTL:       10 * time.Minute,
		SessionSecretEnv: "JWT_SECRET",
		RebootDelay:      5 * time.Second,
		RedirectHTTP:     true,
		RateLoginPer15m:  20,
	}
}

// FromEnv returns defaults overridden by EXTENDER_* variables.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// Load layers defaults, the YAML file at path (when readable) and the
// environment, in that order.
func Load(path string) Config {
	cfg := Defaults()
	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			var fc fileConfig
			if yaml.Unmarshal(b, &fc) == nil {
				applyFile(&cfg, fc)
			}
		}
	}
	applyEnv(&cfg)
	return cfg
}

// Port returns the numeric port of Bind, or 0 when it cannot be parsed.
func (c Config) Port() int {
	i := strings.LastIndexByte(c.Bind, ':')
	if i < 0 {
		return 0
	}
	p, err := strconv.Atoi(c.Bind[i+1:])
	if err != nil {
		return 0
	}
	return p
}

func applyFile(cfg *Config, fc fileConfig) {
	if fc.HTTP.Bind != "" {
		cfg.Bind = fc.HTTP.Bind
	}
	if fc.Data.Dir != "" {
		cfg.DataDir = fc.Data.Dir
	}
	if fc.Static.Dir != "" {
		cfg.StaticDir = fc.Static.Dir
	}
	if fc.Store.Driver != "" {
		cfg.StoreDriver = fc.Store.Driver
	}
	if fc.Commands.DryRun != nil {
		cfg.DryRun = *fc.Commands.DryRun
	}
	if d, ok := parseDuration(fc.Commands.Timeout); ok {
		cfg.CommandTimeout = d
	}
	if l, err := zerolog.ParseLevel(fc.Logging.Level); err == nil && fc.Logging.Level != "" {
		cfg.LogLevel = l
	}
	if fc.Logging.Pretty != nil {
		cfg.LogPretty = *fc.Logging.Pretty
	}
	if d, ok := parseDuration(fc.Sessions.TTL); ok && d > 0 {
		cfg.SessionTTL = d
	}
	if fc.Sessions.SecretEnv != "" {
		cfg.SessionSecretEnv = fc.Sessions.SecretEnv
	}
	if fc.Sessions.Secure != nil {
		cfg.SessionSecure = *fc.Sessions.Secure
	}
	if d, ok := parseDuration(fc.Wireless.RebootDelay); ok {
		cfg.RebootDelay = d
	}
	if fc.Wireless.ReconcileSchedule != "" {
		cfg.ReconcileSchedule = fc.Wireless.ReconcileSchedule
	}
	if fc.Wireless.RedirectHTTP != nil {
		cfg.RedirectHTTP = *fc.Wireless.RedirectHTTP
	}
	if fc.Rate.LoginPer15m > 0 {
		cfg.RateLoginPer15m = fc.Rate.LoginPer15m
	}
	if fc.Metrics.Enabled != nil {
		cfg.MetricsEnabled = *fc.Metrics.Enabled
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EXTENDER_HTTP_BIND"); v != "" {
		cfg.Bind = v
	}
	if v := os.Getenv("EXTENDER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EXTENDER_STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("EXTENDER_STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if b, ok := envBool("EXTENDER_DRY_RUN"); ok {
		cfg.DryRun = b
	}
	if d, ok := parseDuration(os.Getenv("EXTENDER_COMMAND_TIMEOUT")); ok {
		cfg.CommandTimeout = d
	}
	if v := os.Getenv("EXTENDER_LOG"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			cfg.LogLevel = l
		}
	}
	if b, ok := envBool("EXTENDER_LOG_PRETTY"); ok {
		cfg.LogPretty = b
	}
	if d, ok := parseDuration(os.Getenv("EXTENDER_SESSION_TTL")); ok && d > 0 {
		cfg.SessionTTL = d
	}
	if v := os.Getenv("EXTENDER_SESSION_SECRET_ENV"); v != "" {
		cfg.SessionSecretEnv = v
	}
	if b, ok := envBool("EXTENDER_SESSION_SECURE"); ok {
		cfg.SessionSecure = b
	}
	if d, ok := parseDuration(os.Getenv("EXTENDER_REBOOT_DELAY")); ok {
		cfg.RebootDelay = d
	}
	if v, ok := os.LookupEnv("EXTENDER_RECONCILE_SCHEDULE"); ok {
		cfg.ReconcileSchedule = v
	}
	if b, ok := envBool("EXTENDER_REDIRECT_HTTP"); ok {
		cfg.RedirectHTTP = b
	}
	if v := os.Getenv("EXTENDER_RATE_LOGIN_PER_15M"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLoginPer15m = n
		}
	}
	if b, ok := envBool("EXTENDER_METRICS"); ok {
		cfg.MetricsEnabled = b
	}
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func parseDuration(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}
