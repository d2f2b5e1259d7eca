package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/risk"
)

// Config is the full environment-driven configuration. Defaults are layered
// first, then an optional YAML file, then LT_-prefixed environment variables.
type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Security  SecurityConfig  `koanf:"security"`
	Ledgers   LedgersConfig   `koanf:"ledgers"`
	Collector CollectorConfig `koanf:"collector"`
	Risk      risk.Config     `koanf:"risk"`
	Patterns  PatternsConfig  `koanf:"patterns"`
	Evidence  EvidenceConfig  `koanf:"evidence"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Alerting  AlertingConfig  `koanf:"alerting"`
	Intel     IntelConfig     `koanf:"intel"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// TrustedProxy enables X-Forwarded-For client IP extraction
	TrustedProxy bool `koanf:"trusted_proxy"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type SecurityConfig struct {
	JWTSecret   string          `koanf:"jwt_secret"`
	TokenExpiry time.Duration   `koanf:"token_expiry"`
	Issuer      string          `koanf:"issuer"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

// LedgerEndpoint configures one chain's data source.
type LedgerEndpoint struct {
	Chain    string `koanf:"chain"`
	Endpoint string `koanf:"endpoint"`
	APIKey   string `koanf:"api_key"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Enabled  bool   `koanf:"enabled"`
}

type LedgersConfig struct {
	Endpoints []LedgerEndpoint `koanf:"endpoints"`
}

// CollectorConfig holds the recognised collector pool options.
type CollectorConfig struct {
	BatchSize       int           `koanf:"batch_size"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	BackoffBase     time.Duration `koanf:"backoff_base"`
	BackoffMax      time.Duration `koanf:"backoff_max"`
	DegradedAfter   int           `koanf:"degraded_after"`
	ReorgDepth      int64         `koanf:"reorg_depth"`
	QueueCapacity   int           `koanf:"queue_capacity"`
	DrainGracePeriod time.Duration `koanf:"drain_grace_period"`
}

// PatternsConfig holds per-kind detector thresholds.
type PatternsConfig struct {
	PeelMinHops         int           `koanf:"peel_min_hops"`
	PeelMaxPeelRatio    float64       `koanf:"peel_max_peel_ratio"`
	RapidMinHops        int           `koanf:"rapid_min_hops"`
	RapidWindow         time.Duration `koanf:"rapid_window"`
	LayeringMinBranches int           `koanf:"layering_min_branches"`
	LayeringWindow      time.Duration `koanf:"layering_window"`
	BridgeWindow        time.Duration `koanf:"bridge_window"`
	BridgeAmountSlack   float64       `koanf:"bridge_amount_slack"`
	WindowRetention     time.Duration `koanf:"window_retention"`
}

// EvidenceConfig holds vault storage options.
type EvidenceConfig struct {
	RootPath      string `koanf:"root_path"`
	BackupEnabled bool   `koanf:"backup_enabled"`
	BackupPath    string `koanf:"backup_path"`
}

// SchedulerConfig exposes per-job intervals. The sanctions and label sync
// cadences were previously hard-coded; both are configurable here.
type SchedulerConfig struct {
	InitialDelay      time.Duration `koanf:"initial_delay"`
	SanctionsInterval time.Duration `koanf:"sanctions_interval"`
	LabelsInterval    time.Duration `koanf:"labels_interval"`
	FeedInterval      time.Duration `koanf:"feed_interval"`
	RetentionInterval time.Duration `koanf:"retention_interval"`
	RetentionPeriod   time.Duration `koanf:"retention_period"`
}

// FeedConfig describes one external intelligence feed.
type FeedConfig struct {
	Name   string `koanf:"name"`
	URL    string `koanf:"url"`
	Kind   string `koanf:"kind"`
	Source string `koanf:"source"`
}

// IntelConfig holds threat-feed synchronisation options.
type IntelConfig struct {
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	Feeds        []FeedConfig  `koanf:"feeds"`
}

// AlertingConfig holds dispatcher options.
type AlertingConfig struct {
	RequestTimeout time.Duration `koanf:"request_timeout"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
	QueueCapacity  int           `koanf:"queue_capacity"`
}

// Load builds the configuration from defaults, an optional YAML file and
// LT_-prefixed environment variables, in that order of precedence.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	// Config file is optional
	_ = k.Load(file.Provider(configPath), yaml.Parser())

	if err := k.Load(env.Provider("LT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "LT_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}

	return &cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{DB: 0},
		Security: SecurityConfig{
			TokenExpiry: 24 * time.Hour,
			Issuer:      "ledgertrace",
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Collector: CollectorConfig{
			BatchSize:        50,
			PollInterval:     10 * time.Second,
			BackoffBase:      time.Second,
			BackoffMax:       5 * time.Minute,
			DegradedAfter:    3,
			ReorgDepth:       100,
			QueueCapacity:    1024,
			DrainGracePeriod: 15 * time.Second,
		},
		Risk: risk.DefaultConfig(),
		Patterns: PatternsConfig{
			PeelMinHops:         4,
			PeelMaxPeelRatio:    0.3,
			RapidMinHops:        3,
			RapidWindow:         10 * time.Minute,
			LayeringMinBranches: 4,
			LayeringWindow:      time.Hour,
			BridgeWindow:        30 * time.Minute,
			BridgeAmountSlack:   0.02,
			WindowRetention:     24 * time.Hour,
		},
		Evidence: EvidenceConfig{
			RootPath:      "/var/lib/ledgertrace/evidence",
			BackupEnabled: false,
			BackupPath:    "/var/lib/ledgertrace/evidence-backup",
		},
		Scheduler: SchedulerConfig{
			InitialDelay:      30 * time.Second,
			SanctionsInterval: 6 * time.Hour,
			LabelsInterval:    24 * time.Hour,
			FeedInterval:      time.Hour,
			RetentionInterval: 24 * time.Hour,
			RetentionPeriod:   90 * 24 * time.Hour,
		},
		Alerting: AlertingConfig{
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			RetryBackoff:   2 * time.Second,
			QueueCapacity:  512,
		},
		Intel: IntelConfig{
			FetchTimeout: 30 * time.Second,
		},
	}
}
