package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultKeyword is the exact-match sub-field used when neither index.keyword nor the legacy
// extra.elasticSearchKeyword is set.
const DefaultKeyword = "raw"

// LegacyKeywordKey is the key under extra that older deployments used for the keyword sub-field.
const LegacyKeywordKey = "elasticSearchKeyword"

// Config captures the settings of the review daemon and CLI.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Clients ClientsConfig  `yaml:"clients"`
	Index   IndexConfig    `yaml:"index"`
	Extra   map[string]any `yaml:"extra"`
	Queue   QueueConfig    `yaml:"queue"`
	Logging LoggingConfig  `yaml:"logging"`
	Rules   RulesConfig    `yaml:"rules"`
	Cache   CacheConfig    `yaml:"cache"`
}

// ServerConfig controls the admin gRPC and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	HealthInterval  time.Duration `yaml:"healthInterval"`
}

// ClientsConfig groups backend integrations.
type ClientsConfig struct {
	EveBox EveBoxClientConfig `yaml:"evebox"`
}

// EveBoxClientConfig configures access to the EveBox API.
type EveBoxClientConfig struct {
	BaseURL            string        `yaml:"baseURL"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
	RequestsPerSecond  float64       `yaml:"requestsPerSecond"`
	Burst              int           `yaml:"burst"`
}

// IndexConfig describes the event index mapping.
type IndexConfig struct {
	Keyword string `yaml:"keyword"`
}

// QueueConfig bounds concurrent mutations.
type QueueConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls the auto-archive rule pack and its schedule.
type RulesConfig struct {
	Path      string        `yaml:"path"`
	Schedule  string        `yaml:"schedule"`
	TimeRange time.Duration `yaml:"timeRange"`
	Watch     bool          `yaml:"watch"`
	DryRun    bool          `yaml:"dryRun"`
}

// CacheConfig controls caching of single-event lookups.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	EventTTL   time.Duration `yaml:"eventTTL"`
	MaxEntries int           `yaml:"maxEntries"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("EVEBOX_REVIEW_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 4
	}
	return &cfg, nil
}

// Keyword resolves the keyword sub-field. When it falls back to DefaultKeyword, reason says
// why; reason is empty when the value came from configuration.
func (c *Config) Keyword() (keyword string, reason string) {
	if c == nil {
		return DefaultKeyword, "no configuration loaded"
	}
	if kw := strings.TrimSpace(c.Index.Keyword); kw != "" {
		return kw, ""
	}
	raw, ok := c.Extra[LegacyKeywordKey]
	if !ok || raw == nil {
		return DefaultKeyword, "index.keyword and extra." + LegacyKeywordKey + " are not set"
	}
	kw, ok := raw.(string)
	if !ok {
		return DefaultKeyword, fmt.Sprintf("extra.%s has type %T, want string", LegacyKeywordKey, raw)
	}
	if kw = strings.TrimSpace(kw); kw == "" {
		return DefaultKeyword, "extra." + LegacyKeywordKey + " is empty"
	}
	return kw, ""
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			HealthInterval:  30 * time.Second,
		},
		Clients: ClientsConfig{
			EveBox: EveBoxClientConfig{
				BaseURL: "http://localhost:5636",
				Timeout: 10 * time.Second,
			},
		},
		Queue:   QueueConfig{Concurrency: 4},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules: RulesConfig{
			Path:      "configs/rules/auto-archive.yaml",
			Schedule:  "@every 5m",
			TimeRange: 24 * time.Hour,
		},
		Cache: CacheConfig{
			Enabled:    false,
			EventTTL:   time.Minute,
			MaxEntries: 1024,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EVEBOX_REVIEW_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("EVEBOX_REVIEW_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("EVEBOX_REVIEW_EVEBOX_URL"); v != "" {
		cfg.Clients.EveBox.BaseURL = v
	}
	if v := os.Getenv("EVEBOX_REVIEW_EVEBOX_USERNAME"); v != "" {
		cfg.Clients.EveBox.Username = v
	}
	if v := os.Getenv("EVEBOX_REVIEW_EVEBOX_PASSWORD"); v != "" {
		cfg.Clients.EveBox.Password = v
	}
	if v := os.Getenv("EVEBOX_REVIEW_EVEBOX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Clients.EveBox.Timeout = d
		}
	}
	if v := os.Getenv("EVEBOX_REVIEW_EVEBOX_INSECURE"); v != "" {
		cfg.Clients.EveBox.InsecureSkipVerify = parseBool(v)
	}
	if v := os.Getenv("EVEBOX_REVIEW_EVEBOX_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Clients.EveBox.RequestsPerSecond = rps
		}
	}
	if v := os.Getenv("EVEBOX_REVIEW_INDEX_KEYWORD"); v != "" {
		cfg.Index.Keyword = v
	}
	if v := os.Getenv("EVEBOX_REVIEW_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Concurrency = n
		}
	}
	if v := os.Getenv("EVEBOX_REVIEW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EVEBOX_REVIEW_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("EVEBOX_REVIEW_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("EVEBOX_REVIEW_RULES_SCHEDULE"); v != "" {
		cfg.Rules.Schedule = v
	}
	if v := os.Getenv("EVEBOX_REVIEW_RULES_DRY_RUN"); v != "" {
		cfg.Rules.DryRun = parseBool(v)
	}
	if v := os.Getenv("EVEBOX_REVIEW_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("EVEBOX_REVIEW_CACHE_EVENT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.EventTTL = d
		}
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
