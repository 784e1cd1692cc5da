package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the triage engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workers   WorkersConfig   `yaml:"workers"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Evidence  EvidenceConfig  `yaml:"evidence"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Responder ResponderConfig `yaml:"responder"`
	Triage    TriageConfig    `yaml:"triage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// WorkersConfig bounds the triage worker pool.
type WorkersConfig struct {
	Parallelism int           `yaml:"parallelism"`
	QueueDepth  int           `yaml:"queueDepth"`
	JobTimeout  time.Duration `yaml:"jobTimeout"`
}

// StoreConfig selects the incident store driver.
type StoreConfig struct {
	Driver     string `yaml:"driver"` // memory or sqlite
	Path       string `yaml:"path"`
	HistoryCap int    `yaml:"historyCap"`
}

// CacheConfig controls the context cache and its optional remote tier.
type CacheConfig struct {
	EntryCap  int           `yaml:"entryCap"`
	SearchTTL time.Duration `yaml:"searchTTL"`
	ThreadTTL time.Duration `yaml:"threadTTL"`
	Redis     RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the optional Redis-backed remote cache provider.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// EvidenceConfig lists local repositories and the optional indexed-search backend.
type EvidenceConfig struct {
	Repos          []RepoConfig      `yaml:"repos"`
	IncludeCommits bool              `yaml:"includeCommits"`
	MaxFileBytes   int64             `yaml:"maxFileBytes"`
	Sourcegraph    SourcegraphConfig `yaml:"sourcegraph"`
}

// RepoConfig names one locally checked-out repository root.
type RepoConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// SourcegraphConfig configures the indexed-search adapter.
type SourcegraphConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ReasoningConfig configures the chat-completions reasoning backend.
type ReasoningConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BaseURL       string        `yaml:"baseURL"`
	APIKey        string        `yaml:"apiKey"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxToolCalls  int           `yaml:"maxToolCalls"`
	SessionBudget time.Duration `yaml:"sessionBudget"`
}

// ResponderConfig controls outbound delivery of finished findings.
type ResponderConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// TriageConfig tunes evidence gathering.
type TriageConfig struct {
	KeywordLimit   int `yaml:"keywordLimit"`
	MaxSnippets    int `yaml:"maxSnippets"`
	SnippetContext int `yaml:"snippetContext"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TRIAGE_CONFIG")
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
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Workers: WorkersConfig{
			Parallelism: 2,
			QueueDepth:  8,
			JobTimeout:  90 * time.Second,
		},
		Store: StoreConfig{
			Driver:     "memory",
			Path:       "triage.db",
			HistoryCap: 20,
		},
		Cache: CacheConfig{
			EntryCap:  512,
			SearchTTL: 5 * time.Minute,
			ThreadTTL: 2 * time.Minute,
		},
		Evidence: EvidenceConfig{
			MaxFileBytes: 1 << 20,
			Sourcegraph:  SourcegraphConfig{Timeout: 15 * time.Second},
		},
		Reasoning: ReasoningConfig{
			Timeout:       30 * time.Second,
			MaxToolCalls:  8,
			SessionBudget: 60 * time.Second,
		},
		Responder: ResponderConfig{Timeout: 10 * time.Second},
		Triage: TriageConfig{
			KeywordLimit:   6,
			MaxSnippets:    8,
			SnippetContext: 3,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func validate(cfg *Config) error {
	if cfg.Workers.Parallelism <= 0 {
		return fmt.Errorf("workers.parallelism must be positive, got %d", cfg.Workers.Parallelism)
	}
	if cfg.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queueDepth must be positive, got %d", cfg.Workers.QueueDepth)
	}
	switch cfg.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.driver must be memory or sqlite, got %q", cfg.Store.Driver)
	}
	if cfg.Store.HistoryCap <= 0 {
		return fmt.Errorf("store.historyCap must be positive, got %d", cfg.Store.HistoryCap)
	}
	if cfg.Reasoning.Enabled && cfg.Reasoning.BaseURL == "" {
		return errors.New("reasoning.baseURL is required when reasoning is enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRIAGE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TRIAGE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("TRIAGE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.Parallelism = n
		}
	}
	if v := os.Getenv("TRIAGE_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.QueueDepth = n
		}
	}
	if v := os.Getenv("TRIAGE_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Workers.JobTimeout = d
		}
	}
	if v := os.Getenv("TRIAGE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("TRIAGE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("TRIAGE_HISTORY_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.HistoryCap = n
		}
	}
	if v := os.Getenv("TRIAGE_CACHE_SEARCH_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.SearchTTL = d
		}
	}
	if v := os.Getenv("TRIAGE_CACHE_THREAD_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ThreadTTL = d
		}
	}
	if v := os.Getenv("TRIAGE_REDIS_URL"); v != "" {
		cfg.Cache.Redis.Enabled = true
		cfg.Cache.Redis.URL = v
	}
	if v := os.Getenv("TRIAGE_REPO_BASE"); v != "" {
		applyRepoBase(cfg, v)
	}
	if v := os.Getenv("TRIAGE_INCLUDE_COMMITS"); v != "" {
		cfg.Evidence.IncludeCommits = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SOURCEGRAPH_URL"); v != "" {
		cfg.Evidence.Sourcegraph.Endpoint = v
	}
	if v := os.Getenv("SOURCEGRAPH_TOKEN"); v != "" {
		cfg.Evidence.Sourcegraph.Token = v
	}
	if v := os.Getenv("TRIAGE_LLM_BASE_URL"); v != "" {
		cfg.Reasoning.Enabled = true
		cfg.Reasoning.BaseURL = v
	}
	if v := os.Getenv("TRIAGE_LLM_API_KEY"); v != "" {
		cfg.Reasoning.APIKey = v
	}
	if v := os.Getenv("TRIAGE_LLM_MODEL"); v != "" {
		cfg.Reasoning.Model = v
	}
	if v := os.Getenv("TRIAGE_LLM_MAX_TOOL_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reasoning.MaxToolCalls = n
		}
	}
	if v := os.Getenv("TRIAGE_LLM_SESSION_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reasoning.SessionBudget = d
		}
	}
	if v := os.Getenv("TRIAGE_RESPONDER_WEBHOOK"); v != "" {
		cfg.Responder.WebhookURL = v
	}
	if v := os.Getenv("TRIAGE_KEYWORD_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Triage.KeywordLimit = n
		}
	}
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

// applyRepoBase registers every immediate subdirectory of base as a
// searchable repo, a shortcut for local development.
func applyRepoBase(cfg *Config, base string) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}
	cfg.Evidence.Repos = cfg.Evidence.Repos[:0]
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		cfg.Evidence.Repos = append(cfg.Evidence.Repos, RepoConfig{
			Name: entry.Name(),
			Path: filepath.Join(base, entry.Name()),
		})
	}
}
