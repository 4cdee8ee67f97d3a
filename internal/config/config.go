package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the occsearch API configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Index    IndexConfig    `yaml:"index"`
	QidCache QidCacheConfig `yaml:"qid_cache"`
	Export   ExportConfig   `yaml:"export"`
	Lookup   LookupConfig   `yaml:"lookup"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds permanent-store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, memory (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds occurrence-index connection and retry settings.
type IndexConfig struct {
	BaseURL           string `yaml:"base_url"`
	Collection        string `yaml:"collection"`
	MaxRetries        int    `yaml:"max_retries"`
	RetryWaitMs       int    `yaml:"retry_wait_ms"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// QidCacheConfig holds query-context cache sizing.
type QidCacheConfig struct {
	MaxSizeBytes     int64 `yaml:"max_size_bytes"`
	MinSizeBytes     int64 `yaml:"min_size_bytes"`
	LargestCacheable int64 `yaml:"largest_cacheable_bytes"`
}

// ExportConfig holds bulk-export and offline-queue settings.
type ExportConfig struct {
	Dir           string       `yaml:"dir"`            // completed export files
	QueueDir      string       `yaml:"queue_dir"`      // mirror files for queued jobs
	MaxRows       int64        `yaml:"max_rows"`       // global row cap per export
	BatchSize     int          `yaml:"batch_size"`     // rows per index page
	Workers       int          `yaml:"workers"`        // partition workers per export
	ThrottleMs    int          `yaml:"throttle_ms"`    // inter-page delay for uncapped jobs
	SplitField    string       `yaml:"split_field"`    // low-cardinality partition facet
	WorkerPools   []WorkerPool `yaml:"worker_pools"`   // offline queue consumers
	PollDelayMs   int          `yaml:"poll_delay_ms"`  // queue poll interval
	EnforceQuotas bool         `yaml:"enforce_quotas"` // per-source download quotas
}

// WorkerPool describes one class of offline export worker.
type WorkerPool struct {
	Count   int    `yaml:"count"`
	MaxRows int64  `yaml:"max_rows"` // 0 = any size
	Type    string `yaml:"type"`     // "" = any job type
}

// LookupConfig holds the name-resolution webservice endpoints.
type LookupConfig struct {
	NameMatchingURL string `yaml:"name_matching_url"`
	TimeoutSec      int    `yaml:"timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "occsearch:"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Index.MaxRetries <= 0 {
		c.Index.MaxRetries = 6
	}
	if c.Index.RetryWaitMs <= 0 {
		c.Index.RetryWaitMs = 50
	}
	if c.Index.RequestTimeoutSec <= 0 {
		c.Index.RequestTimeoutSec = 120
	}
	if c.QidCache.MaxSizeBytes <= 0 {
		c.QidCache.MaxSizeBytes = 100 << 20
	}
	if c.QidCache.MinSizeBytes <= 0 {
		c.QidCache.MinSizeBytes = 50 << 20
	}
	if c.QidCache.LargestCacheable <= 0 {
		c.QidCache.LargestCacheable = 5 << 20
	}
	if c.Export.Dir == "" {
		c.Export.Dir = "/data/occsearch/export"
	}
	if c.Export.QueueDir == "" {
		c.Export.QueueDir = "/data/occsearch/queue"
	}
	if c.Export.MaxRows <= 0 {
		c.Export.MaxRows = 500000
	}
	if c.Export.BatchSize <= 0 {
		c.Export.BatchSize = 500
	}
	if c.Export.Workers <= 0 {
		c.Export.Workers = 4
	}
	if c.Export.ThrottleMs <= 0 {
		c.Export.ThrottleMs = 50
	}
	if c.Export.SplitField == "" {
		c.Export.SplitField = "month"
	}
	if c.Export.PollDelayMs <= 0 {
		c.Export.PollDelayMs = 10
	}
	if len(c.Export.WorkerPools) == 0 {
		c.Export.WorkerPools = []WorkerPool{{Count: 1}}
	}
	if c.Lookup.TimeoutSec <= 0 {
		c.Lookup.TimeoutSec = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Database.Driver == "redis" && len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required for the redis driver")
	}
	if c.Index.BaseURL == "" {
		return fmt.Errorf("index.base_url is required")
	}
	if c.QidCache.MinSizeBytes > c.QidCache.MaxSizeBytes {
		return fmt.Errorf("qid_cache.min_size_bytes %d exceeds max_size_bytes %d",
			c.QidCache.MinSizeBytes, c.QidCache.MaxSizeBytes)
	}
	// an entry must fit above the post-eviction floor or admission can
	// never succeed
	if c.QidCache.LargestCacheable > c.QidCache.MaxSizeBytes-c.QidCache.MinSizeBytes {
		return fmt.Errorf("qid_cache.largest_cacheable %d exceeds max_size_bytes-min_size_bytes %d",
			c.QidCache.LargestCacheable, c.QidCache.MaxSizeBytes-c.QidCache.MinSizeBytes)
	}
	for i, wp := range c.Export.WorkerPools {
		if wp.Count <= 0 {
			return fmt.Errorf("export.worker_pools[%d].count must be positive, got %d", i, wp.Count)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
