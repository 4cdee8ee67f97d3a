package config

import (
	"os"
	"testing"
)

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Config{
		HTTP: HTTPConfig{Port: 0},
		Database: DatabaseConfig{
			Driver: "memory",
		},
		Index: IndexConfig{BaseURL: "http://localhost:8983/solr"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingRedisAddrs(t *testing.T) {
	cfg := Config{
		HTTP: HTTPConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver: "redis",
			Addrs:  []string{},
		},
		Index: IndexConfig{BaseURL: "http://localhost:8983/solr"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing redis addrs")
	}
}

func TestValidate_MissingIndexURL(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "memory"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing index base_url")
	}
}

func TestValidate_CacheFloorAboveCeiling(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "memory"},
		Index:    IndexConfig{BaseURL: "http://localhost:8983/solr"},
		QidCache: QidCacheConfig{
			MaxSizeBytes: 50 << 20,
			MinSizeBytes: 100 << 20,
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error when min_size_bytes exceeds max_size_bytes")
	}
}

func TestValidate_WorkerPoolCount(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "memory"},
		Index:    IndexConfig{BaseURL: "http://localhost:8983/solr"},
		Export: ExportConfig{
			WorkerPools: []WorkerPool{{Count: 0, MaxRows: 50000}},
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for non-positive worker pool count")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Database.Driver != "redis" {
		t.Errorf("expected Driver='redis', got %q", cfg.Database.Driver)
	}
	if cfg.Database.KeyPrefix != "occsearch:" {
		t.Errorf("expected KeyPrefix='occsearch:', got %q", cfg.Database.KeyPrefix)
	}
	if cfg.Index.MaxRetries != 6 {
		t.Errorf("expected MaxRetries=6, got %d", cfg.Index.MaxRetries)
	}
	if cfg.Index.RetryWaitMs != 50 {
		t.Errorf("expected RetryWaitMs=50, got %d", cfg.Index.RetryWaitMs)
	}
	if cfg.QidCache.MaxSizeBytes != 100<<20 {
		t.Errorf("expected MaxSizeBytes=%d, got %d", 100<<20, cfg.QidCache.MaxSizeBytes)
	}
	if cfg.QidCache.MinSizeBytes != 50<<20 {
		t.Errorf("expected MinSizeBytes=%d, got %d", 50<<20, cfg.QidCache.MinSizeBytes)
	}
	if cfg.QidCache.LargestCacheable != 5<<20 {
		t.Errorf("expected LargestCacheable=%d, got %d", 5<<20, cfg.QidCache.LargestCacheable)
	}
	if cfg.Export.MaxRows != 500000 {
		t.Errorf("expected MaxRows=500000, got %d", cfg.Export.MaxRows)
	}
	if cfg.Export.BatchSize != 500 {
		t.Errorf("expected BatchSize=500, got %d", cfg.Export.BatchSize)
	}
	if cfg.Export.SplitField != "month" {
		t.Errorf("expected SplitField='month', got %q", cfg.Export.SplitField)
	}
	if len(cfg.Export.WorkerPools) != 1 || cfg.Export.WorkerPools[0].Count != 1 {
		t.Errorf("expected a single default worker pool, got %+v", cfg.Export.WorkerPools)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 120, ShutdownSec: 5},
		Database: DatabaseConfig{Driver: "memory", KeyPrefix: "custom:"},
		Index:    IndexConfig{MaxRetries: 3, RetryWaitMs: 200},
		Export:   ExportConfig{MaxRows: 1000, Workers: 2, SplitField: "year"},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("expected Driver='memory', got %q", cfg.Database.Driver)
	}
	if cfg.Database.KeyPrefix != "custom:" {
		t.Errorf("expected KeyPrefix='custom:', got %q", cfg.Database.KeyPrefix)
	}
	if cfg.Index.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", cfg.Index.MaxRetries)
	}
	if cfg.Export.SplitField != "year" {
		t.Errorf("expected SplitField='year', got %q", cfg.Export.SplitField)
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("OCCSEARCH_TEST_ADDR", "redis-1:6379")
	defer os.Unsetenv("OCCSEARCH_TEST_ADDR")

	in := []byte("addr: ${OCCSEARCH_TEST_ADDR}\nother: ${OCCSEARCH_TEST_MISSING:-fallback}\nempty: ${OCCSEARCH_TEST_MISSING}")
	out := string(expandEnvVars(in))

	expected := "addr: redis-1:6379\nother: fallback\nempty: "
	if out != expected {
		t.Errorf("unexpected expansion:\ngot:  %q\nwant: %q", out, expected)
	}
}

func TestValidateOversizedCacheableEntry(t *testing.T) {
	cfg := &Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "memory"},
		Index:    IndexConfig{BaseURL: "http://localhost:8983/solr"},
		QidCache: QidCacheConfig{
			MaxSizeBytes:     1000,
			MinSizeBytes:     600,
			LargestCacheable: 500,
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when the largest cacheable entry cannot fit above the eviction floor")
	}
}
