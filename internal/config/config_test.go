package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Classpath.CacheEnabled {
		t.Error("classpath cache should be enabled by default")
	}
	if !cfg.Classpath.BackfillSiblingProjects {
		t.Error("sibling backfill should be enabled by default")
	}
	if len(cfg.Classpath.EnabledImporters) != 2 {
		t.Errorf("EnabledImporters = %v, want gradle and maven", cfg.Classpath.EnabledImporters)
	}
	if cfg.Scopes.EvictionTTLSeconds != 600 {
		t.Errorf("EvictionTTLSeconds = %d, want 600", cfg.Scopes.EvictionTTLSeconds)
	}
	if cfg.Pools.SchedulingWorkers != 1 || cfg.Pools.ImportWorkers != 2 || cfg.Pools.CompilePermits != 1 {
		t.Errorf("unexpected pool defaults: %+v", cfg.Pools)
	}
	if cfg.Pools.CompileWorkers < 1 || cfg.Pools.CompileWorkers > 4 {
		t.Errorf("CompileWorkers = %d, want 1..4", cfg.Pools.CompileWorkers)
	}
	if cfg.Compile.DebounceMs != 300 {
		t.Errorf("DebounceMs = %d, want 300", cfg.Compile.DebounceMs)
	}
	if cfg.Compile.FullRecompileThreshold != 25 {
		t.Errorf("FullRecompileThreshold = %d, want 25", cfg.Compile.FullRecompileThreshold)
	}
	if cfg.Compile.DefaultGroovyVersion != "4.0.0" {
		t.Errorf("DefaultGroovyVersion = %q, want 4.0.0", cfg.Compile.DefaultGroovyVersion)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	ws := t.TempDir()

	cfg, err := LoadConfig(ws)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Pools.QueueSize != 256 {
		t.Errorf("QueueSize = %d, want 256", cfg.Pools.QueueSize)
	}
	wantCache := filepath.Join(ws, ".groovyls", "classpath.db")
	if cfg.Classpath.CachePath != wantCache {
		t.Errorf("CachePath = %q, want %q", cfg.Classpath.CachePath, wantCache)
	}
	if !strings.HasSuffix(cfg.Logging.File, filepath.Join("logs", "groovyls.log")) {
		t.Errorf("Logging.File = %q", cfg.Logging.File)
	}
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".groovyls")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	content := `
classpath:
  cacheEnabled: false
  enabledImporters: [gradle]
compile:
  fullRecompileThreshold: 5
pools:
  compilePermits: 2
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(ws)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Classpath.CacheEnabled {
		t.Error("CacheEnabled should be false from file")
	}
	if len(cfg.Classpath.EnabledImporters) != 1 || cfg.Classpath.EnabledImporters[0] != "gradle" {
		t.Errorf("EnabledImporters = %v", cfg.Classpath.EnabledImporters)
	}
	if cfg.Compile.FullRecompileThreshold != 5 {
		t.Errorf("FullRecompileThreshold = %d, want 5", cfg.Compile.FullRecompileThreshold)
	}
	if cfg.Pools.CompilePermits != 2 {
		t.Errorf("CompilePermits = %d, want 2", cfg.Pools.CompilePermits)
	}
	// untouched keys keep defaults
	if cfg.Compile.DebounceMs != 300 {
		t.Errorf("DebounceMs = %d, want 300", cfg.Compile.DebounceMs)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	ws := t.TempDir()
	t.Setenv("GROOVYLS_COMPILE_DEBOUNCEMS", "50")

	cfg, err := LoadConfig(ws)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Compile.DebounceMs != 50 {
		t.Errorf("DebounceMs = %d, want 50 from env", cfg.Compile.DebounceMs)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".groovyls")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("classpath: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(ws); err == nil {
		t.Error("LoadConfig should fail on malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown importer", func(c *Config) { c.Classpath.EnabledImporters = []string{"ant"} }, "classpath.enabledImporters"},
		{"zero permits", func(c *Config) { c.Pools.CompilePermits = 0 }, "pools.compilePermits"},
		{"zero queue", func(c *Config) { c.Pools.QueueSize = 0 }, "pools.queueSize"},
		{"negative threshold", func(c *Config) { c.Compile.FullRecompileThreshold = -1 }, "compile.fullRecompileThreshold"},
		{"bad version", func(c *Config) { c.Compile.DefaultGroovyVersion = "four" }, "compile.defaultGroovyVersion"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			cerr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Validate() = %v, want *ConfigError", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cerr.Field, tt.field)
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	ws := t.TempDir()
	cfg := DefaultConfig()
	cfg.Compile.DebounceMs = 125
	cfg.Metrics.Addr = "127.0.0.1:9464"

	if err := cfg.Save(ws); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadConfig(ws)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Compile.DebounceMs != 125 {
		t.Errorf("DebounceMs = %d, want 125", loaded.Compile.DebounceMs)
	}
	if loaded.Metrics.Addr != "127.0.0.1:9464" {
		t.Errorf("Metrics.Addr = %q", loaded.Metrics.Addr)
	}
}
