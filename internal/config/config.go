package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

const (
	configDir  = ".groovyls"
	configName = "config"
	envPrefix  = "GROOVYLS"
)

// Config represents the complete language server configuration
type Config struct {
	Classpath ClasspathConfig `json:"classpath" yaml:"classpath" mapstructure:"classpath"`
	Scopes    ScopesConfig    `json:"scopes" yaml:"scopes" mapstructure:"scopes"`
	Pools     PoolsConfig     `json:"pools" yaml:"pools" mapstructure:"pools"`
	Compile   CompileConfig   `json:"compile" yaml:"compile" mapstructure:"compile"`
	Status    StatusConfig    `json:"status" yaml:"status" mapstructure:"status"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// ClasspathConfig contains classpath resolution settings
type ClasspathConfig struct {
	CacheEnabled            bool     `json:"cacheEnabled" yaml:"cacheEnabled" mapstructure:"cacheEnabled"`
	CachePath               string   `json:"cachePath" yaml:"cachePath" mapstructure:"cachePath"`
	BackfillSiblingProjects bool     `json:"backfillSiblingProjects" yaml:"backfillSiblingProjects" mapstructure:"backfillSiblingProjects"`
	EnabledImporters        []string `json:"enabledImporters" yaml:"enabledImporters" mapstructure:"enabledImporters"`
	GradleCommand           string   `json:"gradleCommand" yaml:"gradleCommand" mapstructure:"gradleCommand"`
	MavenCommand            string   `json:"mavenCommand" yaml:"mavenCommand" mapstructure:"mavenCommand"`
	ImportTimeoutSeconds    int      `json:"importTimeoutSeconds" yaml:"importTimeoutSeconds" mapstructure:"importTimeoutSeconds"`
}

// ScopesConfig contains project scope lifecycle settings
type ScopesConfig struct {
	EvictionTTLSeconds int `json:"evictionTTLSeconds" yaml:"evictionTTLSeconds" mapstructure:"evictionTTLSeconds"`
}

// PoolsConfig sizes the executor pools
type PoolsConfig struct {
	SchedulingWorkers int `json:"schedulingWorkers" yaml:"schedulingWorkers" mapstructure:"schedulingWorkers"`
	ImportWorkers     int `json:"importWorkers" yaml:"importWorkers" mapstructure:"importWorkers"`
	CompileWorkers    int `json:"compileWorkers" yaml:"compileWorkers" mapstructure:"compileWorkers"`
	CompilePermits    int `json:"compilePermits" yaml:"compilePermits" mapstructure:"compilePermits"`
	QueueSize         int `json:"queueSize" yaml:"queueSize" mapstructure:"queueSize"`
}

// CompileConfig contains compilation settings
type CompileConfig struct {
	DebounceMs             int    `json:"debounceMs" yaml:"debounceMs" mapstructure:"debounceMs"`
	FullRecompileThreshold int    `json:"fullRecompileThreshold" yaml:"fullRecompileThreshold" mapstructure:"fullRecompileThreshold"`
	DefaultGroovyVersion   string `json:"defaultGroovyVersion" yaml:"defaultGroovyVersion" mapstructure:"defaultGroovyVersion"`
}

// StatusConfig contains client status reporting settings
type StatusConfig struct {
	MemoryReportSeconds int `json:"memoryReportSeconds" yaml:"memoryReportSeconds" mapstructure:"memoryReportSeconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" mapstructure:"level"`
	Format     string `json:"format" yaml:"format" mapstructure:"format"`
	File       string `json:"file" yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"maxSizeMB" yaml:"maxSizeMB" mapstructure:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups" mapstructure:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"maxAgeDays" mapstructure:"maxAgeDays"`
	Compress   bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
}

// MetricsConfig contains the prometheus endpoint address. Empty disables it.
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// DefaultCompileWorkers is NumCPU capped at 4.
func DefaultCompileWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Classpath: ClasspathConfig{
			CacheEnabled:            true,
			BackfillSiblingProjects: true,
			EnabledImporters:        []string{"gradle", "maven"},
			GradleCommand:           "gradle",
			MavenCommand:            "mvn",
			ImportTimeoutSeconds:    300,
		},
		Scopes: ScopesConfig{
			EvictionTTLSeconds: 600,
		},
		Pools: PoolsConfig{
			SchedulingWorkers: 1,
			ImportWorkers:     2,
			CompileWorkers:    DefaultCompileWorkers(),
			CompilePermits:    1,
			QueueSize:         256,
		},
		Compile: CompileConfig{
			DebounceMs:             300,
			FullRecompileThreshold: 25,
			DefaultGroovyVersion:   "4.0.0",
		},
		Status: StatusConfig{
			MemoryReportSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "human",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("classpath.cacheEnabled", d.Classpath.CacheEnabled)
	v.SetDefault("classpath.cachePath", d.Classpath.CachePath)
	v.SetDefault("classpath.backfillSiblingProjects", d.Classpath.BackfillSiblingProjects)
	v.SetDefault("classpath.enabledImporters", d.Classpath.EnabledImporters)
	v.SetDefault("classpath.gradleCommand", d.Classpath.GradleCommand)
	v.SetDefault("classpath.mavenCommand", d.Classpath.MavenCommand)
	v.SetDefault("classpath.importTimeoutSeconds", d.Classpath.ImportTimeoutSeconds)
	v.SetDefault("scopes.evictionTTLSeconds", d.Scopes.EvictionTTLSeconds)
	v.SetDefault("pools.schedulingWorkers", d.Pools.SchedulingWorkers)
	v.SetDefault("pools.importWorkers", d.Pools.ImportWorkers)
	v.SetDefault("pools.compileWorkers", d.Pools.CompileWorkers)
	v.SetDefault("pools.compilePermits", d.Pools.CompilePermits)
	v.SetDefault("pools.queueSize", d.Pools.QueueSize)
	v.SetDefault("compile.debounceMs", d.Compile.DebounceMs)
	v.SetDefault("compile.fullRecompileThreshold", d.Compile.FullRecompileThreshold)
	v.SetDefault("compile.defaultGroovyVersion", d.Compile.DefaultGroovyVersion)
	v.SetDefault("status.memoryReportSeconds", d.Status.MemoryReportSeconds)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSizeMB", d.Logging.MaxSizeMB)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
	v.SetDefault("logging.maxAgeDays", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// NewViper returns a viper instance preloaded with defaults and the
// GROOVYLS_ environment binding, reading from <workspace>/.groovyls/config.yaml.
func NewViper(workspaceRoot string) *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(workspaceRoot, configDir))

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from .groovyls/config.yaml
func LoadConfig(workspaceRoot string) (*Config, error) {
	return LoadFromViper(NewViper(workspaceRoot), workspaceRoot)
}

// LoadFromViper reads the config file (if any) into v and unmarshals the result.
// Flags bound to v before this call take precedence over file values.
func LoadFromViper(v *viper.Viper, workspaceRoot string) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		// A missing file leaves defaults and env in place
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Classpath.CachePath == "" {
		cfg.Classpath.CachePath = filepath.Join(workspaceRoot, configDir, "classpath.db")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(workspaceRoot, configDir, "logs", "groovyls.log")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to .groovyls/config.yaml
func (c *Config) Save(workspaceRoot string) error {
	dir := filepath.Join(workspaceRoot, configDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, configName+".yaml"), data, 0644)
}

// YAML renders the configuration as it would be saved.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var knownImporters = map[string]bool{"gradle": true, "maven": true}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for _, name := range c.Classpath.EnabledImporters {
		if !knownImporters[name] {
			return &ConfigError{Field: "classpath.enabledImporters", Message: fmt.Sprintf("unknown importer %q", name)}
		}
	}
	if c.Pools.SchedulingWorkers < 1 {
		return &ConfigError{Field: "pools.schedulingWorkers", Message: "must be at least 1"}
	}
	if c.Pools.ImportWorkers < 1 {
		return &ConfigError{Field: "pools.importWorkers", Message: "must be at least 1"}
	}
	if c.Pools.CompileWorkers < 1 {
		return &ConfigError{Field: "pools.compileWorkers", Message: "must be at least 1"}
	}
	if c.Pools.CompilePermits < 1 {
		return &ConfigError{Field: "pools.compilePermits", Message: "must be at least 1"}
	}
	if c.Pools.QueueSize < 1 {
		return &ConfigError{Field: "pools.queueSize", Message: "must be at least 1"}
	}
	if c.Compile.DebounceMs < 0 {
		return &ConfigError{Field: "compile.debounceMs", Message: "must not be negative"}
	}
	if c.Compile.FullRecompileThreshold < 0 {
		return &ConfigError{Field: "compile.fullRecompileThreshold", Message: "must not be negative"}
	}
	if !semver.IsValid("v" + c.Compile.DefaultGroovyVersion) {
		return &ConfigError{Field: "compile.defaultGroovyVersion", Message: fmt.Sprintf("invalid version %q", c.Compile.DefaultGroovyVersion)}
	}
	if c.Scopes.EvictionTTLSeconds < 0 {
		return &ConfigError{Field: "scopes.evictionTTLSeconds", Message: "must not be negative"}
	}
	switch c.Logging.Format {
	case "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
