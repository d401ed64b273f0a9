// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/pktstack/internal/core"
	"firestige.xyz/pktstack/internal/reassembly"
	"firestige.xyz/pktstack/internal/sink"
	"firestige.xyz/pktstack/internal/source"
)

// Config is the static configuration, found under the `pktstack:` root key.
type Config struct {
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Reassembly ReassemblyConfig `mapstructure:"reassembly" yaml:"reassembly"`
	Source     SourceConfig     `mapstructure:"source" yaml:"source"`
	Sink       SinkConfig       `mapstructure:"sink" yaml:"sink"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig lists log destinations besides stderr.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Reassembly ───

// ReassemblyConfig configures IPv4 fragment and TCP stream reassembly.
type ReassemblyConfig struct {
	IP     IPReassemblyConfig     `mapstructure:"ip" yaml:"ip"`
	Stream StreamReassemblyConfig `mapstructure:"stream" yaml:"stream"`
}

// IPReassemblyConfig controls IP fragment reassembly.
type IPReassemblyConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxFragments    int           `mapstructure:"max_fragments" yaml:"max_fragments"`
	MaxSize         int           `mapstructure:"max_size" yaml:"max_size"`
	MaxFragsPerIP   int           `mapstructure:"max_frags_per_ip" yaml:"max_frags_per_ip"` // 0 = unlimited
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`
}

func (c IPReassemblyConfig) FragmentConfig() reassembly.FragmentConfig {
	return reassembly.FragmentConfig{
		MaxFragments:    c.MaxFragments,
		MaxSize:         c.MaxSize,
		Timeout:         c.Timeout,
		MaxFragsPerIP:   c.MaxFragsPerIP,
		RateLimitWindow: c.RateLimitWindow,
	}
}

// StreamReassemblyConfig controls TCP stream reassembly.
type StreamReassemblyConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxStreams int           `mapstructure:"max_streams" yaml:"max_streams"`
	MaxBytes   int           `mapstructure:"max_bytes" yaml:"max_bytes"`
}

func (c StreamReassemblyConfig) StreamConfig() reassembly.StreamConfig {
	return reassembly.StreamConfig{
		Timeout:    c.Timeout,
		MaxStreams: c.MaxStreams,
		MaxBytes:   c.MaxBytes,
	}
}

// ─── Source & Sink ───

// SourceConfig selects the frames read from capture files.
type SourceConfig struct {
	Protocols []string `mapstructure:"protocols" yaml:"protocols"`
	Host      string   `mapstructure:"host" yaml:"host"`
	SnapLen   int      `mapstructure:"snap_len" yaml:"snap_len"`
}

func (c SourceConfig) FilterConfig() source.FilterConfig {
	return source.FilterConfig{Protocols: c.Protocols, Host: c.Host, SnapLen: c.SnapLen}
}

// SinkConfig configures where reassembled streams go. An empty Dir prints a
// summary per stream instead of writing files.
type SinkConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Compression string `mapstructure:"compression" yaml:"compression"` // none / zstd / s2 / lz4
}

func (c SinkConfig) FileConfig() sink.FileConfig {
	return sink.FileConfig{Dir: c.Dir, Compression: c.Compression}
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `pktstack: ...`.
type configRoot struct {
	Pktstack Config `mapstructure:"pktstack"`
}

// Load loads configuration from file. An empty path yields the defaults.
// Environment variables override file values through the key replacer, e.g.
// key "pktstack.log.level" → env "PKTSTACK_LOG_LEVEL".
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Pktstack

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "pktstack." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("pktstack.log.level", "info")
	v.SetDefault("pktstack.log.format", "text")
	v.SetDefault("pktstack.log.outputs.file.enabled", false)
	v.SetDefault("pktstack.log.outputs.file.path", "/var/log/pktstack/pktstack.log")
	v.SetDefault("pktstack.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("pktstack.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("pktstack.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("pktstack.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("pktstack.metrics.enabled", false)
	v.SetDefault("pktstack.metrics.listen", ":9091")
	v.SetDefault("pktstack.metrics.path", "/metrics")

	// Reassembly defaults
	v.SetDefault("pktstack.reassembly.ip.timeout", "60s")
	v.SetDefault("pktstack.reassembly.ip.max_fragments", 100)
	v.SetDefault("pktstack.reassembly.ip.max_size", 65535)
	v.SetDefault("pktstack.reassembly.ip.max_frags_per_ip", 0)
	v.SetDefault("pktstack.reassembly.ip.rate_limit_window", "10s")
	v.SetDefault("pktstack.reassembly.stream.timeout", "120s")
	v.SetDefault("pktstack.reassembly.stream.max_streams", 4096)
	v.SetDefault("pktstack.reassembly.stream.max_bytes", 16<<20)

	// Source defaults
	v.SetDefault("pktstack.source.protocols", []string{"tcp", "udp"})
	v.SetDefault("pktstack.source.host", "")
	v.SetDefault("pktstack.source.snap_len", 65535)

	// Sink defaults
	v.SetDefault("pktstack.sink.dir", "")
	v.SetDefault("pktstack.sink.compression", "none")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log level %q (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: log format %q (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics are enabled", core.ErrConfigInvalid)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// ── Reassembly limits ──
	ip := cfg.Reassembly.IP
	if ip.Timeout < 0 || ip.RateLimitWindow < 0 || ip.MaxFragments < 0 || ip.MaxFragsPerIP < 0 {
		return fmt.Errorf("%w: reassembly.ip values must not be negative", core.ErrConfigInvalid)
	}
	if ip.MaxSize < 0 || ip.MaxSize > 65535 {
		return fmt.Errorf("%w: reassembly.ip.max_size %d out of range [0, 65535]", core.ErrConfigInvalid, ip.MaxSize)
	}
	st := cfg.Reassembly.Stream
	if st.Timeout < 0 || st.MaxStreams < 0 || st.MaxBytes < 0 {
		return fmt.Errorf("%w: reassembly.stream values must not be negative", core.ErrConfigInvalid)
	}

	// ── Source filter ──
	if _, err := source.CompileFilter(cfg.Source.FilterConfig()); err != nil {
		return err
	}

	// ── Sink ──
	comp, err := sink.ParseCompression(cfg.Sink.Compression)
	if err != nil {
		return err
	}
	cfg.Sink.Compression = string(comp)

	return nil
}
