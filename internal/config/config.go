package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/snipr/internal/locator"
	"github.com/loykin/snipr/internal/logger"
	"github.com/loykin/snipr/internal/proctable"
	"github.com/loykin/snipr/internal/runner"
	"github.com/loykin/snipr/internal/signaller"
	"github.com/loykin/snipr/internal/signals"
)

// Process table backends.
const (
	TablePS     = "ps"
	TableNative = "native"
)

// EnvPrefix namespaces environment overrides, e.g. SNIPR_SIGNAL or
// SNIPR_LOG_LEVEL.
const EnvPrefix = "SNIPR"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Signal            string         `toml:"signal" mapstructure:"signal"`
	Include           []string       `toml:"include" mapstructure:"include"`
	Exclude           []string       `toml:"exclude" mapstructure:"exclude"`
	MemoryGreaterThan int64          `toml:"memory_greater_than" mapstructure:"memory_greater_than"`
	CPUGreaterThan    float64        `toml:"cpu_greater_than" mapstructure:"cpu_greater_than"`
	AliveLongerThan   string         `toml:"alive_longer_than" mapstructure:"alive_longer_than"`
	TargetParent      bool           `toml:"target_parent" mapstructure:"target_parent"`
	DryRun            bool           `toml:"dry_run" mapstructure:"dry_run"`
	VerifiedDispatch  bool           `toml:"verified_dispatch" mapstructure:"verified_dispatch"`
	Table             string         `toml:"table" mapstructure:"table"`
	Log               *LogConfig     `toml:"log" mapstructure:"log"`
	History           *HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics           *MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Timestamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Source     bool   `toml:"source" mapstructure:"source"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Pushgateway string `toml:"pushgateway" mapstructure:"pushgateway"`
	Job         string `toml:"job" mapstructure:"job"`
	Textfile    string `toml:"textfile" mapstructure:"textfile"`
}

// Config is a validated FileConfig, ready to build a signaller.
type Config struct {
	Options           signaller.Options
	Include           []*regexp.Regexp
	Exclude           []*regexp.Regexp
	MemoryGreaterThan int64
	CPUGreaterThan    float64
	AliveLongerThan   int64 // seconds
	Table             string
	Log               logger.Config
	HistoryDSN        string
	Metrics           MetricsConfig
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only reaches keys viper already knows about.
	v.SetDefault("signal", "TERM")
	v.SetDefault("include", []string{})
	v.SetDefault("exclude", []string{})
	v.SetDefault("memory_greater_than", 0)
	v.SetDefault("cpu_greater_than", 0.0)
	v.SetDefault("alive_longer_than", "")
	v.SetDefault("target_parent", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("verified_dispatch", false)
	v.SetDefault("table", TablePS)
	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.pushgateway", "")
	v.SetDefault("metrics.job", "snipr")
	v.SetDefault("metrics.textfile", "")
	return v
}

// Load reads a TOML file. An empty path yields the defaults, still subject to
// SNIPR_* environment overrides.
func Load(path string) (*FileConfig, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &fc, nil
}

// Resolve validates fc: the signal must exist, every pattern must compile,
// thresholds must not be negative and the table kind must be known.
func (fc *FileConfig) Resolve() (*Config, error) {
	if _, err := signals.Lookup(fc.Signal); err != nil {
		return nil, err
	}
	inc, err := compileAll("include", fc.Include)
	if err != nil {
		return nil, err
	}
	exc, err := compileAll("exclude", fc.Exclude)
	if err != nil {
		return nil, err
	}
	if fc.MemoryGreaterThan < 0 {
		return nil, fmt.Errorf("memory_greater_than must not be negative: %d", fc.MemoryGreaterThan)
	}
	if fc.CPUGreaterThan < 0 {
		return nil, fmt.Errorf("cpu_greater_than must not be negative: %g", fc.CPUGreaterThan)
	}
	alive, err := ParseAlive(fc.AliveLongerThan)
	if err != nil {
		return nil, err
	}
	table := strings.ToLower(strings.TrimSpace(fc.Table))
	switch table {
	case "":
		table = TablePS
	case TablePS, TableNative:
	default:
		return nil, fmt.Errorf("unknown table %q (want %s or %s)", fc.Table, TablePS, TableNative)
	}
	logCfg, err := fc.loggerConfig()
	if err != nil {
		return nil, err
	}

	c := &Config{
		Options: signaller.Options{
			Signal:           fc.Signal,
			TargetParent:     fc.TargetParent,
			DryRun:           fc.DryRun,
			VerifiedDispatch: fc.VerifiedDispatch,
		},
		Include:           inc,
		Exclude:           exc,
		MemoryGreaterThan: fc.MemoryGreaterThan,
		CPUGreaterThan:    fc.CPUGreaterThan,
		AliveLongerThan:   alive,
		Table:             table,
		Log:               logCfg,
	}
	if fc.History != nil {
		c.HistoryDSN = strings.TrimSpace(fc.History.DSN)
	}
	if fc.Metrics != nil {
		c.Metrics = *fc.Metrics
	}
	return c, nil
}

func (fc *FileConfig) loggerConfig() (logger.Config, error) {
	cfg := logger.DefaultConfig()
	if fc.Log == nil {
		return cfg, nil
	}
	lvl, err := logger.ParseLevel(fc.Log.Level)
	if err != nil {
		return cfg, err
	}
	format, err := logger.ParseFormat(fc.Log.Format)
	if err != nil {
		return cfg, err
	}
	cfg.Slog = logger.SlogConfig{
		Level:      lvl,
		Format:     format,
		Color:      fc.Log.Color,
		TimeStamps: fc.Log.Timestamps,
		Source:     fc.Log.Source,
	}
	cfg.File = logger.FileConfig{
		Dir:        fc.Log.Dir,
		Path:       fc.Log.File,
		MaxSizeMB:  fc.Log.MaxSizeMB,
		MaxBackups: fc.Log.MaxBackups,
		MaxAgeDays: fc.Log.MaxAgeDays,
		Compress:   fc.Log.Compress,
	}
	return cfg, nil
}

func compileAll(key string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%s pattern %q: %w", key, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// ParseAlive converts an age threshold to seconds. It accepts plain seconds
// ("3600"), Go durations ("1h30m") and ps elapsed form ("1-02:03:04").
func ParseAlive(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("alive_longer_than must not be negative: %d", n)
		}
		return n, nil
	}
	if strings.Contains(s, ":") {
		return locator.ParseSeconds(s), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("alive_longer_than %q: want seconds, a duration or [dd-]hh:mm:ss", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("alive_longer_than must not be negative: %s", s)
	}
	return int64(d / time.Second), nil
}

// NewTable returns the process table backend named by c.Table. r is used by
// the ps backend; nil means local exec.
func (c *Config) NewTable(r runner.CommandRunner) proctable.Table {
	if c.Table == TableNative {
		return proctable.NewNativeTable()
	}
	return proctable.NewPSTable(r)
}

// Apply installs the configured filters on l.
func (c *Config) Apply(l *locator.Locator) {
	for _, re := range c.Include {
		l.Include(re)
	}
	for _, re := range c.Exclude {
		l.Exclude(re)
	}
	if c.MemoryGreaterThan > 0 {
		l.MemoryGreaterThan(c.MemoryGreaterThan)
	}
	if c.CPUGreaterThan > 0 {
		l.CPUGreaterThan(c.CPUGreaterThan)
	}
	if c.AliveLongerThan > 0 {
		l.AliveLongerThan(c.AliveLongerThan)
	}
}
