// Package config resolves the engine's settings through the layered
// precedence spec.md §6 documents: CLI flags override environment
// variables (MEMORY_ prefix), which override the TOML config file,
// which overrides these package's built-in defaults. The TOML file is
// parsed directly with BurntSushi/toml so its values become the
// viper layer beneath flags and env, following the teacher's own
// "TOML is preferred" convention for its formula files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of settings every composition-root component
// reads from, named to match spec.md §6's documented keys.
type Config struct {
	DataDir             string        `mapstructure:"data_dir" toml:"data_dir"`
	SegmentTimeGap      time.Duration `mapstructure:"segment_time_gap" toml:"segment_time_gap"`
	SegmentTokenThreshold int          `mapstructure:"segment_token_threshold" toml:"segment_token_threshold"`
	PipelineBatchSize   int           `mapstructure:"pipeline_batch_size" toml:"pipeline_batch_size"`
	PipelineInterval    time.Duration `mapstructure:"pipeline_interval" toml:"pipeline_interval"`
	SegmenterInterval   time.Duration `mapstructure:"segmenter_interval" toml:"segmenter_interval"`
	TopicExtractInterval time.Duration `mapstructure:"topic_extract_interval" toml:"topic_extract_interval"`
	PrunerInterval      time.Duration `mapstructure:"pruner_interval" toml:"pruner_interval"`
	RankingSalienceEnabled bool       `mapstructure:"ranking_salience_enabled" toml:"ranking_salience_enabled"`
	RankingUsageDecayEnabled bool     `mapstructure:"ranking_usage_decay_enabled" toml:"ranking_usage_decay_enabled"`
	RankingKillSwitch   bool          `mapstructure:"ranking_kill_switch" toml:"ranking_kill_switch"`
	ServiceDefaultTimeout time.Duration `mapstructure:"service_default_timeout" toml:"service_default_timeout"`
	LogLevel            string        `mapstructure:"log_level" toml:"log_level"`
	LogFormat           string        `mapstructure:"log_format" toml:"log_format"`
}

// Defaults matches spec.md §4.5/§4.11/§4.12/§4.13/§4.14/§5's documented
// defaults, wired through a single struct so every component reads from
// one resolved source of truth instead of each re-declaring its own.
func Defaults() Config {
	return Config{
		DataDir:                  "./memoryd-data",
		SegmentTimeGap:           30 * time.Minute,
		SegmentTokenThreshold:    4000,
		PipelineBatchSize:        100,
		PipelineInterval:         2 * time.Second,
		SegmenterInterval:        10 * time.Second,
		TopicExtractInterval:     5 * time.Minute,
		PrunerInterval:           24 * time.Hour,
		RankingSalienceEnabled:   true,
		RankingUsageDecayEnabled: true,
		RankingKillSwitch:        false,
		ServiceDefaultTimeout:    5 * time.Second,
		LogLevel:                "info",
		LogFormat:                "text",
	}
}

// Load resolves Config from, in ascending precedence: built-in
// defaults, the TOML file at path (if it exists), MEMORY_-prefixed
// environment variables, and flags already registered on fs. Pass a
// nil fs to skip the flag layer (e.g. for tests).
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	defaults := Defaults()

	v := viper.New()
	v.SetEnvPrefix("MEMORY")
	v.AutomaticEnv()
	setDefaults(v, defaults)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			var fileCfg Config
			if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
				return Config{}, fmt.Errorf("config: load: parse %s: %w", path, err)
			}
			mergeNonZero(v, fileCfg)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: load: stat %s: %w", path, err)
		}
	}

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return Config{}, fmt.Errorf("config: load: bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: load: unmarshal: %w", err)
	}
	return cfg, nil
}

// RegisterFlags adds the CLI flag layer cmd/memory-daemon's root
// command exposes, named after Config's mapstructure keys with hyphens
// in place of underscores; Load binds each flag under its underscore key.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("data-dir", d.DataDir, "directory holding the engine's SQLite-backed stores")
	fs.Duration("segment-time-gap", d.SegmentTimeGap, "idle gap that forces a new segment boundary")
	fs.Int("segment-token-threshold", d.SegmentTokenThreshold, "token estimate that forces a new segment boundary")
	fs.Int("pipeline-batch-size", d.PipelineBatchSize, "outbox entries dispatched per indexing pipeline micro-batch")
	fs.Duration("pipeline-interval", d.PipelineInterval, "indexing pipeline poll interval")
	fs.Duration("segmenter-interval", d.SegmenterInterval, "segmentation job poll interval")
	fs.Duration("topic-extract-interval", d.TopicExtractInterval, "topic extraction job interval")
	fs.Duration("pruner-interval", d.PrunerInterval, "lifecycle pruner sweep interval")
	fs.Bool("ranking-salience-enabled", d.RankingSalienceEnabled, "apply the salience multiplier during ranking")
	fs.Bool("ranking-usage-decay-enabled", d.RankingUsageDecayEnabled, "apply the usage-decay multiplier during ranking")
	fs.Bool("ranking-kill-switch", d.RankingKillSwitch, "bypass salience/usage-decay and rank by pure similarity")
	fs.Duration("service-default-timeout", d.ServiceDefaultTimeout, "per-call deadline applied when a caller supplies none")
	fs.String("log-level", d.LogLevel, "log/slog level: debug, info, warn, or error")
	fs.String("log-format", d.LogFormat, "log output format: text or json")
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("segment_time_gap", cfg.SegmentTimeGap)
	v.SetDefault("segment_token_threshold", cfg.SegmentTokenThreshold)
	v.SetDefault("pipeline_batch_size", cfg.PipelineBatchSize)
	v.SetDefault("pipeline_interval", cfg.PipelineInterval)
	v.SetDefault("segmenter_interval", cfg.SegmenterInterval)
	v.SetDefault("topic_extract_interval", cfg.TopicExtractInterval)
	v.SetDefault("pruner_interval", cfg.PrunerInterval)
	v.SetDefault("ranking_salience_enabled", cfg.RankingSalienceEnabled)
	v.SetDefault("ranking_usage_decay_enabled", cfg.RankingUsageDecayEnabled)
	v.SetDefault("ranking_kill_switch", cfg.RankingKillSwitch)
	v.SetDefault("service_default_timeout", cfg.ServiceDefaultTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
}

// mergeNonZero layers the TOML file's non-zero fields over v's current
// defaults. Zero-valued fields in the file are treated as "not set"
// rather than an explicit override back to the zero value, since TOML
// has no way to distinguish "absent" from "zero" once decoded.
func mergeNonZero(v *viper.Viper, file Config) {
	if file.DataDir != "" {
		v.SetDefault("data_dir", file.DataDir)
	}
	if file.SegmentTimeGap != 0 {
		v.SetDefault("segment_time_gap", file.SegmentTimeGap)
	}
	if file.SegmentTokenThreshold != 0 {
		v.SetDefault("segment_token_threshold", file.SegmentTokenThreshold)
	}
	if file.PipelineBatchSize != 0 {
		v.SetDefault("pipeline_batch_size", file.PipelineBatchSize)
	}
	if file.PipelineInterval != 0 {
		v.SetDefault("pipeline_interval", file.PipelineInterval)
	}
	if file.SegmenterInterval != 0 {
		v.SetDefault("segmenter_interval", file.SegmenterInterval)
	}
	if file.TopicExtractInterval != 0 {
		v.SetDefault("topic_extract_interval", file.TopicExtractInterval)
	}
	if file.PrunerInterval != 0 {
		v.SetDefault("pruner_interval", file.PrunerInterval)
	}
	if file.ServiceDefaultTimeout != 0 {
		v.SetDefault("service_default_timeout", file.ServiceDefaultTimeout)
	}
	if file.LogLevel != "" {
		v.SetDefault("log_level", file.LogLevel)
	}
	if file.LogFormat != "" {
		v.SetDefault("log_format", file.LogFormat)
	}
	// Bools default false, which is indistinguishable from "file didn't
	// set it" — these three are always taken from the file layer when a
	// file was loaded at all, since mergeNonZero is only called once a
	// file was found.
	v.SetDefault("ranking_salience_enabled", file.RankingSalienceEnabled)
	v.SetDefault("ranking_usage_decay_enabled", file.RankingUsageDecayEnabled)
	v.SetDefault("ranking_kill_switch", file.RankingKillSwitch)
}
