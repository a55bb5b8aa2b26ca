// Package config loads voicebooth settings from viper and the environment.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/voicebooth/internal/audio"
	"github.com/dgnsrekt/voicebooth/internal/device"
	"github.com/dgnsrekt/voicebooth/internal/media"
	"github.com/dgnsrekt/voicebooth/internal/recorder"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete voicebooth configuration.
type Config struct {
	// Enable debug logging
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Audio    AudioConfig    `yaml:"audio" mapstructure:"audio"`
	Device   DeviceConfig   `yaml:"device" mapstructure:"device"`
	Recorder RecorderConfig `yaml:"recorder" mapstructure:"recorder"`
	Media    MediaConfig    `yaml:"media" mapstructure:"media"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Takes    TakesConfig    `yaml:"takes" mapstructure:"takes"`
}

// AudioConfig selects the audio backend.
type AudioConfig struct {
	// "auto", "hardware" or "mock"
	Backend string `yaml:"backend" mapstructure:"backend"`
}

// DeviceConfig holds device routing settings.
type DeviceConfig struct {
	// Pause after switching from record to playback routing
	SettleDelay time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`
}

// RecorderConfig holds capture settings.
type RecorderConfig struct {
	// How often elapsed time is published while recording
	TickInterval time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`
}

// MediaConfig holds session media store settings.
type MediaConfig struct {
	// Parent of the session scratch directory (system temp dir when empty)
	Dir string `yaml:"dir" mapstructure:"dir"`

	// Memory tier size in MB
	MemoryMB int `yaml:"memory_mb" mapstructure:"memory_mb"`

	// Disk tier size in MB, 0 for unbounded
	DiskMB int `yaml:"disk_mb" mapstructure:"disk_mb"`

	// zstd level for spilled clips, 0 disables compression
	CompressionLevel int `yaml:"compression_level" mapstructure:"compression_level"`
}

// CatalogConfig holds settings for bundled sample clips.
type CatalogConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`

	// Resolve unknown clips to the default sample
	Fallback bool `yaml:"fallback" mapstructure:"fallback"`

	// Reload the catalog when files change
	Watch bool `yaml:"watch" mapstructure:"watch"`
}

// TakesConfig holds recording workflow settings.
type TakesConfig struct {
	// File with one prompt per line; built-in prompts when empty
	PromptsFile string `yaml:"prompts_file" mapstructure:"prompts_file"`
}

// Env holds settings that only come from the environment.
type Env struct {
	Backend string `env:"VOICEBOOTH_AUDIO_BACKEND"`
	Debug   bool   `env:"VOICEBOOTH_DEBUG"`
}

// Default returns the default configuration.
func Default() *Config {
	opts := media.DefaultOptions()
	return &Config{
		Audio:    AudioConfig{Backend: "auto"},
		Device:   DeviceConfig{SettleDelay: device.DefaultSettleDelay},
		Recorder: RecorderConfig{TickInterval: recorder.DefaultTickInterval},
		Media: MediaConfig{
			MemoryMB:         int(opts.MemoryCapacity >> 20),
			DiskMB:           int(opts.DiskCapacity >> 20),
			CompressionLevel: opts.CompressionLevel,
		},
		Catalog: CatalogConfig{
			Dir:      "~/.local/share/voicebooth/catalog",
			Fallback: true,
		},
	}
}

// SetDefaults registers every key with v so environment overrides and
// Unmarshal see them even without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("debug", d.Debug)
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("device.settle_delay", d.Device.SettleDelay)
	v.SetDefault("recorder.tick_interval", d.Recorder.TickInterval)
	v.SetDefault("media.dir", d.Media.Dir)
	v.SetDefault("media.memory_mb", d.Media.MemoryMB)
	v.SetDefault("media.disk_mb", d.Media.DiskMB)
	v.SetDefault("media.compression_level", d.Media.CompressionLevel)
	v.SetDefault("catalog.dir", d.Catalog.Dir)
	v.SetDefault("catalog.fallback", d.Catalog.Fallback)
	v.SetDefault("catalog.watch", d.Catalog.Watch)
	v.SetDefault("takes.prompts_file", d.Takes.PromptsFile)
}

// LoadFromViper builds a validated Config from v and the environment.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	e, err := env.ParseAs[Env]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.ApplyEnv(e)

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug("Configuration loaded",
		"backend", cfg.Audio.Backend,
		"settle_delay", cfg.Device.SettleDelay,
		"catalog", cfg.Catalog.Dir)
	return cfg, nil
}

// ApplyEnv overlays environment-only settings.
func (c *Config) ApplyEnv(e Env) {
	if e.Backend != "" {
		c.Audio.Backend = e.Backend
	}
	if e.Debug {
		c.Debug = true
	}
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Media.Dir, &c.Catalog.Dir, &c.Takes.PromptsFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for values the components cannot use.
func (c *Config) Validate() error {
	if _, err := audio.ParseKind(c.Audio.Backend); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Device.SettleDelay < 0 {
		return fmt.Errorf("%w: device.settle_delay must not be negative", ErrInvalidConfig)
	}
	if c.Recorder.TickInterval <= 0 {
		return fmt.Errorf("%w: recorder.tick_interval must be positive", ErrInvalidConfig)
	}
	if c.Media.MemoryMB < 0 || c.Media.DiskMB < 0 {
		return fmt.Errorf("%w: media sizes must not be negative", ErrInvalidConfig)
	}
	if c.Media.CompressionLevel < 0 || c.Media.CompressionLevel > 22 {
		return fmt.Errorf("%w: media.compression_level must be between 0 and 22", ErrInvalidConfig)
	}
	return nil
}

// Backend returns the parsed audio backend kind.
func (c *Config) Backend() audio.Kind {
	kind, _ := audio.ParseKind(c.Audio.Backend)
	return kind
}

// MediaOptions converts the media settings into store options.
func (c *Config) MediaOptions() media.Options {
	return media.Options{
		Dir:              c.Media.Dir,
		MemoryCapacity:   int64(c.Media.MemoryMB) << 20,
		DiskCapacity:     int64(c.Media.DiskMB) << 20,
		CompressionLevel: c.Media.CompressionLevel,
	}
}

// Prompts reads the prompts file. It returns nil when no file is configured.
func (c *Config) Prompts() ([]string, error) {
	if c.Takes.PromptsFile == "" {
		return nil, nil
	}
	return ReadPrompts(c.Takes.PromptsFile)
}

// ReadPrompts reads one prompt per line, skipping blanks and # comments.
func ReadPrompts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompts: %w", err)
	}
	defer f.Close()

	var prompts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prompts = append(prompts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prompts: %w", err)
	}
	return prompts, nil
}

// Example returns a commented default config file.
func Example() string {
	data, _ := yaml.Marshal(Default())

	header := `# voicebooth configuration
#
# Durations use Go syntax (60ms, 1s). The environment overrides
# audio.backend with VOICEBOOTH_AUDIO_BACKEND and enables debug
# logging with VOICEBOOTH_DEBUG.

`
	return header + string(data)
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info("Saved configuration", "path", path)
	return nil
}
