package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/voicebooth/internal/audio"
)

// clearEnv unsets the environment overrides for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"VOICEBOOTH_AUDIO_BACKEND", "VOICEBOOTH_DEBUG"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadFromViper_Defaults(t *testing.T) {
	clearEnv(t)

	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadFromViper(v)
	if err != nil {
		t.Fatalf("LoadFromViper failed: %v", err)
	}
	if cfg.Device.SettleDelay != 60*time.Millisecond {
		t.Errorf("Expected 60ms settle delay, got %v", cfg.Device.SettleDelay)
	}
	if cfg.Recorder.TickInterval != 200*time.Millisecond {
		t.Errorf("Expected 200ms tick, got %v", cfg.Recorder.TickInterval)
	}
	if cfg.Backend() != audio.KindAuto {
		t.Errorf("Expected auto backend, got %v", cfg.Backend())
	}
	if strings.HasPrefix(cfg.Catalog.Dir, "~") {
		t.Errorf("Catalog dir should be expanded, got %q", cfg.Catalog.Dir)
	}
}

func TestLoadFromViper_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "voicebooth.yml")
	content := `
audio:
  backend: mock
device:
  settle_delay: 150ms
media:
  memory_mb: 8
  compression_level: 0
takes:
  prompts_file: /tmp/prompts.txt
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig failed: %v", err)
	}

	cfg, err := LoadFromViper(v)
	if err != nil {
		t.Fatalf("LoadFromViper failed: %v", err)
	}
	if cfg.Backend() != audio.KindMock {
		t.Errorf("Expected mock backend, got %v", cfg.Audio.Backend)
	}
	if cfg.Device.SettleDelay != 150*time.Millisecond {
		t.Errorf("Expected 150ms, got %v", cfg.Device.SettleDelay)
	}
	if cfg.Recorder.TickInterval != 200*time.Millisecond {
		t.Errorf("Unset keys should keep defaults, got %v", cfg.Recorder.TickInterval)
	}

	opts := cfg.MediaOptions()
	if opts.MemoryCapacity != 8<<20 || opts.CompressionLevel != 0 {
		t.Errorf("Unexpected media options: %+v", opts)
	}
	if cfg.Takes.PromptsFile != "/tmp/prompts.txt" {
		t.Errorf("Unexpected prompts file %q", cfg.Takes.PromptsFile)
	}
}

func TestLoadFromViper_Environment(t *testing.T) {
	t.Setenv("VOICEBOOTH_AUDIO_BACKEND", "mock")
	t.Setenv("VOICEBOOTH_DEBUG", "true")

	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadFromViper(v)
	if err != nil {
		t.Fatalf("LoadFromViper failed: %v", err)
	}
	if cfg.Audio.Backend != "mock" || !cfg.Debug {
		t.Errorf("Environment not applied: backend=%q debug=%v", cfg.Audio.Backend, cfg.Debug)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Audio.Backend = "alsa" }},
		{"negative settle", func(c *Config) { c.Device.SettleDelay = -time.Millisecond }},
		{"zero tick", func(c *Config) { c.Recorder.TickInterval = 0 }},
		{"negative memory", func(c *Config) { c.Media.MemoryMB = -1 }},
		{"compression too high", func(c *Config) { c.Media.CompressionLevel = 23 }},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestReadPrompts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.txt")
	content := "# warmup\nFirst prompt\n\n  Second prompt  \n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Takes.PromptsFile = path
	prompts, err := cfg.Prompts()
	if err != nil {
		t.Fatalf("Prompts failed: %v", err)
	}
	if len(prompts) != 2 || prompts[0] != "First prompt" || prompts[1] != "Second prompt" {
		t.Errorf("Unexpected prompts: %q", prompts)
	}

	cfg.Takes.PromptsFile = ""
	if prompts, err := cfg.Prompts(); err != nil || prompts != nil {
		t.Errorf("No file should yield nil prompts, got %q, %v", prompts, err)
	}

	if _, err := ReadPrompts(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Missing prompts file should fail")
	}
}

func TestExampleAndSave(t *testing.T) {
	example := Example()
	for _, key := range []string{"settle_delay: 60ms", "backend: auto", "tick_interval: 200ms"} {
		if !strings.Contains(example, key) {
			t.Errorf("Example config missing %q", key)
		}
	}

	path := filepath.Join(t.TempDir(), "nested", "voicebooth.yml")
	cfg := Default()
	cfg.Audio.Backend = "mock"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("Saved config unreadable: %v", err)
	}
	if v.GetString("audio.backend") != "mock" {
		t.Errorf("Saved backend = %q", v.GetString("audio.backend"))
	}
}
