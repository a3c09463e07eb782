package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigValidateAcceptsDefaults(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-power-of-two resolution", func(c *Config) { c.Resolution = 100 }},
		{"resolution too large", func(c *Config) { c.Resolution = 512 }},
		{"resolution too small", func(c *Config) { c.Resolution = 2 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"zero latent dim", func(c *Config) { c.LatentDim = 0 }},
		{"zero encoding dim", func(c *Config) { c.EncodingDim = 0 }},
		{"inverted channel schedule", func(c *Config) { c.BaseChannels = 8; c.MinChannels = 16 }},
		{"zero inference chunk", func(c *Config) { c.InferenceChunk = 0 }},
		{"unknown loss", func(c *Config) { c.Loss = "wasserstein" }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error, got nil", tc.name)
		}
	}
}

func TestLevelOf(t *testing.T) {
	cases := map[int]int{4: 2, 8: 3, 16: 4, 32: 5, 64: 6, 128: 7, 256: 8}
	for res, want := range cases {
		if got := levelOf(res); got != want {
			t.Errorf("levelOf(%d) = %d, want %d", res, got, want)
		}
	}
}

func TestChannelSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseChannels = 256
	cfg.MinChannels = 16

	// 256 at 4x4, halving per doubling, floored at 16.
	cases := map[int]int{2: 256, 3: 128, 4: 64, 5: 32, 6: 16, 7: 16, 8: 16}
	for level, want := range cases {
		if got := cfg.channelsAt(level); got != want {
			t.Errorf("channelsAt(%d) = %d, want %d", level, got, want)
		}
	}
}

func TestConfigJSONSnapshot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolution = 128
	cfg.Loss = "hinge"

	path := filepath.Join(t.TempDir(), "config.json")
	if err := cfg.SaveJSON(path); err != nil {
		t.Fatalf("SaveJSON failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if loaded.Resolution != 128 || loaded.Loss != "hinge" {
		t.Errorf("snapshot roundtrip mismatch: got resolution=%d loss=%q", loaded.Resolution, loaded.Loss)
	}
	if loaded.Ic != cfg.Ic {
		t.Errorf("snapshot Ic = %v, want %v", loaded.Ic, cfg.Ic)
	}
}
