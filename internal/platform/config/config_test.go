package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.LLM.PollInterval != time.Second {
		t.Errorf("LLM.PollInterval = %v, want 1s", cfg.LLM.PollInterval)
	}
	if len(cfg.LLM.Models) == 0 {
		t.Error("LLM.Models should have defaults")
	}
	if cfg.Tutor.SaveRetries != 3 {
		t.Errorf("Tutor.SaveRetries = %d, want 3", cfg.Tutor.SaveRetries)
	}
	if cfg.Database.ConnLifetime != 30*time.Minute {
		t.Errorf("Database.ConnLifetime = %v, want 30m", cfg.Database.ConnLifetime)
	}
	if cfg.Cache.DialTimeout != 5*time.Second {
		t.Errorf("Cache.DialTimeout = %v, want 5s", cfg.Cache.DialTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TUTOR_SERVER_PORT", "9090")
	t.Setenv("TUTOR_LLM_MODELS", "model-a, model-b ,model-c")
	t.Setenv("TUTOR_LLM_RUN_TIMEOUT", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.LLM.Models) != 3 || cfg.LLM.Models[1] != "model-b" {
		t.Errorf("LLM.Models = %v, want trimmed 3-element list", cfg.LLM.Models)
	}
	if cfg.LLM.RunTimeout != 2*time.Minute {
		t.Errorf("LLM.RunTimeout = %v, want 2m", cfg.LLM.RunTimeout)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("TUTOR_SERVER_PORT", "not-a-number")
	t.Setenv("TUTOR_LLM_POLL_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want fallback 8080", cfg.Server.Port)
	}
	if cfg.LLM.PollInterval != time.Second {
		t.Errorf("LLM.PollInterval = %v, want fallback 1s", cfg.LLM.PollInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"no models", func(c *Config) { c.LLM.Models = nil }, true},
		{"zero poll interval", func(c *Config) { c.LLM.PollInterval = 0 }, true},
		{"timeout below interval", func(c *Config) { c.LLM.RunTimeout = c.LLM.PollInterval / 2 }, true},
		{"negative save retries", func(c *Config) { c.Tutor.SaveRetries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHasLLM(t *testing.T) {
	cfg, _ := Load()
	cfg.LLM.APIKey = ""
	if cfg.HasLLM() {
		t.Error("HasLLM() should be false without an API key")
	}
	cfg.LLM.APIKey = "sk-test"
	if !cfg.HasLLM() {
		t.Error("HasLLM() should be true with an API key")
	}
}
