package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr=%q", cfg.Server.Addr)
	}
	if cfg.STT.ModelID != "scribe_v2_realtime" || cfg.STT.SampleRate != 16000 {
		t.Fatalf("stt defaults: %+v", cfg.STT)
	}
	if cfg.Memory.RefreshInterval != 5 || cfg.Memory.MaxSummaryLength != 500 {
		t.Fatalf("memory defaults: %+v", cfg.Memory)
	}
	if cfg.LLM.TimeoutSeconds != 8 {
		t.Fatalf("llm timeout=%d", cfg.LLM.TimeoutSeconds)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  shutdown_grace_seconds: 5
memory:
  enabled: false
  refresh_interval: 7
  max_summary_length: 200
  refresh_wait_seconds: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr=%q", cfg.Server.Addr)
	}
	if cfg.Memory.Enabled || cfg.Memory.RefreshInterval != 7 {
		t.Fatalf("memory: %+v", cfg.Memory)
	}
	// Untouched sections keep defaults.
	if cfg.LLM.Model != "gemini-2.0-flash" {
		t.Fatalf("llm model=%q", cfg.LLM.Model)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "xi-test-key")
	t.Setenv("GEMINI_API_KEY", "gm-test-key")
	t.Setenv("VOICED_ADDR", ":7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.STT.APIKey != "xi-test-key" {
		t.Fatalf("stt api key=%q", cfg.STT.APIKey)
	}
	if cfg.LLM.APIKey != "gm-test-key" {
		t.Fatalf("llm api key=%q", cfg.LLM.APIKey)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("addr=%q", cfg.Server.Addr)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad sample rate", "stt:\n  sample_rate: 8000\n", "sample_rate"},
		{"bad log level", "logging:\n  level: verbose\n", "level"},
		{"zero refresh interval", "memory:\n  refresh_interval: 0\n", "refresh_interval"},
		{"zero llm timeout", "llm:\n  timeout_seconds: 0\n", "timeout_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
