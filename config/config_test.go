package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func noEnv(string) string { return "" }

func TestDefaultsValidate(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadFromReader(t *testing.T) {
	yml := `
api:
  base_url: https://api.example.com
  scoring_url: https://score.example.com
  timeout: 10s
practice:
  variant: pronunciation
  module: vowels
  index: 3
  sample_interval: 33ms
audio:
  formats: [wav]
  no_cues: true
metrics:
  addr: ":9464"
`
	cfg, err := LoadFromReader(strings.NewReader(yml), noEnv)
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.API.Timeout != 10*time.Second {
		t.Errorf("timeout = %v", cfg.API.Timeout)
	}
	if cfg.ContentURL() != "https://api.example.com" || cfg.ScoringURL() != "https://score.example.com" {
		t.Errorf("urls = %s %s", cfg.ContentURL(), cfg.ScoringURL())
	}
	if cfg.Practice.Module != "vowels" || cfg.Practice.Index != 3 || cfg.Practice.SampleInterval != 33*time.Millisecond {
		t.Errorf("practice = %+v", cfg.Practice)
	}
	if len(cfg.Audio.Formats) != 1 || !cfg.Audio.NoCues {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Practice.SubmitTimeout != 60*time.Second {
		t.Errorf("default submit timeout lost: %v", cfg.Practice.SubmitTimeout)
	}
}

func TestEmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""), noEnv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Practice.Variant != "speaking" {
		t.Errorf("variant = %q", cfg.Practice.Variant)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("api:\n  base_ulr: x\n"), noEnv)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"PARLEY_API_URL":      "https://env.example.com",
		"PARLEY_TOKEN":        "secret",
		"PARLEY_LOG_PATH":     "/tmp/parley-logs",
		"PARLEY_METRICS_ADDR": "127.0.0.1:9000",
	}
	cfg, err := LoadFromReader(strings.NewReader("api:\n  base_url: https://file.example.com\n"), func(k string) string { return env[k] })
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.BaseURL != "https://env.example.com" {
		t.Errorf("base url = %q", cfg.API.BaseURL)
	}
	if cfg.Auth.Token != "secret" || cfg.Log.Path != "/tmp/parley-logs" || cfg.Metrics.Addr != "127.0.0.1:9000" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	yml := `
api:
  base_url: ftp://nope
practice:
  variant: pronunciation
  index: -1
audio:
  formats: [mp3]
`
	_, err := LoadFromReader(strings.NewReader(yml), noEnv)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"http or https", "practice.module", "practice.index", "audio.formats"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateLevel(t *testing.T) {
	cfg := Default()
	cfg.Practice.Level = "Z9"
	if err := Validate(cfg); err == nil {
		t.Error("invalid level accepted")
	}
	cfg.Practice.Level = "B2"
	if err := Validate(cfg); err != nil {
		t.Errorf("valid level rejected: %v", err)
	}
}

func TestOfflineNeedsNoURL(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = ""
	if err := Validate(cfg); err == nil {
		t.Error("missing url accepted")
	}
	cfg.API.Offline = true
	if err := Validate(cfg); err != nil {
		t.Errorf("offline rejected: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("practice:\n  level: A2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Practice.Level != "A2" {
		t.Errorf("level = %q", cfg.Practice.Level)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestReadSkipsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("practice:\n  variant: pronunciation\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted pronunciation without a module")
	}
	cfg, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	cfg.Practice.Module = "vowels"
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate after override: %v", err)
	}
}

func TestRefreshTokenNeedsTokenURL(t *testing.T) {
	cfg := Default()
	cfg.Auth.RefreshToken = "r"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "token_url") {
		t.Fatalf("err = %v, want token_url error", err)
	}
	cfg.Auth.TokenURL = "https://auth.example.test/token"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestApplyEnvAuth(t *testing.T) {
	cfg := Default()
	env := map[string]string{"PARLEY_REFRESH_TOKEN": "r1", "PARLEY_CLIENT_SECRET": "s1"}
	ApplyEnv(cfg, func(k string) string { return env[k] })
	if cfg.Auth.RefreshToken != "r1" || cfg.Auth.ClientSecret != "s1" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
}
