// Package config loads parley's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Levels are the speaking levels accepted in practice.level.
var Levels = []string{"A1", "A2", "B1", "B2", "C1", "C2"}

type Config struct {
	API      APIConfig      `yaml:"api"`
	Auth     AuthConfig     `yaml:"auth"`
	Practice PracticeConfig `yaml:"practice"`
	Audio    AudioConfig    `yaml:"audio"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type APIConfig struct {
	// BaseURL serves both the content and the scoring endpoints unless
	// they are set separately.
	BaseURL    string        `yaml:"base_url"`
	ContentURL string        `yaml:"content_url"`
	ScoringURL string        `yaml:"scoring_url"`
	Timeout    time.Duration `yaml:"timeout"`
	// Offline uses the built-in catalogue and a local scorer.
	Offline bool `yaml:"offline"`
}

type AuthConfig struct {
	Token string `yaml:"token"`
	// RefreshToken, when set, is exchanged at TokenURL for new access
	// tokens whenever Token is missing or has expired.
	RefreshToken string   `yaml:"refresh_token"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

type PracticeConfig struct {
	Variant        string        `yaml:"variant"`
	Level          string        `yaml:"level"`
	Module         string        `yaml:"module"`
	Index          int           `yaml:"index"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	SubmitTimeout  time.Duration `yaml:"submit_timeout"`
}

type AudioConfig struct {
	Device  string   `yaml:"device"`
	Formats []string `yaml:"formats"`
	NoCues  bool     `yaml:"no_cues"`
}

type LogConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Practice: PracticeConfig{
			Variant:        "speaking",
			SampleInterval: 50 * time.Millisecond,
			SubmitTimeout:  60 * time.Second,
		},
		Audio: AudioConfig{
			Formats: []string{"flac", "wav"},
		},
	}
}

// Load reads the file at path over the defaults. An empty path yields the
// defaults. Environment overrides are applied and the result validated.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply command-line
// overrides before calling Validate.
func Read(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		ApplyEnv(cfg, os.Getenv)
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults, applies overrides
// from getenv and validates the result.
func LoadFromReader(r io.Reader, getenv func(string) string) (*Config, error) {
	cfg, err := decode(r, getenv)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, getenv func(string) string) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, getenv)
	return cfg, nil
}

// ApplyEnv overrides cfg from PARLEY_* variables.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("PARLEY_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := getenv("PARLEY_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := getenv("PARLEY_REFRESH_TOKEN"); v != "" {
		cfg.Auth.RefreshToken = v
	}
	if v := getenv("PARLEY_CLIENT_SECRET"); v != "" {
		cfg.Auth.ClientSecret = v
	}
	if v := getenv("PARLEY_LOG_PATH"); v != "" {
		cfg.Log.Path = v
	}
	if v := getenv("PARLEY_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

// ContentURL returns the content service base URL.
func (c *Config) ContentURL() string {
	if c.API.ContentURL != "" {
		return c.API.ContentURL
	}
	return c.API.BaseURL
}

// ScoringURL returns the scoring service base URL.
func (c *Config) ScoringURL() string {
	if c.API.ScoringURL != "" {
		return c.API.ScoringURL
	}
	return c.API.BaseURL
}

// Validate returns every problem found in cfg, joined.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.API.Offline {
		if cfg.ContentURL() == "" || cfg.ScoringURL() == "" {
			errs = append(errs, errors.New("api.base_url is required unless api.offline is set"))
		}
		for name, u := range map[string]string{"content": cfg.ContentURL(), "scoring": cfg.ScoringURL()} {
			if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
				errs = append(errs, fmt.Errorf("api: %s url %q must be http or https", name, u))
			}
		}
	}
	if cfg.Auth.RefreshToken != "" && cfg.Auth.TokenURL == "" {
		errs = append(errs, errors.New("auth.token_url is required with auth.refresh_token"))
	}
	if cfg.API.Timeout < 0 {
		errs = append(errs, fmt.Errorf("api.timeout %v must not be negative", cfg.API.Timeout))
	}

	switch cfg.Practice.Variant {
	case "speaking":
		if cfg.Practice.Level != "" && !slices.Contains(Levels, cfg.Practice.Level) {
			errs = append(errs, fmt.Errorf("practice.level %q is invalid; valid values: %s", cfg.Practice.Level, strings.Join(Levels, ", ")))
		}
	case "pronunciation":
		if cfg.Practice.Module == "" {
			errs = append(errs, errors.New("practice.module is required for pronunciation practice"))
		}
	default:
		errs = append(errs, fmt.Errorf("practice.variant %q is invalid; valid values: speaking, pronunciation", cfg.Practice.Variant))
	}
	if cfg.Practice.Index < 0 {
		errs = append(errs, fmt.Errorf("practice.index %d must not be negative", cfg.Practice.Index))
	}
	if cfg.Practice.SampleInterval < 0 || cfg.Practice.SubmitTimeout < 0 {
		errs = append(errs, errors.New("practice: durations must not be negative"))
	}

	if len(cfg.Audio.Formats) == 0 {
		errs = append(errs, errors.New("audio.formats must list at least one format"))
	}
	for _, f := range cfg.Audio.Formats {
		if f != "flac" && f != "wav" {
			errs = append(errs, fmt.Errorf("audio.formats: %q is invalid; valid values: flac, wav", f))
		}
	}

	return errors.Join(errs...)
}
