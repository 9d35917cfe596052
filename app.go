package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"parley/audio"
	"parley/auth"
	"parley/capture"
	"parley/clock"
	"parley/config"
	"parley/content"
	"parley/doctor"
	"parley/encoder"
	"parley/log"
	"parley/observe"
	"parley/playback"
	"parley/practice"
	"parley/scoring"
)

const offlineScoreDelay = 1500 * time.Millisecond

// app is every long-lived component of one practice session.
type app struct {
	cfg     *config.Config
	audio   audio.Context
	device  *audio.DeviceInfo
	machine *practice.Machine
	player  *playback.Player
	metrics *observe.Provider
	api     string

	creds     auth.Credentials
	provider  practice.ContentProvider
	submitter practice.Submitter
	acquirer  practice.Acquirer
}

type appOptions struct {
	// Replay feeds captures from a WAV file instead of the microphone.
	Replay  string
	Version string
	Sink    practice.Sink
	// Output overrides the playback device.
	Output playback.Output
}

func parseVariant(s string) (practice.Variant, error) {
	switch s {
	case "speaking":
		return practice.Speaking, nil
	case "pronunciation":
		return practice.Pronunciation, nil
	}
	return 0, fmt.Errorf("unknown variant %q", s)
}

func newAudioContext(replay string) (audio.Context, error) {
	if replay != "" {
		fake, err := audio.NewReplayContext(replay)
		if err != nil {
			return nil, err
		}
		return fake, nil
	}
	return audio.NewContext()
}

func newCredentials(cfg *config.Config) (auth.Credentials, error) {
	ac := cfg.Auth
	if cfg.API.Offline && ac.Token == "" && ac.RefreshToken == "" {
		return auth.Static("offline"), nil
	}

	var refresh auth.RefreshFunc
	if ac.RefreshToken != "" {
		refresh = auth.OAuth{
			TokenURL:     ac.TokenURL,
			ClientID:     ac.ClientID,
			ClientSecret: ac.ClientSecret,
			RefreshToken: ac.RefreshToken,
			Scopes:       ac.Scopes,
		}.Refresher()
	}
	s := auth.NewSession(clock.New(), refresh)
	if ac.Token == "" {
		if refresh == nil {
			log.Warn("no auth token configured; requests will be rejected")
		}
		return s, nil
	}
	if err := s.Set(ac.Token); err != nil {
		return nil, fmt.Errorf("auth token: %w", err)
	}
	if exp := s.Expiry(); !exp.IsZero() {
		log.Info("auth token expires " + exp.Format(time.RFC3339))
	}
	return s, nil
}

func newRemote(cfg *config.Config) (practice.ContentProvider, scoring.Scorer, string) {
	if cfg.API.Offline {
		return content.NewFake(), scoring.NewFake(offlineScoreDelay, nil), "offline"
	}
	scorer := scoring.NewClient(cfg.ScoringURL(), cfg.API.Timeout)
	go func() {
		if d := scorer.Warm(); d > 0 {
			log.Info(fmt.Sprintf("scoring connection warm in %dms", d.Milliseconds()))
		}
	}()
	return content.NewClient(cfg.ContentURL(), cfg.API.Timeout), scorer, cfg.ScoringURL()
}

func newApp(cfg *config.Config, opts appOptions) (_ *app, err error) {
	variant, err := parseVariant(cfg.Practice.Variant)
	if err != nil {
		return nil, err
	}

	formats := make([]encoder.Format, 0, len(cfg.Audio.Formats))
	for _, s := range cfg.Audio.Formats {
		f, err := encoder.ParseFormat(s)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}

	creds, err := newCredentials(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	actx, err := newAudioContext(opts.Replay)
	if err != nil {
		return nil, fmt.Errorf("audio context: %w", err)
	}
	a.audio = actx
	if cfg.Audio.Device != "" {
		a.device, err = audio.FindDevice(a.audio, cfg.Audio.Device)
		if err != nil {
			return nil, err
		}
		if a.device == nil {
			log.Warnf("device %q not found, using system default", cfg.Audio.Device)
		}
	}

	a.metrics, err = observe.NewProvider(opts.Version)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	instruments, err := observe.NewMetrics(a.metrics)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	out := opts.Output
	if out == nil {
		out, err = playback.NewOutput()
		if err != nil {
			log.Warnf("playback unavailable: %v", err)
			err = nil
		}
	}
	if out != nil {
		a.player = playback.NewPlayer(out, &http.Client{Timeout: cfg.API.Timeout})
		if cfg.Audio.NoCues {
			a.player.Mute()
		}
	}

	provider, scorer, api := newRemote(cfg)
	a.api = api
	a.creds = creds
	a.provider = provider
	a.submitter = scoring.NewSubmitter(scorer, cfg.Practice.SubmitTimeout)
	a.acquirer = capture.NewAcquirer(a.audio, capture.Config{Device: a.device, Formats: formats})

	a.machine, err = practice.New(practice.Config{
		Variant:        variant,
		Module:         cfg.Practice.Module,
		Index:          cfg.Practice.Index,
		Provider:       a.provider,
		Acquirer:       a.acquirer,
		Submitter:      a.submitter,
		Credentials:    a.creds,
		SampleInterval: cfg.Practice.SampleInterval,
		Sink:           opts.Sink,
		Metrics:        instruments,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) deviceName() string {
	if a.device != nil {
		return a.device.Name
	}
	return "system default"
}

func (a *app) target() string {
	if a.cfg.Practice.Variant == "pronunciation" {
		return fmt.Sprintf("%s#%d", a.cfg.Practice.Module, a.cfg.Practice.Index)
	}
	return a.cfg.Practice.Level
}

// doctorEnv points the diagnostics at the same components a session uses.
func (a *app) doctorEnv() doctor.Env {
	ref := practice.ExerciseRef{Level: a.cfg.Practice.Level}
	if a.cfg.Practice.Variant == "pronunciation" {
		ref = practice.ExerciseRef{Module: a.cfg.Practice.Module, Index: a.cfg.Practice.Index}
	} else if ref.Level == "" {
		ref.Level = config.Levels[0]
	}
	return doctor.Env{
		LogDir:      log.Dir(),
		Acquirer:    a.acquirer,
		Provider:    a.provider,
		Submitter:   a.submitter,
		Credentials: a.creds,
		Ref:         ref,
	}
}

// Close releases everything newApp acquired, in reverse order.
func (a *app) Close() error {
	var errs []error
	if a.machine != nil {
		errs = append(errs, a.machine.Close())
		a.machine.Wait()
	}
	if a.player != nil {
		a.player.Close()
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, a.metrics.Shutdown(ctx))
		cancel()
	}
	if a.audio != nil {
		a.audio.Close()
	}
	return errors.Join(errs...)
}
