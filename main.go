package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"parley/audio"
	"parley/config"
	"parley/doctor"
	"parley/log"
	"parley/playback"
	"parley/shutdown"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

type options struct {
	configPath string
	logPath    string
	device     string
	setup      bool
	replay     string
	offline    bool
	metrics    string
	variant    string
	level      string
	module     string
	index      int
	format     string
	noCues     bool
	version    bool
	test       bool
	doctor     bool
	crash      bool
	profile    string
}

func parseFlags(args []string) (options, *flag.FlagSet, error) {
	var o options
	fs := flag.NewFlagSet("parley", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "YAML config file")
	fs.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&o.device, "device", "", "Use named microphone device")
	fs.BoolVar(&o.setup, "setup", false, "Select microphone device (otherwise uses system default)")
	fs.StringVar(&o.replay, "replay", "", "Replay a 16 kHz mono WAV file instead of the microphone")
	fs.BoolVar(&o.offline, "offline", false, "Use the built-in exercises and a local scorer")
	fs.StringVar(&o.metrics, "metrics", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	fs.StringVar(&o.variant, "variant", "", "Practice variant: speaking or pronunciation")
	fs.StringVar(&o.level, "level", "", "Speaking level to start at (skips level selection)")
	fs.StringVar(&o.module, "module", "", "Pronunciation module")
	fs.IntVar(&o.index, "index", -1, "Pronunciation exercise index")
	fs.StringVar(&o.format, "format", "", "Recording format: flac or wav (default: flac, falling back to wav)")
	fs.BoolVar(&o.noCues, "nocues", false, "Disable start/stop cue tones")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	fs.BoolVar(&o.test, "test", false, "Test mode (headless, stdin-driven)")
	fs.BoolVar(&o.doctor, "doctor", false, "Run system diagnostics and exit")
	fs.BoolVar(&o.crash, "crash", false, "Trigger synthetic panic for testing crash logging")
	fs.StringVar(&o.profile, "profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	err := fs.Parse(args)
	return o, fs, err
}

// applyFlags layers command-line overrides over the file and environment.
func applyFlags(cfg *config.Config, o options) {
	if o.logPath != "" {
		cfg.Log.Path = o.logPath
	}
	if o.device != "" {
		cfg.Audio.Device = o.device
	}
	if o.offline {
		cfg.API.Offline = true
	}
	if o.metrics != "" {
		cfg.Metrics.Addr = o.metrics
	}
	if o.variant != "" {
		cfg.Practice.Variant = o.variant
	}
	if o.level != "" {
		cfg.Practice.Level = o.level
	}
	if o.module != "" {
		cfg.Practice.Module = o.module
	}
	if o.index >= 0 {
		cfg.Practice.Index = o.index
	}
	if o.format != "" {
		cfg.Audio.Formats = []string{o.format}
	}
	if o.noCues || o.test {
		cfg.Audio.NoCues = true
	}
}

func run(args []string) int {
	opts, fs, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.version {
		fmt.Printf("parley %s\n", version)
		return 0
	}

	cfg, err := config.Read(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(cfg, opts)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration:\n%v\n", err)
		return 1
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.Log.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		defer crashFile.Close()
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if opts.profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", opts.profile)
			if err := http.ListenAndServe(opts.profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if opts.crash {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if opts.setup && cfg.Audio.Device == "" && opts.replay == "" {
		actx, err := audio.NewContext()
		if err != nil {
			fmt.Printf("Error initializing audio: %v\n", err)
			return 1
		}
		dev, err := audio.SelectDevice(actx)
		actx.Close()
		switch {
		case errors.Is(err, audio.ErrSelectionCancelled):
			return 130
		case err != nil:
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
		default:
			cfg.Audio.Device = dev.Name
		}
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if (opts.test || opts.doctor) && opts.replay == "" && len(fs.Args()) > 0 {
		opts.replay = fs.Arg(0)
	}
	switch {
	case opts.doctor:
		return runDoctor(cfg, opts)
	case opts.test:
		return runTestMode(cfg, opts)
	}
	return runTUI(cfg, opts)
}

func runTestMode(cfg *config.Config, opts options) int {
	var outMu sync.Mutex
	sink := newScriptSink(os.Stdout, &outMu)
	a, err := newApp(cfg, appOptions{
		Replay:  opts.replay,
		Version: version,
		Sink:    sink,
		Output:  &playback.FakeOutput{},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()
	log.SessionStart(cfg.Practice.Variant, a.target(), a.api)

	ctx, stop := shutdown.Context(context.Background())
	defer stop()
	return runScript(ctx, a.machine, sink, os.Stdin, os.Stdout, &outMu)
}

func runDoctor(cfg *config.Config, opts options) int {
	a, err := newApp(cfg, appOptions{Replay: opts.replay, Version: version, Output: &playback.FakeOutput{}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()
	return doctor.Run(ctx, a.doctorEnv())
}

func runTUI(cfg *config.Config, opts options) int {
	ls := &lateSender{}
	sink := &teaSink{out: ls}
	a, err := newApp(cfg, appOptions{Replay: opts.replay, Version: version, Sink: sink})
	if err != nil {
		log.Errorf("init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()
	sink.player = a.player
	log.SessionStart(cfg.Practice.Variant, a.target(), a.api)

	ctx, stop := shutdown.Context(context.Background())
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	var player benchmarkPlayer
	if a.player != nil {
		player = a.player
	}
	model := newTUIModel(gctx, a.machine, player, ls, config.Levels, version)
	model.preset = cfg.Practice.Level
	model.deviceLine = "mic: " + a.deviceName()
	if a.device != nil && audio.IsBluetooth(a.device.Name) {
		model.deviceLine += " (BT!)"
	}
	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))
	ls.p = prog

	g.Go(func() error {
		defer stop()
		_, err := prog.Run()
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		prog.Quit()
		return nil
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			log.Info("metrics listening on " + cfg.Metrics.Addr)
			return a.metrics.Serve(gctx, cfg.Metrics.Addr)
		})
	}

	if err := g.Wait(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
