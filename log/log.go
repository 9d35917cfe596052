package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Diagnostics log rotation.
const (
	maxLogSizeMB  = 10
	maxLogBackups = 3
	maxLogAgeDays = 28
)

var (
	diagLog     zerolog.Logger
	diagFile    *lumberjack.Logger
	resultsFile *os.File
	logMu       sync.Mutex
	logReady    bool
	pid         int
	dir         string
)

// SubmissionMetrics describes one upload to the scoring service.
type SubmissionMetrics struct {
	AttemptID   string
	Format      string
	AudioLength time.Duration
	PayloadKB   float64
	EncodeTime  time.Duration
	DNS         time.Duration
	TLS         time.Duration
	TTFB        time.Duration
	Total       time.Duration
	ConnReused  bool
	Status      int
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: PARLEY_LOG_PATH environment variable
	if envPath := os.Getenv("PARLEY_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	resultsPath := filepath.Join(dir, "results_log.txt")
	resultsFile, err = os.OpenFile(resultsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	diagFile = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "diagnostics_log.txt"),
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()
	diagLog.Info().Str("dir", dir).Msg("log_open")

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if resultsFile != nil {
		resultsFile.Close()
		resultsFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// Transition records a state change of a practice machine.
func Transition(variant, from, to, reason string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("variant", variant).
		Str("from", from).
		Str("to", to).
		Str("reason", reason).
		Msg("transition")
}

// SessionError records an error surfaced to the user.
func SessionError(kind, msg string, cause error) {
	if !logReady {
		return
	}
	ev := diagLog.Error().Str("kind", kind)
	if cause != nil {
		ev = ev.Err(cause)
	}
	ev.Msg(msg)
}

func Submission(m SubmissionMetrics) {
	if !logReady {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	diagLog.Info().
		Str("attempt", m.AttemptID).
		Str("format", m.Format).
		Str("conn", connStatus).
		Int("status", m.Status).
		Float64("audio_s", m.AudioLength.Seconds()).
		Float64("payload_kb", m.PayloadKB).
		Int64("encode_ms", m.EncodeTime.Milliseconds()).
		Int64("dns_ms", m.DNS.Milliseconds()).
		Int64("tls_ms", m.TLS.Milliseconds()).
		Int64("ttfb_ms", m.TTFB.Milliseconds()).
		Int64("total_ms", m.Total.Milliseconds()).
		Msg("submission")
}

// Result appends one scored attempt to the results log.
func Result(attemptID string, score float64, transcription string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if resultsFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%.1f\t%s\n",
		time.Now().Format("2006-01-02 15:04:05"), pid, attemptID, score, transcription)
	resultsFile.WriteString(line)
}

func SessionStart(variant, target, api string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("variant", variant).
		Str("target", target).
		Str("api", api).
		Msg("session_start")
}

func SessionEnd(attempts int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("attempts", attempts).
		Msg("session_end")
}
