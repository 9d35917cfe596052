//go:build integration

package test_test

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("PARLEY_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "PARLEY_TEST_BIN not set; build parley and point PARLEY_TEST_BIN at it")
		os.Exit(1)
	}

	if err := os.MkdirAll("data", 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data dir: %v\n", err)
		os.Exit(1)
	}
	tonePath := filepath.Join("data", "tone.wav")
	if err := generateToneWAV(tonePath, 16000, 2.0); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate tone.wav: %v\n", err)
		os.Exit(1)
	}
	defer os.Remove(tonePath)

	os.Exit(m.Run())
}

func generateToneWAV(path string, sampleRate int, durationS float64) error {
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i := 0; i < numSamples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[headerSize+2*i:], uint16(v))
	}

	return os.WriteFile(path, buf, 0644)
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

func runParley(t *testing.T, stdin string, args ...string) (logDir, stdout string) {
	t.Helper()
	logDir = t.TempDir()
	cmdArgs := append([]string{"-logpath", logDir, "-offline", "-test"}, args...)
	cmdArgs = append(cmdArgs, filepath.Join("data", "tone.wav"))

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = os.Environ()

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("parley exited with error: %v\noutput: %s", err, out)
	}
	return logDir, string(out)
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func requireResult(t *testing.T, logDir string) string {
	t.Helper()
	text := readLog(t, logDir, "results_log.txt")
	if strings.TrimSpace(text) == "" {
		t.Fatal("results_log.txt is empty, expected a scored attempt")
	}
	return text
}

// --- Speaking ---

func TestSpeakingRound(t *testing.T) {
	logDir, out := runParley(t, cmds("LEVEL B1", "RECORD", "SLEEP 1000", "STOP", "WAIT results", "QUIT"))
	requireResult(t, logDir)
	if !strings.Contains(out, "RESULT score=") {
		t.Errorf("no result on stdout:\n%s", out)
	}
}

func TestSpeakingTwoAttempts(t *testing.T) {
	logDir, _ := runParley(t, cmds(
		"LEVEL A2", "RECORD", "SLEEP 500", "STOP", "WAIT results",
		"AGAIN", "RECORD", "SLEEP 500", "STOP", "WAIT results", "QUIT"))
	results := requireResult(t, logDir)
	if n := strings.Count(strings.TrimSpace(results), "\n") + 1; n != 2 {
		t.Errorf("expected 2 result lines, got %d:\n%s", n, results)
	}
	diag := readLog(t, logDir, "diagnostics_log.txt")
	if !strings.Contains(diag, "session_end") {
		t.Error("expected session_end in diagnostics")
	}
}

func TestCancelDoesNotSubmit(t *testing.T) {
	logDir, out := runParley(t, cmds("LEVEL A1", "RECORD", "SLEEP 300", "CANCEL", "WAIT ready", "QUIT"))
	if strings.TrimSpace(readLog(t, logDir, "results_log.txt")) != "" {
		t.Error("cancelled recording was scored")
	}
	if strings.Contains(out, "STATE processing") {
		t.Errorf("cancel entered processing:\n%s", out)
	}
}

// --- Pronunciation ---

func TestPronunciationNext(t *testing.T) {
	logDir, out := runParley(t, cmds(
		"BEGIN", "WAIT ready", "RECORD", "SLEEP 500", "STOP", "WAIT results",
		"NEXT", "WAIT ready", "QUIT"),
		"-variant", "pronunciation", "-module", "vowels", "-index", "2")
	requireResult(t, logDir)
	if strings.Count(out, "STATE ready") < 2 {
		t.Errorf("expected the next exercise to load:\n%s", out)
	}
}

// --- Formats ---

func TestWAVFormat(t *testing.T) {
	logDir, _ := runParley(t, cmds("LEVEL A1", "RECORD", "SLEEP 500", "STOP", "WAIT results", "QUIT"),
		"-format", "wav")
	diag := readLog(t, logDir, "diagnostics_log.txt")
	if !strings.Contains(diag, "format=wav") {
		t.Errorf("expected format=wav in diagnostics:\n%s", diag)
	}
}
