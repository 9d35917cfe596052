package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"parley/practice"
	"parley/visual"
)

const scriptWaitTimeout = 30 * time.Second

// scriptSink records state changes for the stdin-driven test mode.
type scriptSink struct {
	out    io.Writer
	outMu  *sync.Mutex
	states chan practice.State
}

func newScriptSink(out io.Writer, outMu *sync.Mutex) *scriptSink {
	return &scriptSink{out: out, outMu: outMu, states: make(chan practice.State, 256)}
}

func (s *scriptSink) StateChanged(snap practice.Snapshot) {
	s.outMu.Lock()
	fmt.Fprintf(s.out, "STATE %s\n", snap.State)
	switch {
	case snap.State == practice.Results && snap.Result != nil:
		fmt.Fprintf(s.out, "RESULT score=%.0f transcription=%q\n", snap.Result.Score, snap.Result.Transcription)
	case snap.State == practice.Error && snap.Err != nil:
		fmt.Fprintf(s.out, "ERROR kind=%s message=%q\n", snap.Err.Kind, snap.Err.Message)
	}
	s.outMu.Unlock()

	select {
	case s.states <- snap.State:
	default:
	}
}

func (s *scriptSink) Frame(visual.Frame) {}
func (s *scriptSink) Tick(int)           {}

// waitFor consumes state changes until want is seen.
func (s *scriptSink) waitFor(ctx context.Context, want practice.State) error {
	timeout := time.NewTimer(scriptWaitTimeout)
	defer timeout.Stop()
	for {
		select {
		case st := <-s.states:
			if st == want {
				return nil
			}
		case <-timeout.C:
			return fmt.Errorf("timed out waiting for %s", want)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseState(s string) (practice.State, bool) {
	for st := practice.SelectingLevel; st <= practice.Error; st++ {
		if strings.EqualFold(st.String(), s) {
			return st, true
		}
	}
	return 0, false
}

// runScript drives the machine from line commands on in:
//
//	LEVEL <level> | BEGIN | RECORD | STOP | CANCEL | RETRY | NEXT | AGAIN |
//	CHANGE | WAIT <state> | SLEEP <ms> | QUIT
//
// Failed operations are reported on out and do not stop the script.
// It returns the process exit code.
func runScript(ctx context.Context, m *practice.Machine, sink *scriptSink, in io.Reader, out io.Writer, outMu *sync.Mutex) int {
	report := func(format string, args ...any) {
		outMu.Lock()
		fmt.Fprintf(out, format+"\n", args...)
		outMu.Unlock()
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		var err error
		switch strings.ToUpper(cmd) {
		case "LEVEL":
			err = m.SelectLevel(ctx, arg)
		case "BEGIN":
			err = m.Begin(ctx)
		case "RECORD":
			err = m.StartRecording(ctx)
		case "STOP":
			err = m.StopRecording()
		case "CANCEL":
			err = m.CancelRecording()
		case "RETRY":
			err = m.Retry(ctx)
		case "NEXT":
			err = m.NextExercise(ctx)
		case "AGAIN":
			err = m.TryAgain()
		case "CHANGE":
			err = m.ChangeLevel()
		case "WAIT":
			st, ok := parseState(arg)
			if !ok {
				report("FAIL unknown state %q", arg)
				return 2
			}
			if err := sink.waitFor(ctx, st); err != nil {
				report("FAIL %v", err)
				return 1
			}
		case "SLEEP":
			ms, convErr := strconv.Atoi(arg)
			if convErr != nil {
				report("FAIL bad sleep %q", arg)
				return 2
			}
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return 1
			}
		case "QUIT":
			return 0
		default:
			report("FAIL unknown command %q", cmd)
			return 2
		}
		if err != nil {
			report("REJECTED %s: %v", strings.ToUpper(cmd), err)
		}
	}
	if err := scanner.Err(); err != nil {
		report("FAIL reading script: %v", err)
		return 1
	}
	return 0
}
