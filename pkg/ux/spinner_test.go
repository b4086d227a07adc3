package ux

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSpinnerPlainModePrintsDistinctMessages(t *testing.T) {
	buf := capturePlain(t)

	s := NewSpinner("Planning research")
	s.Start()
	s.UpdateMessage("Searching the web")
	s.UpdateMessage("Searching the web") // repeat suppressed
	s.UpdateMessage("Evaluating findings")
	s.StopWithSuccess("Research complete")

	got := buf.String()
	want := "PROGRESS: Planning research\n" +
		"PROGRESS: Searching the web\n" +
		"PROGRESS: Evaluating findings\n" +
		"OK: Research complete\n"
	if got != want {
		t.Errorf("plain spinner output mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestSpinnerPlainModeIgnoresUpdatesBeforeStart(t *testing.T) {
	buf := capturePlain(t)

	s := NewSpinner("initial")
	s.UpdateMessage("never printed")
	if buf.Len() != 0 {
		t.Errorf("expected no output before Start, got %q", buf.String())
	}

	s.Start()
	if got := buf.String(); got != "PROGRESS: never printed\n" {
		t.Errorf("Start output = %q", got)
	}
}

func TestSpinnerAnimatesAndClears(t *testing.T) {
	buf := capturePlain(t)
	SetPlain(false) // keep the buffer, force animation

	s := NewSpinner("thinking")
	s.Start()
	time.Sleep(250 * time.Millisecond)
	s.Stop()

	got := buf.String()
	if !strings.Contains(got, "thinking") {
		t.Errorf("animated output missing message: %q", got)
	}
	if !strings.Contains(got, "\r") {
		t.Errorf("animated output missing carriage returns: %q", got)
	}
	if !strings.HasSuffix(got, "\r\033[K") {
		t.Errorf("spinner did not clear its line on Stop: %q", got)
	}
}

func TestSpinnerStopVariants(t *testing.T) {
	buf := capturePlain(t)

	s := NewSpinner("working")
	s.Start()
	s.StopWithError("backend unreachable")

	warn := NewSpinner("retrying")
	warn.Start()
	warn.StopWithWarning("giving up after 3 attempts")

	got := buf.String()
	want := "PROGRESS: working\n" +
		"ERROR: backend unreachable\n" +
		"PROGRESS: retrying\n" +
		"WARN: giving up after 3 attempts\n"
	if got != want {
		t.Errorf("stop variant output mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestSpinnerStartAndStopAreIdempotent(t *testing.T) {
	buf := capturePlain(t)

	s := NewSpinner("once")
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()

	if got := buf.String(); got != "PROGRESS: once\n" {
		t.Errorf("idempotent start/stop output = %q", got)
	}
}

func TestSpinnerConcurrentUpdates(t *testing.T) {
	capturePlain(t)

	s := NewSpinner("start")
	s.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				s.UpdateMessage(strings.Repeat("x", n+1))
			}
		}(i)
	}
	wg.Wait()
	s.Stop()
}
