package logdedup

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newBufferedLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := New(slog.NewTextHandler(&buf, nil))
	return slog.New(h), &buf
}

func countLines(buf *bytes.Buffer) int {
	return strings.Count(buf.String(), "\n")
}

func TestSuppressRepeats(t *testing.T) {
	log, buf := newBufferedLogger()

	for i := 0; i < 10; i++ {
		log.Warn("emulator read failed")
	}
	if got := countLines(buf); got != 3 {
		t.Errorf("10 identical messages produced %d lines, want 3", got)
	}
}

func TestDifferentMessageResets(t *testing.T) {
	log, buf := newBufferedLogger()

	for i := 0; i < 5; i++ {
		log.Warn("emulator read failed")
	}
	log.Info("session joined")
	for i := 0; i < 5; i++ {
		log.Warn("emulator read failed")
	}

	// Three of each burst plus the interleaved message.
	if got := countLines(buf); got != 7 {
		t.Errorf("interleaved bursts produced %d lines, want 7", got)
	}
}

func TestDistinctAttrsNotSuppressed(t *testing.T) {
	log, buf := newBufferedLogger()

	// Same message, different detail: these are distinct events.
	for i := 0; i < 10; i++ {
		log.Info("gp changed", "to", i)
	}
	if got := countLines(buf); got != 10 {
		t.Errorf("10 distinct records produced %d lines, want 10", got)
	}
}

func TestRepeatedAttrsSuppressed(t *testing.T) {
	log, buf := newBufferedLogger()

	for i := 0; i < 10; i++ {
		log.Warn("received directive", "verb", "SYNC")
	}
	if got := countLines(buf); got != 3 {
		t.Errorf("10 identical records produced %d lines, want 3", got)
	}
}

func TestWithAttrsSharesState(t *testing.T) {
	log, buf := newBufferedLogger()
	tagged := log.With("member", "10.0.0.1-100")

	for i := 0; i < 3; i++ {
		log.Warn("send failed")
	}
	// The derived logger continues the same run.
	tagged.Warn("send failed")

	if got := countLines(buf); got != 3 {
		t.Errorf("shared-state suppression produced %d lines, want 3", got)
	}
}
