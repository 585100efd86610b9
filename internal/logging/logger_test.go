package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestLevelsFilterVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter("info", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.V(1).Info("hidden detail")
	log.Info("build finished", "built", 3)
	out := buf.String()
	if strings.Contains(out, "hidden detail") {
		t.Fatalf("V(1) message logged at info level: %q", out)
	}
	if !strings.Contains(out, "build finished") || !strings.Contains(out, `"built": 3`) {
		t.Fatalf("missing info message: %q", out)
	}

	buf.Reset()
	log, err = NewWithWriter("DEBUG", &buf)
	if err != nil {
		t.Fatalf("new debug: %v", err)
	}
	log.V(1).Info("node finished", "node", "out/a.o")
	if !strings.Contains(buf.String(), "node finished") {
		t.Fatalf("debug level dropped V(1) message: %q", buf.String())
	}
}

func TestErrorLevelKeepsErrors(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter("error", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info("quiet")
	log.Error(errors.New("boom"), "node failed")
	out := buf.String()
	if strings.Contains(out, "quiet") || !strings.Contains(out, "boom") {
		t.Fatalf("unexpected output %q", out)
	}
}
