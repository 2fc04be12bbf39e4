package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info().Msg("dropped")
	refreshLog := Component(logger, "refresh")
	refreshLog.Warn().Str("user_id", "u1").Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info message should be filtered at warn level: %s", out)
	}
	for _, want := range []string{`"component":"refresh"`, `"user_id":"u1"`, `"message":"kept"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %s missing %s", out, want)
		}
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
