package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_LevelParsing(t *testing.T) {
	if got := New("svc", "debug").GetLevel(); got != zerolog.DebugLevel {
		t.Fatalf("level = %s", got)
	}
	if got := New("svc", "nonsense").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("fallback level = %s", got)
	}
	if got := New("svc", "").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("empty level = %s", got)
	}
}
