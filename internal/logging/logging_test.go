package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"DEBUG", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"WARNING", zapcore.WarnLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"ERROR", zapcore.ErrorLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{" info ", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"TRACE", zapcore.InfoLevel, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNew(t *testing.T) {
	logger, err := New("DEBUG")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("DEBUG logger should enable debug records")
	}

	logger, err = New("ERROR")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("ERROR logger should suppress info records")
	}

	if _, err := New("bogus"); err == nil {
		t.Error("expected error for unknown level")
	}
}
