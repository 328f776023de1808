// Copyright 2024-2026 Aiku AI

package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"go.mau.fi/zeroconfig"
)

func TestLevel(t *testing.T) {
	t.Parallel()
	if got := (Config{}).Level(); got != zerolog.InfoLevel {
		t.Errorf("default level: got %s, want info", got)
	}
	if got := (Config{Verbose: true}).Level(); got != zerolog.DebugLevel {
		t.Errorf("verbose level: got %s, want debug", got)
	}
}

func TestZeroconfigFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		format string
		want   zeroconfig.LogFormat
	}{
		{"", zeroconfig.LogFormatPrettyColored},
		{"pretty", zeroconfig.LogFormatPrettyColored},
		{"JSON", zeroconfig.LogFormatJSON},
		{" json ", zeroconfig.LogFormatJSON},
	}
	for _, tt := range tests {
		zc, err := Config{Format: tt.format}.zeroconfig()
		if err != nil {
			t.Fatalf("format %q: %v", tt.format, err)
		}
		if len(zc.Writers) != 1 || zc.Writers[0].Format != tt.want {
			t.Errorf("format %q: got %+v, want %s", tt.format, zc.Writers, tt.want)
		}
		if zc.Writers[0].Type != zeroconfig.WriterTypeStdout {
			t.Errorf("format %q: writer type %s, want stdout", tt.format, zc.Writers[0].Type)
		}
	}
}

func TestSetup(t *testing.T) {
	t.Parallel()
	log, err := Setup(Config{Format: FormatJSON, Verbose: true})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if log == nil {
		t.Fatal("Setup returned a nil logger")
	}
}

func TestSetupUnknownFormat(t *testing.T) {
	t.Parallel()
	if _, err := Setup(Config{Format: "xml"}); err == nil {
		t.Error("expected an error for an unknown format")
	}
}
