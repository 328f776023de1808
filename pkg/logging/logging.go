// Copyright 2024-2026 Aiku AI

// Package logging builds the process logger from explicit configuration.
package logging

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"
	"go.mau.fi/zeroconfig"
)

// Formats accepted in Config.Format.
const (
	FormatPretty = "pretty"
	FormatJSON   = "json"
)

// Config selects verbosity and output format. It is passed to Setup once at
// process start and never changed afterwards.
type Config struct {
	Format  string `mapstructure:"format"`
	Verbose bool   `mapstructure:"-"`
}

// Level returns debug when verbose, info otherwise.
func (c Config) Level() zerolog.Level {
	if c.Verbose {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

func (c Config) zeroconfig() (*zeroconfig.Config, error) {
	var format zeroconfig.LogFormat
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", FormatPretty:
		format = zeroconfig.LogFormatPrettyColored
	case FormatJSON:
		format = zeroconfig.LogFormatJSON
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return &zeroconfig.Config{
		MinLevel: ptr.Ptr(c.Level()),
		Writers: []zeroconfig.WriterConfig{{
			Type:   zeroconfig.WriterTypeStdout,
			Format: format,
		}},
	}, nil
}

// Setup compiles the logger described by cfg.
func Setup(cfg Config) (*zerolog.Logger, error) {
	zc, err := cfg.zeroconfig()
	if err != nil {
		return nil, err
	}
	log, err := zc.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return log, nil
}
