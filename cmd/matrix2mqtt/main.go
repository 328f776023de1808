// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command matrix2mqtt forwards messages from the Matrix rooms an account has
// joined to an MQTT broker. Raw events go to matrix2mqtt/json/<room> and
// text bodies to matrix2mqtt/text/<room>.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/matrix2mqtt/pkg/bridge"
	"github.com/aiku/matrix2mqtt/pkg/config"
	"github.com/aiku/matrix2mqtt/pkg/logging"
	"github.com/aiku/matrix2mqtt/pkg/matrix"
	"github.com/aiku/matrix2mqtt/pkg/pubsub"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	Name    = "matrix2mqtt"
	Version = "0.3.0"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath      = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
	verbose         = flag.MakeFull("v", "verbose", "Verbose output, same as DEBUG=true.", "false").Bool()
	saveConfig      = flag.MakeFull("s", "save-config", "Write keys missing from the config file back to it.", "false").Bool()
	generateExample = flag.MakeFull("e", "generate-example-config", "Print the example config and exit.", "false").Bool()
	wantVersion     = flag.MakeFull("V", "version", "View version and exit.", "false").Bool()
	wantHelp, _     = flag.MakeHelpFlag()
)

func main() {
	flag.SetHelpTitles(
		fmt.Sprintf("%s %s - forwards messages from Matrix to MQTT.", Name, Version),
		fmt.Sprintf("%s [-hvVse] [-c <path>]", Name),
	)
	if err := flag.Parse(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	}
	switch {
	case *wantHelp:
		flag.PrintHelp()
		os.Exit(0)
	case *wantVersion:
		fmt.Printf("%s %s (tag %s, commit %s, built %s)\n", Name, Version, Tag, Commit, BuildTime)
		os.Exit(0)
	case *generateExample:
		fmt.Print(config.ExampleConfig)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, *saveConfig)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logCfg := cfg.Logging
	logCfg.Verbose = cfg.Debug || *verbose
	log, err := logging.Setup(logCfg)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Missing or malformed credentials end the process before any
	// connection is attempted.
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	os.Exit(run(cfg, *log))
}

func run(cfg *config.Config, log zerolog.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	br := bridge.New(log)

	var statusServer *http.Server
	if cfg.Bridge.StatusAPIAddr != "" {
		statusServer = br.NewStatusServer(cfg.Bridge.StatusAPIAddr)
		br.StartStatusServer(statusServer)
	}

	// Connections are set up below while the shutdown handler may already
	// be running, so they are shared under a lock.
	var (
		connMu    sync.Mutex
		session   *matrix.Session
		publisher pubsub.Publisher
	)
	// Queued events still need the session for aliases and the publisher
	// for delivery, so both are released only after the lanes drained.
	var drainOnce sync.Once
	drainQueued := func(ctx context.Context) {
		drainOnce.Do(func() {
			cancel()
			if err := br.Drain(ctx); err != nil {
				log.Warn().Err(err).Msg("Shutting down with events still queued")
			}
		})
	}
	shutdown := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"matrix": func(ctx context.Context) error {
			drainQueued(ctx)
			connMu.Lock()
			s := session
			connMu.Unlock()
			if s != nil {
				return s.Logout(ctx)
			}
			return nil
		},
		"broker": func(ctx context.Context) error {
			drainQueued(ctx)
			connMu.Lock()
			p := publisher
			connMu.Unlock()
			if p != nil {
				p.Close()
			}
			return nil
		},
		"status-api": func(ctx context.Context) error {
			if statusServer != nil {
				return statusServer.Shutdown(ctx)
			}
			return nil
		},
	})

	br.MarkConnecting()

	sess, err := matrix.Login(ctx, cfg.Matrix, log)
	if err != nil {
		if ctx.Err() != nil {
			return <-shutdown
		}
		log.Error().Err(err).Msg("Could not connect to Matrix")
		return 1
	}

	connMu.Lock()
	session = sess
	connMu.Unlock()

	pub, err := pubsub.Connect(ctx, cfg.MQTT, log)
	if err != nil {
		if ctx.Err() != nil {
			return <-shutdown
		}
		log.Error().Err(err).Str("broker", cfg.MQTT.Host).Msg("Could not connect to broker")
		return 1
	}

	connMu.Lock()
	publisher = pub
	connMu.Unlock()

	br.Attach(pub, sess)
	err = br.Run(ctx, sess)
	if ctx.Err() != nil {
		return <-shutdown
	}
	log.Error().Err(err).Msg("Matrix sync loop failed")
	return 1
}
