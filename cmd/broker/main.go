// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/absmach/cosim/archive"
	"github.com/absmach/cosim/broker"
	"github.com/absmach/cosim/config"
	"github.com/absmach/cosim/network"
)

// Exit codes for configuration failures.
const (
	exitMissingBroker = 2
	exitInvalidPort   = 3
	exitConfigError   = 4
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	name := flag.String("name", "", "name of the broker/core")
	identifier := flag.String("identifier", "", "name of the core/broker")
	federates := flag.Int("federates", -1, "the minimum number of federates that will be connecting")
	minfed := flag.Int("minfed", -1, "the minimum number of federates that will be connecting")
	minbroker := flag.Int("minbroker", -1, "the minimum number of brokers that need to be connected")
	maxiter := flag.Int("maxiter", -1, "maximum number of iterations")
	logfile := flag.String("logfile", "", "the file to log messages to")
	loglevel := flag.Int("loglevel", -1, "the level at which to log; higher logs more")
	fileloglevel := flag.Int("fileloglevel", -1, "the level at which messages get sent to the file")
	consoleloglevel := flag.Int("consoleloglevel", -1, "the level at which messages get sent to the console")
	tick := flag.Duration("tick", 0, "tick period; with no traffic for 2 ticks secondary actions are taken")
	dumplog := flag.Bool("dumplog", false, "capture all messages and dump a complete log on termination")
	timeout := flag.Duration("timeout", 0, "time to wait for a broker connection")
	interfaces := flag.String("interfaces", "", "file describing publications and subscriptions to register")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(exitConfigError)
	}
	applyFlags(cfg, flagValues{
		name: *name, identifier: *identifier,
		federates: *federates, minfed: *minfed, minbroker: *minbroker,
		maxiter: *maxiter, logfile: *logfile,
		loglevel: *loglevel, fileloglevel: *fileloglevel, consoleloglevel: *consoleloglevel,
		tick: *tick, dumplog: *dumplog, timeout: *timeout,
	}, flag.Args())

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(exitConfigError)
	}

	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	data := cfg.BrokerData()
	if err := data.CheckAndUpdateBrokerAddress(network.GenerateMatchingInterfaceAddress("", data.InterfaceNetwork)); err != nil {
		logger.Error("Broker address check failed", "error", err)
		switch {
		case errors.Is(err, network.ErrMissingBroker):
			os.Exit(exitMissingBroker)
		case errors.Is(err, network.ErrInvalidPort):
			os.Exit(exitInvalidPort)
		default:
			os.Exit(exitConfigError)
		}
	}

	b, err := broker.NewCore(cfg, logger)
	if err != nil {
		logger.Error("Failed to create broker", "error", err)
		os.Exit(exitConfigError)
	}

	if cfg.Broker.DumpLog && cfg.Broker.DumpLogDir != "" {
		store, err := archive.NewBadger(cfg.Broker.DumpLogDir)
		if err != nil {
			logger.Error("Failed to open dump archive", "error", err)
			os.Exit(exitConfigError)
		}
		b.SetDumpStore(store)
	}

	if *interfaces != "" {
		if err := b.Manager().RegisterInterfaces(*interfaces); err != nil {
			logger.Error("Failed to register interfaces", "error", err)
			os.Exit(exitConfigError)
		}
		if err := b.Manager().StartupToInitialize(); err != nil {
			logger.Error("Failed to announce interfaces", "error", err)
			os.Exit(exitConfigError)
		}
	}

	logger.Info("Starting broker",
		"identifier", b.Identifier(),
		"broker_address", data.BrokerAddress,
		"tick", cfg.Broker.Tick,
		"dumplog", cfg.Broker.DumpLog)

	if err := b.Start(); err != nil {
		logger.Error("Failed to start broker", "error", err)
		os.Exit(exitConfigError)
	}
	// The stand-alone broker is its own root; nothing to wait for.
	b.Connected()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		b.Stop()
		return nil
	})

	if *configFile != "" {
		g.Go(func() error {
			return watchConfig(gctx, *configFile, b.Base, logger)
		})
	}

	g.Go(func() error {
		b.JoinAllThreads()
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Broker run failed", "error", err)
	}

	logger.Info("Broker stopped", "exit_code", b.ExitCode())
	os.Exit(b.ExitCode())
}

type flagValues struct {
	name, identifier, logfile            string
	federates, minfed, minbroker         int
	maxiter                              int
	loglevel, fileloglevel, consoleloglevel int
	tick, timeout                        time.Duration
	dumplog                              bool
}

// applyFlags overlays command-line options onto the file
// configuration. A positional argument is treated as minfed.
func applyFlags(cfg *config.Config, v flagValues, positional []string) {
	if v.name != "" {
		cfg.Broker.Identifier = v.name
	}
	if v.identifier != "" {
		cfg.Broker.Identifier = v.identifier
	}
	if v.federates >= 0 {
		cfg.Broker.MinFederates = v.federates
	}
	if v.minfed >= 0 {
		cfg.Broker.MinFederates = v.minfed
	}
	if len(positional) > 0 {
		if min, err := strconv.Atoi(positional[0]); err == nil {
			cfg.Broker.MinFederates = min
		}
	}
	if v.minbroker >= 0 {
		cfg.Broker.MinBrokers = v.minbroker
	}
	if v.maxiter >= 0 {
		cfg.Broker.MaxIterations = v.maxiter
	}
	if v.logfile != "" {
		cfg.Log.File = v.logfile
	}
	if v.loglevel >= 0 {
		cfg.Log.ConsoleLevel = v.loglevel
		cfg.Log.FileLevel = v.loglevel
	}
	if v.fileloglevel >= 0 {
		cfg.Log.FileLevel = v.fileloglevel
	}
	if v.consoleloglevel >= 0 {
		cfg.Log.ConsoleLevel = v.consoleloglevel
	}
	if v.tick > 0 {
		cfg.Broker.Tick = v.tick
	}
	if v.dumplog {
		cfg.Broker.DumpLog = true
	}
	if v.timeout > 0 {
		cfg.Broker.Timeout = v.timeout
	}
}

func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Log.ConsoleLevel > 1 {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// watchConfig reloads the log levels when the configuration file
// changes. Everything else requires a restart.
func watchConfig(ctx context.Context, path string, b *broker.Base, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := config.Load(path)
			if err != nil {
				logger.Warn("Ignoring config change", "error", err)
				continue
			}
			b.SetLogLevels(cfg.Log.ConsoleLevel, cfg.Log.FileLevel)
			logger.Info("Log levels updated",
				"console", cfg.Log.ConsoleLevel,
				"file", cfg.Log.FileLevel)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", "error", err)
		}
	}
}
