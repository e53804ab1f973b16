// Command zk-timesyncd is the time synchronization daemon.
//
// The daemon connects to a clock-bearing terminal over UDP, pushes
// randomized clock values during the configured daily window, and restores
// the authentic time when the window closes. An administrative HTTP API
// exposes status, the emergency stop, and the emergency event list.
//
// Usage:
//
//	zk-timesyncd -config /etc/zk/timesync.yaml
//
// Flags:
//
//	-config string     Configuration file path (required)
//	-log-level string  Log level: debug, info, warn, error (overrides config)
//	-log-file string   CBOR event log path (overrides config)
//	-listen string     Admin API bind address (overrides config)
//
// A SIGINT or SIGTERM triggers the emergency fail-safe: the authentic time
// is restored before the process exits.
package main

import (
	"context"
	"errors"
	"flag"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/izzi01/zk-communist/pkg/admin"
	"github.com/izzi01/zk-communist/pkg/config"
	"github.com/izzi01/zk-communist/pkg/connection"
	"github.com/izzi01/zk-communist/pkg/failsafe"
	"github.com/izzi01/zk-communist/pkg/log"
	"github.com/izzi01/zk-communist/pkg/syncloop"
	"github.com/izzi01/zk-communist/pkg/terminal"
)

var (
	configPath = flag.String("config", "", "Configuration file path (required)")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFile    = flag.String("log-file", "", "CBOR event log path")
	listenAddr = flag.String("listen", "", "Admin API bind address")
)

func main() {
	flag.Parse()
	if *configPath == "" {
		stdlog.Fatal("-config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *listenAddr != "" {
		cfg.Admin.Listen = *listenAddr
	}

	logger, slogger, closeLog, err := buildLogger(cfg)
	if err != nil {
		stdlog.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()

	password, err := cfg.TerminalPassword()
	if err != nil {
		stdlog.Fatalf("Failed to resolve credentials: %v", err)
	}

	link, err := terminal.NewLink(terminal.Config{
		Address:        cfg.Terminal.Address,
		Credentials:    terminal.Credentials{Password: password},
		ConnectTimeout: cfg.Terminal.ConnectTimeout.Std(),
		CommandTimeout: cfg.Terminal.CommandTimeout.Std(),
		Heartbeat: terminal.HeartbeatConfig{
			Interval:  cfg.Heartbeat.Interval.Std(),
			Timeout:   cfg.Heartbeat.Timeout.Std(),
			MaxMisses: cfg.Heartbeat.MaxMisses,
		},
		Logger: logger,
	})
	if err != nil {
		stdlog.Fatalf("Failed to create terminal link: %v", err)
	}

	window, err := cfg.Schedule.Window()
	if err != nil {
		stdlog.Fatalf("Invalid schedule: %v", err)
	}
	targets, err := cfg.Schedule.TargetRange(window)
	if err != nil {
		stdlog.Fatalf("Invalid schedule: %v", err)
	}

	loop, err := syncloop.NewLoop(link, syncloop.Config{
		Window:           window,
		Range:            targets,
		Intervals:        cfg.Schedule.Intervals(),
		HistorySize:      cfg.Loop.TargetHistory,
		AttemptHistory:   cfg.Loop.AttemptHistory,
		FailureThreshold: cfg.Loop.FailureThreshold,
		CommandRetries:   cfg.Loop.CommandRetries,
		WorstRTT:         cfg.Loop.WorstRTT.Std(),
		Reconnect: connection.RetrierConfig{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			Backoff: connection.BackoffConfig{
				Initial: cfg.Reconnect.InitialBackoff.Std(),
				Max:     cfg.Reconnect.MaxBackoff.Std(),
			},
		},
		Logger: logger,
	})
	if err != nil {
		stdlog.Fatalf("Failed to create sync loop: %v", err)
	}

	ctl := failsafe.NewController(loop, failsafe.Config{Logger: logger})

	link.OnDegraded(func(reason string) {
		slogger.Warn("terminal link degraded", "reason", reason)
		loop.Wake()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Admin.Listen != "" {
		srv := admin.NewServer(loop, link, ctl)
		go func() {
			slogger.Info("admin API listening", "addr", cfg.Admin.Listen)
			if err := srv.Run(ctx, cfg.Admin.Listen); err != nil && !errors.Is(err, context.Canceled) {
				slogger.Error("admin API failed", "err", err)
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()
	slogger.Info("sync loop started", "terminal", cfg.Terminal.Address, "window", window.Start.String()+"-"+window.End.String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slogger.Info("received signal, triggering fail-safe", "signal", sig.String())
		id := ctl.Trigger("shutdown signal: " + sig.String())
		waitResolved(ctl, id, 3*time.Second, slogger)
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slogger.Error("sync loop stopped", "err", err)
			os.Exit(1)
		}
	}

	slogger.Info("shutdown complete")
}

// buildLogger assembles the event logger: slog for operators, plus the CBOR
// file log when configured.
func buildLogger(cfg *config.Config) (log.Logger, *slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.SlogLevel())); err != nil {
		return nil, nil, nil, err
	}
	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	loggers := []log.Logger{log.NewSlogAdapter(slogger)}
	closeLog := func() {}

	if cfg.Log.File != "" {
		fl, err := log.NewFileLogger(cfg.Log.File)
		if err != nil {
			return nil, nil, nil, err
		}
		loggers = append(loggers, fl)
		closeLog = func() { fl.Close() }
	}

	return log.NewMultiLogger(loggers...), slogger, closeLog, nil
}

// waitResolved blocks until the emergency event resolves or the timeout
// passes, reporting the outcome.
func waitResolved(ctl *failsafe.Controller, id string, timeout time.Duration, slogger *slog.Logger) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ev, err := ctl.Event(id)
		if err != nil {
			return
		}
		if ev.Resolved() {
			slogger.Info("emergency restore finished", "outcome", ev.RestoreOutcome.String())
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	slogger.Warn("emergency restore did not resolve before exit")
}
