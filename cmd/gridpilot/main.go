package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridpilot/gridpilot/pkg/amber"
	"github.com/gridpilot/gridpilot/pkg/collector"
	"github.com/gridpilot/gridpilot/pkg/controller"
	"github.com/gridpilot/gridpilot/pkg/engine"
	"github.com/gridpilot/gridpilot/pkg/health"
	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/nem"
	"github.com/gridpilot/gridpilot/pkg/planner"
	"github.com/gridpilot/gridpilot/pkg/profile"
	"github.com/gridpilot/gridpilot/pkg/server"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/weather"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"
)

func main() {
	// init packages
	amberClient := amber.Configured()
	weatherClient := weather.Configured()
	nemClient := nem.Configured()
	db := storage.Configured()
	learner := profile.Configured()
	col := collector.Configured()
	pln := planner.Configured()
	ctrl := controller.Configured()
	inv := inverter.Configured()
	monitor := health.Configured()
	eng := engine.Configured()
	srv := server.Configured(monitor, eng)

	logFile := lflag.String("log-file", "", "Optional file that receives a copy of the log stream")

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", *logFile, err)
			os.Exit(1)
		}
		defer f.Close()
		log.Tee(f)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// wire dependencies now that flags are resolved
	col.Bind(amberClient, weatherClient, nemClient, nemClient.Region())
	learner.Bind(amberClient, db, amberClient.SiteID())
	eng.Bind(col, ctrl, pln, learner, db, monitor, srv, inv, amberClient, amberClient.SiteID())

	for name, v := range map[string]interface{ Validate() error }{
		"amber":      amberClient,
		"weather":    weatherClient,
		"nem":        nemClient,
		"profile":    learner,
		"collector":  col,
		"planner":    pln,
		"controller": ctrl,
		"health":     monitor,
		"engine":     eng,
		"server":     srv,
	} {
		if err := v.Validate(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid configuration", slog.String("package", name), slog.Any("error", err))
			os.Exit(1)
		}
	}

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
		amberClient.Close()
		weatherClient.Close()
		nemClient.Close()
		inv.Close()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return eng.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "exited cleanly")
}
