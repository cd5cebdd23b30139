package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/planweave/planweave/internal/activity"
	"github.com/planweave/planweave/internal/api"
	"github.com/planweave/planweave/internal/archive"
	"github.com/planweave/planweave/internal/bridge"
	"github.com/planweave/planweave/internal/config"
	"github.com/planweave/planweave/internal/contract"
	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/log"
	"github.com/planweave/planweave/internal/session"
	"github.com/planweave/planweave/internal/trace"
)

func main() {
	cfg := config.Load()
	logger := log.Setup(cfg.LogLevel, cfg.LogPretty)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create data dir")
	}

	db, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open archive db")
	}
	defer db.Close()

	bus := event.NewBus(log.With(logger, "bus"))
	emitters := event.NewEmitters(bus)

	store := archive.NewStore(db, log.With(logger, "archive"))
	detachArchive := store.Attach(bus)
	defer detachArchive()

	machine := session.NewMachine(bus, log.With(logger, "session"))
	machine.Start()
	defer machine.Stop()

	var monitor *contract.Monitor
	if cfg.ValidatorEnabled {
		monitor = contract.NewMonitor(bus, log.With(logger, "validator"), contract.MonitorOptions{
			DurationCeiling: cfg.SessionDurationCeiling,
		})
		monitor.Start()
		defer monitor.Stop()
	}

	tracker := activity.NewTracker(bus, log.With(logger, "activity"), activity.Options{})
	tracker.Start()
	defer tracker.Stop()

	traces := trace.NewAccumulator(bus)
	traces.Start()
	defer traces.Stop()

	wireBridge := bridge.New(bus, log.With(logger, "bridge"), bridge.Options{
		BaseURL: cfg.WorkflowBaseURL,
	})

	server := &api.Server{
		Bus:      bus,
		Emitters: emitters,
		Machine:  machine,
		Monitor:  monitor,
		Trace:    traces,
		Activity: tracker,
		Archive:  store,
		Bridge:   wireBridge,
		Logger:   log.With(logger, "api"),
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	emitters.SystemReady("planweaved")

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("shutdown complete")
}
