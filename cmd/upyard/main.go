package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/The127/ioc"
	"github.com/avast/retry-go"
	"github.com/the127/upyard/internal/args"
	"github.com/the127/upyard/internal/config"
	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/registry"
	"github.com/the127/upyard/internal/server"
	"github.com/the127/upyard/internal/services/clock"
	"github.com/the127/upyard/internal/setup"
	"github.com/the127/upyard/internal/utils"
)

func main() {
	args.Init()
	logging.Init()
	defer logging.Sync()
	config.Init()

	dc := ioc.NewDependencyCollection()

	ioc.RegisterSingleton(dc, func(dp *ioc.DependencyProvider) clock.Service {
		return clock.NewClockService()
	})

	database := setup.Database(dc, config.C.Catalog)

	err := retry.Do(
		func() error {
			return database.Migrate()
		},
		retry.Attempts(5),
		retry.Delay(time.Second*5),
		retry.DelayType(retry.FixedDelay),
		retry.OnRetry(func(n uint, err error) {
			logging.Logger.Warnf("failed to migrate database: %s, retrying in 5 seconds", err)
		}),
	)
	if err != nil {
		logging.Logger.Panicf("failed to migrate database: %s", err)
	}

	setup.Storage(dc, config.C.Storage)
	drainEvents := setup.Events(dc, config.C.Events, config.C.Upload.TerminalGracePeriod)
	setup.Registry(dc, config.C.Upload)
	setup.Auth(dc, config.C.Auth)
	setup.Mediator(dc)

	dp := dc.BuildProvider()
	sessionRegistry := ioc.GetDependency[*registry.Registry](dp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// nothing survives a restart, every staging file left over is an orphan
	orphans, err := sessionRegistry.CleanupOrphans(ctx)
	if err != nil {
		logging.Logger.Panicf("failed to clean up orphaned staging files: %s", err)
	}
	if orphans > 0 {
		logging.Logger.Infof("discarded %d orphaned staging files", orphans)
	}

	go sessionRegistry.RunSweeper(ctx, config.C.Upload.SweepInterval)

	srv := server.Serve(dp, config.C.Server)
	waitForExit()

	logging.Logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.C.Server.ShutdownTimeout)
	defer shutdownCancel()

	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logging.Logger.Errorf("failed to shut down server gracefully: %s", err)
	}

	// sessions created while requests were draining
	sessionRegistry.AbortAll(shutdownCtx)

	err = drainEvents(shutdownCtx)
	if err != nil {
		logging.Logger.Warnf("failed to drain status events: %s", err)
	}

	utils.LogOnError(database.Close, "closing catalog database")
}

func waitForExit() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
