package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"kumbara/pkg/logging"
	"kumbara/pkg/recurring"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func main() {
	loadConfig()
	logger = logging.New(cfg.LogLevel)

	initDB()

	ruleStore = &gormRuleStore{db: db}
	ledger = &gormLedger{db: db}
	sched = recurring.NewScheduler(ruleStore, ledger, logger)
	sched.Interval = cfg.SchedulerInterval

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)

	r := gin.Default()
	setupRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()
	logger.Info().Str("port", cfg.Port).Msg("listening")

	<-ctx.Done()

	// Let an in-flight evaluation pass finish before exiting.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("scheduler did not stop cleanly")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server did not stop cleanly")
	}
}
