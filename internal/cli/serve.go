package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/guild-ledger/internal/activity"
	"github.com/rongwang/guild-ledger/internal/api"
	"github.com/rongwang/guild-ledger/internal/cache"
	"github.com/rongwang/guild-ledger/internal/events"
	"github.com/rongwang/guild-ledger/internal/service"
	"github.com/spf13/cobra"
)

const eventBuffer = 1024

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the activity flush loops",
	Long: `Start the HTTP API, the voice and message flush loops, the daily
record cleanup and the balance cache sweep. On SIGINT or SIGTERM the server
stops accepting requests and flushes pending activity before exiting.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	publisher, err := events.NewPublisher(cfg.Events)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	dispatcher := events.NewDispatcher(publisher, eventBuffer, logger)
	dispatcher.Start()

	balances := cache.NewBalanceCache(cfg.Ledger.CacheTTL, cfg.Ledger.CacheWriteTTL)
	caches := cache.NewManager(logger)
	caches.Register(balances)
	caches.StartCleanup(cfg.Ledger.CacheSweep)

	ledger := service.NewLedger(a.repo, balances, dispatcher, service.LedgerOptions{
		MaxBalance: cfg.Ledger.MaxBalance,
		Topic:      cfg.Events.LedgerTopic,
	}, logger)

	scheduler := a.scheduler(dispatcher)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := scheduler.Start(context.Background()); err != nil {
		return err
	}

	handler := api.NewHandler(api.Services{
		Ledger:   ledger,
		Voice:    activity.NewVoiceIngest(a.store, logger),
		Messages: activity.NewMessageIngest(a.store, activity.DefaultIngestOptions(), logger),
		Stats:    activity.NewStats(a.store, a.repo),
		Checks: map[string]api.HealthCheck{
			"database":  a.pingDB,
			"ephemeral": a.store.Ping,
		},
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(logger))
	handler.SetupRoutes(router, []byte(cfg.Auth.JWTSecret))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := withTimeout(cfg.Activity.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}
	caches.Stop()
	if err := dispatcher.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}

	logger.Info("server stopped")
	return errors.Join(errs...)
}
