package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreschagin/desertyard/internal/infrastructure/scheduler"
	httpInterface "github.com/dreschagin/desertyard/internal/interfaces/http"
	"github.com/dreschagin/desertyard/internal/interfaces/http/handler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the snapshot index and run captures on schedule",
	RunE:  serveAction,
}

func serveAction(cmd *cobra.Command, _ []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Конфигурация и зависимости
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	cfg := a.cfg
	log := a.log

	// 2. Раннер и планировщик
	runner := scheduler.NewRunner(a.capture, log, cfg.Capture.Schedule, cfg.Capture.RunTimeout)

	cron, err := scheduler.New(log)
	if err != nil {
		return err
	}
	// Контекст задач не отменяется сигналом: Shutdown дождется текущего прогона
	if err := cron.ScheduleCapture(context.WithoutCancel(ctx), cfg.Capture.Schedule, runner); err != nil {
		return err
	}

	// 3. HTTP слой
	indexHandler := handler.NewSnapshotIndexHandler(a.getIndex, cfg.Security.AllowedOrigin, cfg.Security.CORSMaxAge, log)
	captureHandler := handler.NewCaptureHandler(runner, cron.NextRun, cfg.Capture.StaleAfter, log)

	limiter := httpInterface.NewRateLimiter(cfg.RateLimit)
	if limiter != nil {
		go limiter.RunCleanup(ctx)
	}

	router := httpInterface.NewRouter(indexHandler, captureHandler, a.metrics, limiter, log)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 4. Запускаем фоновые процессы
	cron.Start()
	if cfg.Capture.RunOnStartup {
		go func() {
			_, _ = runner.TryRunOnce(context.WithoutCancel(ctx))
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", "port", cfg.Server.Port, "index_mode", cfg.Index.Mode, "index_order", cfg.Index.Order)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// 5. Ожидаем сигнал или падение сервера
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, starting graceful shutdown...")
	case runErr = <-serverErr:
		log.Error("HTTP server failed", runErr)
	}

	// 6. Graceful shutdown: HTTP, затем планировщик, затем интеграции
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", err)
	}
	if err := cron.Stop(); err != nil {
		log.Error("Scheduler shutdown error", err)
	}
	if err := a.close(shutdownCtx); err != nil {
		log.Error("Failed to close integrations", err)
	}

	log.Info("Server stopped gracefully")
	return runErr
}
