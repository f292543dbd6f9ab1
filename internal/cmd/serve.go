package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tripwise/relay/internal/config"
	"github.com/tripwise/relay/internal/logger"
	"github.com/tripwise/relay/internal/metrics"
	"github.com/tripwise/relay/internal/oauth"
	"github.com/tripwise/relay/internal/server"
	"github.com/tripwise/relay/internal/upstream"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	Long:  `Start the HTTP relay serving /chat, /api/travel and /api/prompt`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 初始化日志
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting Tripwise relay",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	client, collector, err := newUpstream(cfg, log, cfg.Metrics.Enabled)
	if err != nil {
		log.Error("Failed to create upstream client", zap.Error(err))
		return err
	}

	log.Info("Upstream configured",
		zap.String("endpoint", client.Endpoint()),
		zap.String("deployment", cfg.Upstream.DeploymentName),
		zap.String("auth_mode", cfg.Upstream.Auth.Mode),
		zap.String("key_prefix", maskAPIKey(cfg.Upstream.APIKey)),
		zap.Duration("timeout", cfg.Upstream.Timeout),
	)

	srv := server.New(cfg, log, client, collector)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 优雅关闭
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server started", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		log.Error("Server failed", zap.Error(err))
		return err
	case <-stop:
	}
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("Server stopped gracefully")
	return nil
}

// newUpstream wires the authenticator, metrics collector and client. The
// collector is nil when withMetrics is false.
func newUpstream(cfg *config.Config, log *zap.Logger, withMetrics bool) (*upstream.Client, *metrics.Collector, error) {
	auth, err := oauth.New(cfg.Upstream, log)
	if err != nil {
		return nil, nil, err
	}

	var collector *metrics.Collector
	if withMetrics {
		collector = metrics.NewCollector(cfg.Metrics, nil)
	}

	return upstream.NewClient(cfg.Upstream, auth, log, collector), collector, nil
}

// maskAPIKey returns a masked version of the API key for logging
func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
