package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/internal/config"
	"github.com/sells-group/assessment-ingest/internal/monitoring"
	"github.com/sells-group/assessment-ingest/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the internal ingestion API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.ModeServe); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		startChecker(ctx, env, cfg.Alert)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.New(env.Job, env.Store, cfg.Internal.Secret,
				server.WithCORSOrigins(cfg.Server.CORSOrigins),
				server.WithJobTimeout(cfg.JobTimeout()),
			).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return listenAndServe(ctx, srv)
	},
}

// startChecker runs the alert checker in the background when a webhook
// is configured.
func startChecker(ctx context.Context, env *ingestEnv, cfg config.AlertConfig) {
	alerter := monitoring.NewAlerter(cfg)
	if !alerter.Configured() {
		zap.L().Debug("alert webhook not set, alert checker disabled")
		return
	}
	checker := monitoring.NewChecker(monitoring.NewCollector(env.Store), alerter, cfg)
	go checker.Run(ctx)
}

// listenAndServe serves until ctx is cancelled, then drains in-flight
// requests.
func listenAndServe(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
