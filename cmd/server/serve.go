package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/nestfind/nestfind/internal/api/http"
	appAudit "github.com/nestfind/nestfind/internal/application/audit"
	appAuth "github.com/nestfind/nestfind/internal/application/auth"
	"github.com/nestfind/nestfind/internal/application/orchestrator"
	appUser "github.com/nestfind/nestfind/internal/application/user"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the expiry scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
			if err := a.migrate(ctx); err != nil {
				return err
			}
		}
		noSweeps, _ := cmd.Flags().GetBool("no-sweeps")
		return serve(ctx, a, !noSweeps)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("migrate", true, "Apply pending migrations before serving")
	serveCmd.Flags().Bool("no-sweeps", false, "Do not run the expiry scheduler in this process")
}

func serve(ctx context.Context, a *app, sweeps bool) error {
	cfg, logger := a.cfg, a.logger
	authSvc := appAuth.NewService(a.users, a.sessions, cfg.SessionTTL, logger)
	apiServer := httpapi.NewServer(
		a.orch,
		appAudit.NewService(a.audit, cfg.AuditSigningKey, logger),
		authSvc,
		appUser.NewService(a.users, logger),
		logger,
		httpapi.WithMetrics(a.metrics.Handler()),
		httpapi.WithNotifier(orchestrator.NewLogNotifier(logger)),
		httpapi.WithSessionCookie(cfg.SessionCookieName, cfg.SessionCookieSecure),
	)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if sweeps {
		if err := a.sched.Start(ctx); err != nil {
			return err
		}
		defer a.sched.Stop()
	}

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := authSvc.PurgeExpired(ctx)
				if err != nil {
					logger.Warn().Err(err).Msg("session purge failed")
				} else if n > 0 {
					logger.Info().Int("sessions", n).Msg("expired sessions purged")
				}
			}
		}
	}()

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("store", cfg.StoreDriver).Msg("http server started")
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown did not complete")
		return httpServer.Close()
	}
	return nil
}
