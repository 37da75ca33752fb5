package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/workfund/dowfund"
	audithook "github.com/workfund/dowfund/audit_hook"
	"github.com/workfund/dowfund/httpapi"
	"github.com/workfund/dowfund/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP funding service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := LoadConfig()
		log := newLogger(cfg)

		st, err := openStore(cfg)
		if err != nil {
			return err
		}

		slogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		// Audit events go to the structured log; a dedicated backend can be
		// swapped in through the Recorder without touching the engine.
		audit := audithook.New(audithook.RecorderFunc(
			func(_ context.Context, ev *audithook.AuditEvent) error {
				slogger.Info("audit",
					slog.String("action", ev.Action),
					slog.String("resource", ev.Resource),
					slog.String("resource_id", ev.ResourceID),
					slog.String("outcome", ev.Outcome),
					slog.String("reason", ev.Reason),
					slog.Any("metadata", ev.Metadata))
				return nil
			}), audithook.WithLogger(slogger))

		opts := []dowfund.Option{
			dowfund.WithLogger(slogger),
			dowfund.WithCommitRetries(cfg.CommitRetries),
			dowfund.WithPlugin(audit),
			dowfund.WithPlugin(observability.NewMetricsExtension(observability.ExpvarFactory{})),
		}
		if cfg.CampaignGoalCents > 0 {
			opts = append(opts, dowfund.WithCampaignGoal(dowfund.USD(cfg.CampaignGoalCents)))
		}

		svc := dowfund.New(st, opts...)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.Start(ctx); err != nil {
			return err
		}
		defer svc.Stop() //nolint:errcheck // shutdown path

		srv := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: httpapi.NewRouter(svc, log, cfg.AppEnv != "dev"),
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", cfg.HTTPAddr).Str("driver", cfg.StoreDriver).Msg("listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
		}

		return nil
	},
}
