package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpilot/mcpilot/internal/api"
	"github.com/mcpilot/mcpilot/internal/metrics"
	"github.com/mcpilot/mcpilot/internal/scheduler"
	"github.com/mcpilot/mcpilot/internal/webhooks"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, event stream, and backup scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Metrics live on the default registry the /metrics endpoint
			// serves.
			m := metrics.New("mcpilot")
			a, err := newApp(appOptions{metrics: m})
			if err != nil {
				return err
			}
			defer a.Close()

			if listen == "" {
				listen = a.cfg.API.Listen
			}
			return runServe(a, m, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "address for the HTTP API (default from config)")
	return cmd
}

func runServe(a *app, m *metrics.Metrics, listen string) error {
	logger := a.logger.With().Str("component", "serve").Logger()

	ctx, stop := signalContext()
	defer stop()

	// Seed the gauge; install and delete keep it current from there.
	if servers, err := a.orch.Servers(ctx); err == nil {
		m.SetServersManaged(len(servers))
	}

	sched := scheduler.New(a.orch, a.reg, a.logger)
	if err := sched.Start(a.cfg.Schedules); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	logger.Info().Int("schedules", sched.Entries()).Msg("backup scheduler running")

	if a.cfg.Notify.WebhookURL != "" {
		dispatcher := webhooks.NewDispatcher(a.cfg.Notify.WebhookURL, a.cfg.Notify.Secret, a.bus, a.logger)
		dispatcher.Start()
		defer dispatcher.Stop()
	}

	router := api.NewRouter(api.Config{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}, a.orch, a.bus, a.sys, a.logger)

	err := router.Serve(ctx, listen)

	drain := sched.Stop()
	select {
	case <-drain.Done():
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("scheduled backups still running at shutdown deadline")
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
