package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apk-analysis/toolsetup/internal/api"
	"github.com/apk-analysis/toolsetup/internal/api/handlers"
	"github.com/apk-analysis/toolsetup/internal/installer"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port > 0 {
				a.cfg.Server.Port = port
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			events := handlers.NewEventsHandler(a.logger)
			events.Start(ctx)

			rt, err := a.runtime(installer.WithEvents(events))
			if err != nil {
				return err
			}
			defer rt.Close()

			runHandler := handlers.NewRunHandler(ctx, rt.Engine, rt.History, a.cfg.Profile, a.logger)
			router := api.SetupRouter(a.cfg, a.logger, runHandler, events, rt.Metrics)

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:      router,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 5 * time.Minute,
				IdleTimeout:  120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Infof("HTTP server listening on %s", server.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("Shutting down gracefully...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Errorf("HTTP server shutdown error: %v", err)
			}
			a.logger.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides server.port)")
	return cmd
}
