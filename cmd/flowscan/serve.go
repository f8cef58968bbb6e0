package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/app"
	"github.com/dgnsrekt/optionflow/internal/config"
	"github.com/dgnsrekt/optionflow/internal/server"
	"github.com/dgnsrekt/optionflow/internal/ws"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the flow and gamma API with the websocket flow stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if port != "" {
				cfg.Server.Port = port
			}

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			a.Start(ctx)

			var (
				stream http.HandlerFunc
				hub    *ws.Hub
			)
			if cfg.Server.WSEnabled {
				codec, err := ws.NewCodec()
				if err != nil {
					return err
				}
				defer codec.Close()

				hub = ws.NewHub("flow", codec, config.ValidTicker, logger)
				go hub.Run(ctx)

				streamer, err := ws.NewStreamer(hub, a.Flow, a.Calendar, cfg.Server.StreamInterval(), logger)
				if err != nil {
					return err
				}
				go streamer.Run(ctx)
				stream = hub.ServeWS

				logger.Info("websocket enabled",
					zap.Duration("streamInterval", cfg.Server.StreamInterval()),
				)
			}

			var clients server.ClientCounter
			if hub != nil {
				clients = hub
			}
			metrics := server.NewMetrics(a.Scheduler, a.Bars, clients)
			srv := server.NewServer(a.Flow, a.GEX, a.Classifier.Tiers(), cfg.Server, metrics, logger)

			router, err := server.NewRouter(srv, stream, metrics, logger)
			if err != nil {
				return err
			}
			httpServer := server.NewHTTPServer(cfg.Server.Port, router)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting server", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					logger.Error("server error", zap.Error(err))
					return err
				}
			case <-ctx.Done():
			}

			logger.Info("shutting down server...")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
				return err
			}

			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides server.port)")

	return cmd
}
