package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"livescribe/internal/bootstrap"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket and HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := bootstrap.Build(configPath)
		if err != nil {
			return err
		}
		defer services.Close()

		addr := services.Config.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		return serve(cmd.Context(), services, addr)
	},
}

func serve(parent context.Context, services bootstrap.Services, addr string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := services.Logger
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return services.Server.Start(addr)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), services.Config.Server.ShutdownTimeout)
		defer cancel()

		if err := services.Server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", slog.Any("error", err))
		}
		// Recording sessions are stopped and finalized before the store closes.
		if err := services.Controller.Shutdown(shutdownCtx); err != nil {
			logger.Warn("session shutdown incomplete", slog.Any("error", err))
		}
		return nil
	})

	return group.Wait()
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}
