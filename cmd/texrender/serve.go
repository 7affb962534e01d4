package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/texrender"
	"github.com/aretw0/texrender/pkg/adapters/console"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the render gateway",
	Long: `Starts the HTTP render gateway. It verifies signed render requests and renders
them through the binary backend pool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Gateway.Addr = addr
		}
		if cfg.Signed.Key == "" {
			return errors.New("signed.key is required to verify render requests")
		}

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		sweep, _ := cmd.Flags().GetDuration("sweep")
		ctx, stop := context.WithCancel(context.Background())
		defer stop()
		go svc.Maintain(ctx, sweep)

		srv := &http.Server{
			Addr:              cfg.Gateway.Addr,
			Handler:           svc.Gateway(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			console.PrintBanner(cmd.ErrOrStderr(), texrender.Version)
			logger.Info("Starting render gateway", "addr", srv.Addr, "backend", cfg.Backend.Addr(), "wire", cfg.Backend.Wire)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logger.Info("Start shutdown", "signal", sig.String())

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				if err := srv.Close(); err != nil {
					logger.Error("Error killing server", "err", err)
				}
			}
			logger.Info("Render gateway stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Listen address (overrides gateway.addr)")
	serveCmd.Flags().Duration("sweep", time.Minute, "Interval between expired-record sweeps")
}
