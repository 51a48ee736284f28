package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/joshrwolf/ecs/internal/config"
	"github.com/joshrwolf/ecs/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task and health API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := clog.FromContext(ctx)

			cfg := opts.cfg
			if listen != "" {
				cfg.Listen = listen
			}
			eng, err := opts.newEngine(cfg)
			if err != nil {
				return err
			}

			svc := service.New(eng, service.Options{
				Version:               version,
				MaxConcurrentRequests: cfg.MaxConcurrentRequests,
			})

			srv := &http.Server{
				Addr:              cfg.Listen,
				Handler:           svc.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
				// In-flight runs outlive the signal so they can finish during shutdown
				BaseContext: func(net.Listener) context.Context {
					return context.WithoutCancel(ctx)
				},
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("listening", "addr", srv.Addr, "engine", eng, "max_concurrent_requests", cfg.MaxConcurrentRequests)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serving: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", fmt.Sprintf("address to listen on (default %s)", config.DefaultListen))

	return cmd
}
