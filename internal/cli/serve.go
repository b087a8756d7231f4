package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *options) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, notification dispatcher and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if seed {
				cfg.Store.Seed = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.start(ctx); err != nil {
				return err
			}

			srv := &http.Server{
				Addr:         cfg.HTTP.Addr,
				Handler:      a.handler.Router(),
				ReadTimeout:  cfg.HTTP.ReadTimeout,
				WriteTimeout: cfg.HTTP.WriteTimeout,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("server listening",
					zap.String("addr", cfg.HTTP.Addr),
					zap.String("store", cfg.Store.Driver),
					zap.Bool("auth", cfg.Auth.Enabled))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "load the default dataset before serving")
	return cmd
}
