package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/awmpietro/reaction-sim/internal/app"
	"github.com/awmpietro/reaction-sim/internal/config"
	"github.com/awmpietro/reaction-sim/internal/sim"
	"github.com/awmpietro/reaction-sim/internal/transport/httptransport"
)

const shutdownGrace = 10 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Serve the HTTP and websocket API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := rootOpts.runtime()
			if err != nil {
				return err
			}
			if addr != "" {
				rt.HTTPAddr = addr
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return Serve(ctx, rt, rootOpts.logger(rt))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides REACTSIM_HTTP_ADDR)")
	return cmd
}

// Serve runs the HTTP API until ctx is cancelled, then drains requests and
// resets every interactive run.
func Serve(ctx context.Context, rt config.Runtime, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", rt.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", rt.HTTPAddr, err)
	}
	return serve(ctx, ln, rt, logger)
}

func serve(ctx context.Context, ln net.Listener, rt config.Runtime, logger *slog.Logger) error {
	notifier := sim.NewAsyncNotifier(sim.NewSlogNotifier(logger), rt.NotifierBuffer)
	defer func() {
		notifier.Close()
		if n := notifier.Dropped(); n > 0 {
			logger.Warn("lifecycle notifications dropped", "count", n)
		}
	}()

	svc := newService(rt, logger, sim.WithNotifier(notifier))
	runs := app.NewRuns(svc, rt.MaxRuns)
	defer runs.Close()

	srv := &http.Server{
		Handler:           httptransport.NewHandler(svc, runs, logger, httptransport.WithAllowedOrigins(rt.AllowedOrigins...)).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
