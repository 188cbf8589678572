package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/waabox/devicelink/internal/auth"
	"github.com/waabox/devicelink/internal/bridge"
	"github.com/waabox/devicelink/internal/metrics"
)

func newDaemonCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the background process that polls on behalf of the UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			poller := auth.NewPoller(rt.deviceFlow(), rt.cfg.PollerConfig(), rt.log)
			host := bridge.NewHost(ctx, poller, rt.validator(), rt.log)

			if metricsAddr != "" {
				srv := rt.serveMetrics(metricsAddr)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			socket := rt.cfg.SocketPathOrDefault()
			if err := ensureSocketDir(socket); err != nil {
				return err
			}
			err = host.ListenAndServe(ctx, socket)
			poller.Stop()
			host.Wait()
			rt.log.Info().Msg("daemon stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")

	return cmd
}

func (rt *runtimeState) serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	rt.log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
