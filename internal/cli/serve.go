package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkgfs-project/pkgfsd/internal/daemon"
	"github.com/pkgfs-project/pkgfsd/internal/rpc"
	"github.com/pkgfs-project/pkgfsd/pkg/config"
	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"github.com/pkgfs-project/pkgfsd/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	serveMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the package daemon",
	Long: `Run the package daemon in the foreground.

The daemon loads every configured root, watches the packages directories
and serves clients on the configured unix socket until interrupted. If a
metrics address is set, Prometheus metrics are exposed at /metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		if serveMetricsAddr != "" {
			cfg.MetricsAddress = serveMetricsAddr
		}
		if err := serve(context.Background(), cfg); err != nil {
			fmtErr("serve: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "metrics listen address, overrides the config")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.NewLogger(logging.ParseLevel(cfg.Log.Level))
	log.SetFormat(logging.Format(cfg.Log.Format))
	logging.SetGlobal(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.Default()
	d, err := daemon.New(cfg, daemon.Options{Metrics: reg, Log: log.Component("daemon")})
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Start(ctx); err != nil {
		return err
	}

	lis, err := rpc.ListenUnix(cfg.Socket)
	if err != nil {
		return err
	}
	srv := rpc.NewServer(d, log.Component("rpc"))
	errCh := make(chan error, 2)
	go func() { errCh <- srv.Serve(lis) }()

	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" {
		metricsSrv = newMetricsServer(cfg.MetricsAddress, reg)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
	}
	srv.Stop()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}
	return err
}
