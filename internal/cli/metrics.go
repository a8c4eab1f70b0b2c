package cli

import (
	"net/http"
	"time"

	"github.com/pkgfs-project/pkgfsd/pkg/metrics"
)

// newMetricsServer serves /metrics from reg and a trivial /healthz.
func newMetricsServer(addr string, reg *metrics.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
