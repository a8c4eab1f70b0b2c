// Package metrics exports pkgfsd activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// Registry holds all pkgfsd collectors. A nil *Registry discards every
// observation.
type Registry struct {
	reg            *prometheus.Registry
	commits        *prometheus.CounterVec
	rollbacks      prometheus.Counter
	jobs           *prometheus.CounterVec
	nodeEvents     *prometheus.CounterVec
	commitDuration prometheus.Histogram
	issues         *prometheus.CounterVec
}

// NewRegistry creates a registry with every collector registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgfsd_commits_total",
			Help: "Commit transactions by result kind.",
		}, []string{"result"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pkgfsd_rollbacks_total",
			Help: "Commit transactions that were reverted.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgfsd_jobs_total",
			Help: "Root jobs executed by kind.",
		}, []string{"kind"}),
		nodeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgfsd_node_events_total",
			Help: "Package directory events applied by kind.",
		}, []string{"kind"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pkgfsd_commit_duration_seconds",
			Help:    "Duration of commit transactions.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pkgfsd_commit_issues_total",
			Help: "Non-fatal issues recorded during commits by kind.",
		}, []string{"kind"}),
	}
	r.reg.MustRegister(r.commits, r.rollbacks, r.jobs, r.nodeEvents, r.commitDuration, r.issues)
	return r
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordCommit records a finished commit. result is the error kind, or
// "E_NONE" on success.
func (r *Registry) RecordCommit(result string, duration time.Duration) {
	if r == nil {
		return
	}
	r.commits.WithLabelValues(result).Inc()
	r.commitDuration.Observe(duration.Seconds())
}

// RecordRollback records a reverted commit.
func (r *Registry) RecordRollback() {
	if r == nil {
		return
	}
	r.rollbacks.Inc()
}

// RecordJob records an executed root job.
func (r *Registry) RecordJob(kind string) {
	if r == nil {
		return
	}
	r.jobs.WithLabelValues(kind).Inc()
}

// RecordNodeEvent records an applied package directory event.
func (r *Registry) RecordNodeEvent(kind string) {
	if r == nil {
		return
	}
	r.nodeEvents.WithLabelValues(kind).Inc()
}

// RecordIssue records a non-fatal commit issue.
func (r *Registry) RecordIssue(kind string) {
	if r == nil {
		return
	}
	r.issues.WithLabelValues(kind).Inc()
}
