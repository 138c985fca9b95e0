package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Config of the monitoring server exposing metrics and profiling endpoints
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

var (
	LedgerEntriesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commission",
		Name:      "ledger_entries_created_total",
		Help:      "Ledger entries created by type",
	}, []string{"type"})

	CommissionDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commission",
		Name:      "denied_total",
		Help:      "Commissions not created grouped by reason",
	}, []string{"reason"})

	EventDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "commission",
		Name:      "event_duration_seconds",
		Help:      "Time spent processing a triggering event",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind", "status"})

	BatchRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commission",
		Name:      "batch_runs_total",
		Help:      "Batch job runs grouped by job and status",
	}, []string{"job", "status"})

	BatchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commission",
		Name:      "batch_member_failures_total",
		Help:      "Members that failed inside a batch run",
	}, []string{"job"})

	PayoutsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commission",
		Name:      "payouts_created_total",
		Help:      "Payout requests created by method",
	}, []string{"method"})

	CapTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "commission",
		Name:      "cap_transitions_total",
		Help:      "Earnings cap state transitions",
	}, []string{"state"})

	StorageRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "commission",
		Name:      "storage_retries_total",
		Help:      "Per member transactions retried after a storage conflict",
	})

	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "commission",
		Name:      "api_request_duration_seconds",
		Help:      "Latency of the HTTP API by route and status",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(
		LedgerEntriesCreated,
		CommissionDenied,
		EventDuration,
		BatchRuns,
		BatchFailures,
		PayoutsCreated,
		CapTransitions,
		StorageRetries,
		APIRequestDuration,
	)
}

var profilingServer *http.Server

// LoopProfilingServer serves /metrics and the pprof handlers until ShutdownServer is called
func LoopProfilingServer(cfg Config) {
	if !cfg.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	profilingServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("section", "monitor").Str("addr", profilingServer.Addr).Msg("Starting monitoring server")
	if err := profilingServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Str("section", "monitor").Msg("Monitoring server stopped")
	}
}

func ShutdownServer() {
	if profilingServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = profilingServer.Shutdown(ctx)
}
