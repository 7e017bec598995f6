package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"helmdb/internal/coordinator"
)

// CoordinatorCollector exposes coordinator diagnostics as Prometheus
// metrics.
type CoordinatorCollector struct {
	recomputes            prometheus.Gauge
	lastRecomputeSeconds  prometheus.Gauge
	contractsLive         prometheus.Gauge
	contractsAdded        prometheus.Gauge
	contractsRemoved      prometheus.Gauge
	regionsWithoutPrimary prometheus.Gauge
}

// NewCoordinatorCollector creates a collector registered on the provided
// registry (default if nil).
func NewCoordinatorCollector(reg prometheus.Registerer, namespace string) *CoordinatorCollector {
	if namespace == "" {
		namespace = "helmdb"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	builder := promauto.With(reg)
	return &CoordinatorCollector{
		recomputes: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coordinator_recomputes_total",
			Help:      "Number of contract recomputations run on this node.",
		}),
		lastRecomputeSeconds: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coordinator_last_recompute_seconds",
			Help:      "Duration of the latest contract recomputation.",
		}),
		contractsLive: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coordinator_contracts_live",
			Help:      "Contracts currently in effect.",
		}),
		contractsAdded: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coordinator_contracts_added_total",
			Help:      "Contracts minted since startup.",
		}),
		contractsRemoved: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coordinator_contracts_removed_total",
			Help:      "Contracts retired since startup.",
		}),
		regionsWithoutPrimary: builder.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coordinator_regions_without_primary",
			Help:      "Regions currently lacking a primary; nonzero means degraded write availability.",
		}),
	}
}

// Observe updates metrics from the supplied diagnostics sample.
func (c *CoordinatorCollector) Observe(diag coordinator.Diagnostics) {
	c.recomputes.Set(float64(diag.Recomputes))
	c.lastRecomputeSeconds.Set(diag.LastRecomputeDuration.Seconds())
	c.contractsLive.Set(float64(diag.ContractsLive))
	c.contractsAdded.Set(float64(diag.ContractsAdded))
	c.contractsRemoved.Set(float64(diag.ContractsRemoved))
	c.regionsWithoutPrimary.Set(float64(diag.RegionsWithoutPrimary))
}

// StartServer serves Prometheus metrics on the provided address until the
// context is canceled.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return fmt.Errorf("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
