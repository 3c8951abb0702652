// Package metrics exposes Prometheus instrumentation for the voucher
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VouchersSynced counts vouchers successfully pushed to RADIUS nodes.
	VouchersSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radmesh_vouchers_synced_total",
		Help: "Vouchers successfully pushed to RADIUS nodes.",
	})

	// VouchersSyncFailed counts vouchers whose push failed.
	VouchersSyncFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radmesh_vouchers_sync_failed_total",
		Help: "Vouchers whose RADIUS push failed.",
	})

	// SyncChunks counts sync chunk outcomes.
	SyncChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radmesh_sync_chunks_total",
		Help: "Sync chunk pushes by outcome.",
	}, []string{"outcome"})

	// ActivationsProcessed counts ingestion record outcomes.
	ActivationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radmesh_activations_processed_total",
		Help: "Accounting and usage records by ingestion outcome.",
	}, []string{"outcome"})

	// ProvisioningRuns counts node provisioning job outcomes.
	ProvisioningRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radmesh_provisioning_runs_total",
		Help: "RADIUS node provisioning runs by outcome.",
	}, []string{"outcome"})
)
