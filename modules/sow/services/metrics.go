package services

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sow",
		Subsystem: "workflow",
		Name:      "operations_total",
		Help:      "Total number of workflow operations broken down by operation and result code.",
	}, []string{"operation", "result"})

	sowOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sow",
		Subsystem: "workflow",
		Name:      "operation_duration_seconds",
		Help:      "Latency of workflow operations including the store round trips.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	sowReconcile = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sow",
		Subsystem: "consistency",
		Name:      "reconcile_total",
		Help:      "Total number of status reconciliations broken down by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	sowStatusResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sow",
		Subsystem: "consistency",
		Name:      "status_resets_total",
		Help:      "Total number of orphaned in_review documents reset to draft.",
	})
)

func observeOperation(operation string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = CodeInternal
		var svcErr *ServiceError
		if errors.As(err, &svcErr) {
			result = svcErr.Code
		}
	}
	sowTransitions.WithLabelValues(operation, result).Inc()
	sowOperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func recordReconcile(trigger string, changed bool) {
	outcome := "unchanged"
	if changed {
		outcome = "changed"
	}
	sowReconcile.WithLabelValues(trigger, outcome).Inc()
}
