// Package metrics holds the prometheus collectors of the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoomWrites counts shape writes reaching the room, by outcome
	// (applied, stale, deleted, invalid).
	RoomWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabcanvas",
		Subsystem: "room",
		Name:      "writes_total",
		Help:      "Shape writes received by the room, by outcome.",
	}, []string{"outcome"})

	RoomSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collabcanvas",
		Subsystem: "room",
		Name:      "subscribers",
		Help:      "Active snapshot subscriptions.",
	})

	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabcanvas",
		Subsystem: "sync",
		Name:      "flushes_total",
		Help:      "Change queue flushes, by result.",
	}, []string{"result"})

	FlushedDeltas = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collabcanvas",
		Subsystem: "sync",
		Name:      "flushed_deltas_total",
		Help:      "Deltas sent to the room by client sessions.",
	})

	ReconcileOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabcanvas",
		Subsystem: "sync",
		Name:      "reconcile_operations_total",
		Help:      "Local document operations performed while reconciling snapshots.",
	}, []string{"op"})

	LeaseAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabcanvas",
		Subsystem: "lease",
		Name:      "acquisitions_total",
		Help:      "Per-shape lease requests, by outcome.",
	}, []string{"outcome"})

	RetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collabcanvas",
		Subsystem: "lease",
		Name:      "retry_attempts_total",
		Help:      "Retried mutation attempts after lease contention.",
	})

	AgentCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabcanvas",
		Subsystem: "agent",
		Name:      "commands_total",
		Help:      "Agent tool invocations, by tool and outcome.",
	}, []string{"tool", "outcome"})

	AgentCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collabcanvas",
		Subsystem: "agent",
		Name:      "command_duration_seconds",
		Help:      "Duration of agent command streams.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
)
