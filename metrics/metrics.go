// Package metrics exports the counters named in the rebuilding
// supervisor's external interface contract. It follows the shape of
// devicedb's prometheusRecordStorageError helper in storage/leveldb.go:
// a small set of package-level prometheus handles, registered once,
// incremented from call sites by name rather than by threading a
// collector reference through every component.
package metrics

import (
    "github.com/prometheus/client_golang/prometheus"
)

var (
    ShardRebuildingTriggered = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "shard_rebuilding_triggered",
        Help: "Number of SHARD_NEEDS_REBUILD events this node has observed as durably accepted.",
    })

    ShardRebuildingScheduled = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "shard_rebuilding_scheduled",
        Help: "Number of times a trigger was deferred because this node is not the leader or the concurrent-rebuild threshold would be exceeded.",
    })

    ShardRebuildingNotTriggeredStarted = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "shard_rebuilding_not_triggered_started",
        Help: "Number of times a trigger was cancelled because the shard is already rebuilding.",
    })

    ShardRebuildingNotTriggeredNodeAlive = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "shard_rebuilding_not_triggered_nodealive",
        Help: "Number of times a NODE_DEAD trigger was cancelled because the node came back alive.",
    })

    NodeRebuildingNotTriggeredNotStorage = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "node_rebuilding_not_triggered_notstorage",
        Help: "Number of times a trigger was cancelled because the node's storage role is NONE or DISABLED.",
    })

    NodeRebuildingNotTriggeredNotInConfig = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "node_rebuilding_not_triggered_notinconfig",
        Help: "Number of times a trigger was cancelled because the node left the cluster config.",
    })

    RebuildingSupervisorThrottled = prometheus.NewGauge(prometheus.GaugeOpts{
        Name: "rebuilding_supervisor_throttled",
        Help: "1 if the trigger table is at capacity and new triggers are being rejected, 0 otherwise.",
    })

    FailedSafeLogStores = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "failed_safe_log_stores",
        Help: "Number of local shards that have entered fail-safe mode after a persistent IO error.",
    })
)

// Registry returns a prometheus.Registerer holding every counter
// above, ready to be served from an admin HTTP handler (see package
// admin).
func Registry() *prometheus.Registry {
    registry := prometheus.NewRegistry()

    registry.MustRegister(
        ShardRebuildingTriggered,
        ShardRebuildingScheduled,
        ShardRebuildingNotTriggeredStarted,
        ShardRebuildingNotTriggeredNodeAlive,
        NodeRebuildingNotTriggeredNotStorage,
        NodeRebuildingNotTriggeredNotInConfig,
        RebuildingSupervisorThrottled,
        FailedSafeLogStores,
    )

    return registry
}

// SetThrottled records whether the trigger table is currently at
// capacity, satisfying P6 (rebuilding_supervisor_throttled == 1 iff
// the table is at capacity).
func SetThrottled(throttled bool) {
    if throttled {
        RebuildingSupervisorThrottled.Set(1)
    } else {
        RebuildingSupervisorThrottled.Set(0)
    }
}
