// Package admission implements component C, the Admission Filter. The
// six rules are applied in order, mirroring the sequential
// if-fails-return-early style of devicedb's
// cluster.ClusterController.Step dispatch -- each rule either cancels
// the trigger outright, defers it, or lets it fall through to the
// next rule.
package admission

import (
    "github.com/logdevice/rebuilding-supervisor/clusterview"
    "github.com/logdevice/rebuilding-supervisor/leader"
    "github.com/logdevice/rebuilding-supervisor/metrics"
    "github.com/logdevice/rebuilding-supervisor/trigger"
)

// Outcome is the result of evaluating one trigger against the
// current cluster view.
type Outcome int

const (
    // Admit means the trigger should proceed to the Event Log Writer.
    Admit Outcome = iota
    // Cancel means the trigger should be removed from the table
    // without being published; Entry.CancelledBecause explains why.
    Cancel
    // Defer means the trigger stays in the table and will be
    // re-evaluated on the next cluster-view change or re-check tick.
    Defer
)

// Filter evaluates triggers against a cluster view.
type Filter struct {
    Arbiter *leader.Arbiter

    // MaxNodeRebuildingPercentage is read fresh on every evaluation so
    // that admin overrides (knob set at runtime) take effect
    // immediately, the same way the rest of the supervisor always
    // reads knobs through the live config.Knobs accessor rather than
    // caching a value at startup.
    MaxNodeRebuildingPercentage func() uint
}

// Evaluate applies rules 1-6 in order against entry and returns the
// outcome. It never mutates entry or view; the caller (the supervisor
// loop) is responsible for acting on the outcome.
func (f *Filter) Evaluate(entry *trigger.Entry, view *clusterview.View) (Outcome, trigger.CancelReason) {
    nodeConfig, inConfig := view.NodeConfigFor(entry.Shard.NodeIndex)

    // Rule 1: in config.
    if !inConfig {
        metrics.NodeRebuildingNotTriggeredNotInConfig.Inc()
        return Cancel, trigger.NotInConfig
    }

    // Rule 2: storage role.
    if nodeConfig.StorageRole == clusterview.NoRole || nodeConfig.StorageRole == clusterview.Disabled {
        metrics.NodeRebuildingNotTriggeredNotStorage.Inc()
        return Cancel, trigger.NotStorage
    }

    // Rule 3: already rebuilding.
    if view.RebuildingSet.FullyRebuilding(entry.Shard) {
        metrics.ShardRebuildingNotTriggeredStarted.Inc()
        return Cancel, trigger.AlreadyRebuilding
    }

    // Rule 4: node alive (NODE_DEAD triggers only).
    if entry.Reason == trigger.NodeDead && view.StateOf(entry.Shard.NodeIndex) == clusterview.NodeAlive {
        metrics.ShardRebuildingNotTriggeredNodeAlive.Inc()
        return Cancel, trigger.NodeAliveAgain
    }

    // Rule 5: leader.
    if !f.Arbiter.IsLocalNodeLeader(view) {
        metrics.ShardRebuildingScheduled.Inc()
        return Defer, trigger.NotLeader
    }

    // Rule 6: concurrent-rebuild threshold.
    if f.thresholdExceeded(view) {
        metrics.ShardRebuildingScheduled.Inc()
        return Defer, trigger.NoCancelReason
    }

    return Admit, trigger.NoCancelReason
}

// thresholdExceeded implements rule 6: count distinct in-config nodes
// with any shard FULL-rebuilding, and compare (count+1)/N against the
// configured percentage. Mini (TIME_RANGED) rebuilds and rebuilds for
// nodes no longer in config are excluded from both the numerator and
// N, satisfying P5 (mini-rebuild invisibility). N itself is narrowed
// to storage-capable in-config nodes rather than every node in
// config, since a non-storage node can never rebuild a shard and
// including it would only dilute the percentage.
func (f *Filter) thresholdExceeded(view *clusterview.View) bool {
    rebuildingNodes := make(map[uint16]bool)

    for shard, entry := range view.RebuildingSet {
        if entry.Mode != clusterview.Full {
            continue
        }

        if _, inConfig := view.NodeConfigFor(shard.NodeIndex); !inConfig {
            continue
        }

        rebuildingNodes[shard.NodeIndex] = true
    }

    n := 0

    for _, cfg := range view.Nodes {
        if !cfg.StorageRole.IsStorageCapable() {
            continue
        }

        n++
    }

    if n == 0 {
        return false
    }

    percentage := f.MaxNodeRebuildingPercentage()

    // (count+1)/N > percentage/100  <=>  (count+1)*100 > percentage*N
    return uint64(len(rebuildingNodes)+1)*100 > uint64(percentage)*uint64(n)
}
