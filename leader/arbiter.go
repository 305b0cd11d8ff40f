// Package leader implements component D, the Leader Arbiter. There is
// no separate consensus service: leadership is implicit from cluster
// config, the way devicedb's LocalNodeID-based checks
// (LocalNodeIsInCluster, LocalNodeWasRemovedFromCluster in
// cluster.ClusterController) derive membership facts directly from
// the replicated config rather than running a side election protocol.
package leader

import (
    "github.com/logdevice/rebuilding-supervisor/clusterview"
)

// Arbiter decides whether the local node is responsible for
// publishing rebuild decisions.
type Arbiter struct {
    LocalNodeIndex uint16
}

func NewArbiter(localNodeIndex uint16) *Arbiter {
    return &Arbiter{LocalNodeIndex: localNodeIndex}
}

// Leader returns the node_index of the node that is currently
// responsible for publishing rebuild decisions: the lowest node_index
// among ALIVE, storage-capable, in-config nodes. ok is false if there
// is no eligible leader at all (e.g. every storage node is down).
func (a *Arbiter) Leader(view *clusterview.View) (nodeIndex uint16, ok bool) {
    candidates := view.AliveStorageNodeIndexes()

    if len(candidates) == 0 {
        return 0, false
    }

    // AliveStorageNodeIndexes is sorted ascending, so its first
    // element is the minimum. A node that is ISOLATED_SELF is already
    // excluded because StateOf reports NodeIsolatedSelf, not
    // NodeAlive, for the local node while isolated.
    return candidates[0], true
}

// IsLocalNodeLeader reports whether the local node is the current
// leader under view.
func (a *Arbiter) IsLocalNodeLeader(view *clusterview.View) bool {
    leader, ok := a.Leader(view)

    return ok && leader == a.LocalNodeIndex
}
