package clusterview

import (
    "time"

    "github.com/logdevice/rebuilding-supervisor/gossiper"
    "github.com/logdevice/rebuilding-supervisor/logging"
)

var Log = logging.Log

// View is the coherent snapshot the supervisor loop reads once per
// iteration: config, failure-detector health, the authoritative
// rebuilding set and the self-isolation flag all taken from the same
// epoch, matching the spec's requirement that all four fields come
// from a single coherent read.
type View struct {
    Epoch          uint64
    LocalNodeIndex uint16
    Nodes          map[uint16]NodeConfig
    NodeStates     map[uint16]NodeState
    RebuildingSet  RebuildingSet
    SelfIsolated   bool
}

// NodeConfigFor returns the config entry for nodeIndex and whether it
// is present, the way cluster.ClusterController.State.Nodes is
// queried directly by callers in devicedb.
func (v *View) NodeConfigFor(nodeIndex uint16) (NodeConfig, bool) {
    cfg, ok := v.Nodes[nodeIndex]

    return cfg, ok
}

// StateOf returns the health of nodeIndex, defaulting to DEAD for a
// node this supervisor has never heard from -- an absent digest is
// treated the same as an explicit DEAD report so that a freshly
// expanded node that "never starts" (spec scenario ExpandDead) is
// rebuilt rather than silently ignored.
func (v *View) StateOf(nodeIndex uint16) NodeState {
    if nodeIndex == v.LocalNodeIndex && v.SelfIsolated {
        return NodeIsolatedSelf
    }

    state, ok := v.NodeStates[nodeIndex]

    if !ok {
        return NodeDead
    }

    return state
}

// AliveStorageNodeIndexes returns the node indexes of every node that
// is in config, ALIVE, and storage-capable, sorted ascending. This is
// exactly the candidate set the Leader Arbiter (component D) picks
// the minimum from.
func (v *View) AliveStorageNodeIndexes() []uint16 {
    indexes := make([]uint16, 0, len(v.Nodes))

    for nodeIndex, cfg := range v.Nodes {
        if !cfg.StorageRole.IsStorageCapable() {
            continue
        }

        if v.StateOf(nodeIndex) != NodeAlive {
            continue
        }

        indexes = append(indexes, nodeIndex)
    }

    sortUint16(indexes)

    return indexes
}

func sortUint16(s []uint16) {
    for i := 1; i < len(s); i++ {
        for j := i; j > 0 && s[j-1] > s[j]; j-- {
            s[j-1], s[j] = s[j], s[j-1]
        }
    }
}

// ConfigSource is whatever owns the live cluster membership config.
// The real implementation is wired to the event-log-replicated config
// controller; out of scope for this repo per the spec, so only the
// read contract is defined here.
type ConfigSource interface {
    Nodes() map[uint16]NodeConfig
}

// RebuildingSetSource is read from the local replay tail of the event
// log (see package eventlog).
type RebuildingSetSource interface {
    RebuildingSet() RebuildingSet
}

// Builder assembles a coherent View each tick from its three
// asynchronous sources, mirroring how
// cluster.ClusterController.ApplySnapshot combines a config update
// with diffing against prior local state before notifying callers.
type Builder struct {
    LocalNodeIndex          uint16
    Config                  ConfigSource
    Gossip                  gossiper.View
    RebuildingSetSource     RebuildingSetSource
    MinGossipsForStableState func() int
    GossipInterval           time.Duration

    epoch uint64
}

func NewBuilder(localNodeIndex uint16, config ConfigSource, gossip gossiper.View, rebuildingSet RebuildingSetSource, minGossips func() int) *Builder {
    return &Builder{
        LocalNodeIndex:           localNodeIndex,
        Config:                   config,
        Gossip:                   gossip,
        RebuildingSetSource:      rebuildingSet,
        MinGossipsForStableState: minGossips,
        GossipInterval:           time.Second,
    }
}

// Snapshot produces one coherent View. It is cheap and
// allocation-light enough to call once per supervisor tick.
func (b *Builder) Snapshot() *View {
    b.epoch++

    nodes := b.Config.Nodes()
    digests := b.Gossip.Digests()
    nodeStates := make(map[uint16]NodeState, len(digests))

    for nodeIndex, digest := range digests {
        nodeStates[nodeIndex] = translateHealth(digest.Health)
    }

    selfIsolated := b.Gossip.ReachablePeerCount() < b.minGossipsForStableState()

    if selfIsolated {
        Log.Warningf("Local node (id = %d) is ISOLATED_SELF: only reached %d peers, need %d", b.LocalNodeIndex, b.Gossip.ReachablePeerCount(), b.minGossipsForStableState())
    }

    return &View{
        Epoch:          b.epoch,
        LocalNodeIndex: b.LocalNodeIndex,
        Nodes:          nodes,
        NodeStates:     nodeStates,
        RebuildingSet:  b.RebuildingSetSource.RebuildingSet(),
        SelfIsolated:   selfIsolated,
    }
}

func (b *Builder) minGossipsForStableState() int {
    if b.MinGossipsForStableState == nil {
        return 1
    }

    return b.MinGossipsForStableState()
}

func translateHealth(h gossiper.NodeHealth) NodeState {
    switch h {
    case gossiper.Alive:
        return NodeAlive
    case gossiper.Dead:
        return NodeDead
    case gossiper.Suspect:
        return NodeSuspect
    }

    return NodeDead
}
