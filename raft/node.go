package raft

import (
    "context"
    "math"
    "time"

    "github.com/coreos/etcd/raft"
    "github.com/coreos/etcd/raft/raftpb"

    . "github.com/logdevice/rebuilding-supervisor/logging"
)

// LogCompactionSize is the number of committed entries after which
// RaftNode takes a snapshot and compacts, mirroring
// devicedb/cloud/raft's RaftNode.
const LogCompactionSize = 1000

// SnapshotSource supplies the bytes to embed in a raft snapshot once
// the log has grown past LogCompactionSize. For the event log this is
// the current rebuilding-set materialized view.
type SnapshotSource interface {
    GetSnapshot() ([]byte, error)
}

// RaftNode wraps coreos/etcd's raft.Node, driving its Ready() loop and
// persisting through a MemoryStorage. The event log uses this to order
// appends to its own internal replicated log; it has nothing to do
// with leader arbitration at the supervisor level (see package leader).
type RaftNode struct {
    id      uint64
    node    raft.Node
    storage *MemoryStorage
    config  SnapshotSource

    transport *TransportHub

    lastCommittedIndex uint64

    onMessagesCB    func([]raftpb.Message)
    onSnapshotCB    func(raftpb.Snapshot)
    onEntryCB       func(raftpb.Entry)
    onErrorCB       func(error)

    stop chan int
    done chan int
}

func NewRaftNode(id uint64, storage *MemoryStorage, transport *TransportHub, config SnapshotSource) *RaftNode {
    return &RaftNode{
        id:        id,
        storage:   storage,
        transport: transport,
        config:    config,
        stop:      make(chan int),
        done:      make(chan int),
    }
}

func (n *RaftNode) OnMessages(cb func([]raftpb.Message)) {
    n.onMessagesCB = cb
}

func (n *RaftNode) OnSnapshot(cb func(raftpb.Snapshot)) {
    n.onSnapshotCB = cb
}

func (n *RaftNode) OnCommittedEntry(cb func(raftpb.Entry)) {
    n.onEntryCB = cb
}

func (n *RaftNode) OnError(cb func(error)) {
    n.onErrorCB = cb
}

// Start opens storage and either joins the existing raft group
// (RestartNode) or bootstraps a fresh one (StartNode), depending on
// whether the storage already holds state.
func (n *RaftNode) Start(peers []raft.Peer) error {
    if err := n.storage.Open(); err != nil {
        return err
    }

    raftConfig := &raft.Config{
        ID:              n.id,
        ElectionTick:    10,
        HeartbeatTick:   1,
        Storage:         n.storage,
        MaxSizePerMsg:   math.MaxUint16,
        MaxInflightMsgs: 256,
    }

    if n.storage.IsEmpty() {
        n.node = raft.StartNode(raftConfig, peers)
    } else {
        n.node = raft.RestartNode(raftConfig)
    }

    if snap, err := n.storage.Snapshot(); err == nil && !raft.IsEmptySnap(snap) && n.onSnapshotCB != nil {
        n.onSnapshotCB(snap)
    }

    go n.run()

    return nil
}

func (n *RaftNode) Stop() {
    close(n.stop)
    <-n.done
    n.node.Stop()
    n.storage.Close()
}

// Propose appends data to the log, returning once it has been handed
// to raft (not once it is committed -- callers observe commit through
// OnCommittedEntry, the same asynchronous contract devicedb's
// RaftNode.Propose exposes).
func (n *RaftNode) Propose(ctx context.Context, data []byte) error {
    return n.node.Propose(ctx, data)
}

func (n *RaftNode) AddNode(ctx context.Context, nodeID uint64, context []byte) error {
    return n.node.ProposeConfChange(ctx, raftpb.ConfChange{
        Type:    raftpb.ConfChangeAddNode,
        NodeID:  nodeID,
        Context: context,
    })
}

func (n *RaftNode) RemoveNode(ctx context.Context, nodeID uint64) error {
    return n.node.ProposeConfChange(ctx, raftpb.ConfChange{
        Type:   raftpb.ConfChangeRemoveNode,
        NodeID: nodeID,
    })
}

// Receive feeds an inbound raft message (delivered by TransportHub)
// into the local raft.Node.
func (n *RaftNode) Receive(ctx context.Context, msg raftpb.Message) error {
    return n.node.Step(ctx, msg)
}

func (n *RaftNode) run() {
    defer close(n.done)

    ticker := time.NewTicker(time.Second)
    defer ticker.Stop()

    for {
        select {
        case <-ticker.C:
            n.node.Tick()

        case ready := <-n.node.Ready():
            if err := n.saveToStorage(ready.HardState, ready.Entries, ready.Snapshot); err != nil {
                if n.onErrorCB != nil {
                    n.onErrorCB(err)
                }

                continue
            }

            if len(ready.Messages) > 0 && n.onMessagesCB != nil {
                n.onMessagesCB(ready.Messages)
            }

            if !raft.IsEmptySnap(ready.Snapshot) {
                n.lastCommittedIndex = ready.Snapshot.Metadata.Index

                if n.onSnapshotCB != nil {
                    n.onSnapshotCB(ready.Snapshot)
                }
            }

            for _, entry := range ready.CommittedEntries {
                n.lastCommittedIndex = entry.Index

                if entry.Type == raftpb.EntryConfChange {
                    n.applyConfigurationChange(entry)
                }

                if n.onEntryCB != nil {
                    n.onEntryCB(entry)
                }
            }

            n.takeSnapshotIfEnoughEntries()

            n.node.Advance()

        case <-n.stop:
            return
        }
    }
}

func (n *RaftNode) saveToStorage(hs raftpb.HardState, ents []raftpb.Entry, snap raftpb.Snapshot) error {
    return n.storage.ApplyAll(hs, ents, snap)
}

func (n *RaftNode) applyConfigurationChange(entry raftpb.Entry) {
    var cc raftpb.ConfChange

    if err := cc.Unmarshal(entry.Data); err != nil {
        Log.Errorf("raft: unable to unmarshal conf change at index %d: %v", entry.Index, err.Error())
        return
    }

    n.node.ApplyConfChange(cc)
}

func (n *RaftNode) takeSnapshotIfEnoughEntries() {
    firstIndex, err := n.storage.FirstIndex()

    if err != nil {
        return
    }

    if n.lastCommittedIndex < firstIndex+LogCompactionSize {
        return
    }

    if n.config == nil {
        return
    }

    data, err := n.config.GetSnapshot()

    if err != nil {
        Log.Errorf("raft: unable to obtain snapshot data: %v", err.Error())
        return
    }

    if _, err := n.storage.CreateSnapshot(n.lastCommittedIndex, nil, data); err != nil {
        Log.Errorf("raft: unable to create snapshot at index %d: %v", n.lastCommittedIndex, err.Error())
        return
    }

    if err := n.storage.Compact(n.lastCommittedIndex); err != nil {
        Log.Errorf("raft: unable to compact log at index %d: %v", n.lastCommittedIndex, err.Error())
    }
}

// ReportUnreachable and ReportSnapshot exist to satisfy callers that
// expect the full raft transport-feedback contract; the event log's
// HTTP transport has no connection-level reachability signal to report.
func (n *RaftNode) ReportUnreachable(id uint64) {}

func (n *RaftNode) ReportSnapshot(id uint64, status raft.SnapshotStatus) {}
