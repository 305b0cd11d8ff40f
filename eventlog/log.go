package eventlog

import (
    "bytes"
    "context"
    "encoding/gob"
    "errors"
    "sync"

    "github.com/coreos/etcd/raft"
    "github.com/coreos/etcd/raft/raftpb"
    "github.com/google/uuid"

    "github.com/logdevice/rebuilding-supervisor/logging"

    internalraft "github.com/logdevice/rebuilding-supervisor/raft"

    "github.com/logdevice/rebuilding-supervisor/clusterview"
)

// EVersionConflict is returned by Append when the event log's actual
// current version no longer matches the caller's conditional_version,
// per spec.md 4.E. It is not fatal: the supervisor loop re-reads the
// tail and retries.
var EVersionConflict = errors.New("event log: conditional_version no longer matches the current version")

// EAppendTimeout is returned by Append if ctx is cancelled before the
// proposed entry is observed committed.
var EAppendTimeout = errors.New("event log: timed out waiting for append to commit")

type appendOutcome struct {
    lsn clusterview.Lsn
    err error
}

// Log is the local replica of the cluster's event log: a small
// etcd-raft group (one instance per supervisor process, joined to its
// peers) whose committed entries are applied to an in-memory
// RebuildingSet. It implements component E end to end -- both the
// writer half (Append) and the replay-tail reader half
// (clusterview.RebuildingSetSource) described in spec.md.
type Log struct {
    node      *internalraft.RaftNode
    storage   *internalraft.MemoryStorage
    transport *internalraft.TransportHub

    mu            sync.RWMutex
    version       clusterview.Version
    rebuildingSet clusterview.RebuildingSet
    waiters       map[string]chan appendOutcome

    appliedCB func(Record, clusterview.Lsn)
}

func NewLog(localNodeID uint64, transport *internalraft.TransportHub) *Log {
    l := &Log{
        storage:       internalraft.NewMemoryStorage(),
        transport:     transport,
        rebuildingSet: make(clusterview.RebuildingSet),
        waiters:       make(map[string]chan appendOutcome),
    }

    l.node = internalraft.NewRaftNode(localNodeID, l.storage, transport, l)
    l.node.OnCommittedEntry(l.onCommittedEntry)
    l.node.OnSnapshot(l.onSnapshot)
    l.node.OnMessages(l.onMessages)
    l.node.OnError(func(err error) {
        logging.Log.Errorf("event log: storage error: %v", err.Error())
    })

    return l
}

// Start joins or bootstraps the raft group. peers is empty for a node
// restarting into an existing group.
func (l *Log) Start(peers []raft.Peer) error {
    return l.node.Start(peers)
}

func (l *Log) Stop() {
    l.node.Stop()
}

func (l *Log) onMessages(msgs []raftpb.Message) {
    for _, msg := range msgs {
        go func(m raftpb.Message) {
            if err := l.transport.Send(context.Background(), m); err != nil {
                logging.Log.Warningf("event log: failed to send raft message to node %d: %v", m.To, err.Error())
            }
        }(msg)
    }
}

// Receive feeds an inbound raft message delivered by the transport
// into the local raft instance.
func (l *Log) Receive(ctx context.Context, msg raftpb.Message) error {
    return l.node.Receive(ctx, msg)
}

// Append proposes record with the given conditional_version and blocks
// until it is either applied (returning the LSN it was assigned) or
// rejected with EVersionConflict because the version had moved on.
// ctx governs how long the caller is willing to wait for commit.
func (l *Log) Append(ctx context.Context, record Record, conditionalVersion clusterview.Version) (clusterview.Lsn, error) {
    record.RequestID = uuid.NewString()
    record.ConditionalVersion = conditionalVersion

    data, err := record.Encode()

    if err != nil {
        return 0, err
    }

    outcome := make(chan appendOutcome, 1)

    l.mu.Lock()
    l.waiters[record.RequestID] = outcome
    l.mu.Unlock()

    defer func() {
        l.mu.Lock()
        delete(l.waiters, record.RequestID)
        l.mu.Unlock()
    }()

    if err := l.node.Propose(ctx, data); err != nil {
        return 0, err
    }

    select {
    case result := <-outcome:
        return result.lsn, result.err
    case <-ctx.Done():
        return 0, EAppendTimeout
    }
}

// RebuildingSet satisfies clusterview.RebuildingSetSource, handing the
// supervisor loop a coherent snapshot of the locally-replayed
// authoritative rebuilding set.
func (l *Log) RebuildingSet() clusterview.RebuildingSet {
    l.mu.RLock()
    defer l.mu.RUnlock()

    return l.rebuildingSet.Clone()
}

// Version returns the LSN of the most recently applied entry.
func (l *Log) Version() clusterview.Version {
    l.mu.RLock()
    defer l.mu.RUnlock()

    return l.version
}

// OnApplied registers a callback invoked synchronously on the raft
// apply goroutine, after Log's own lock has been released, every time
// a committed entry is applied successfully (entries rejected with
// EVersionConflict do not reach it) -- this is the replay-tail feed the supervisor loop watches for duplicate
// suppression (component B's "awaiting confirmation" rule).
func (l *Log) OnApplied(cb func(Record, clusterview.Lsn)) {
    l.appliedCB = cb
}

func (l *Log) onCommittedEntry(entry raftpb.Entry) {
    if entry.Type != raftpb.EntryNormal || len(entry.Data) == 0 {
        return
    }

    record, err := DecodeRecord(entry.Data)

    if err != nil {
        logging.Log.Warningf("event log: unable to decode entry at index %d: %v", entry.Index, err.Error())
        return
    }

    lsn := clusterview.Lsn(entry.Index)

    l.mu.Lock()

    var applyErr error

    switch record.Type {
    case ShardNeedsRebuild:
        if record.ConditionalVersion != 0 && record.ConditionalVersion != l.version {
            applyErr = EVersionConflict
        } else {
            mode := clusterview.Full

            if record.Flags.Has(TimeRanged) {
                mode = clusterview.TimeRanged
            }

            l.rebuildingSet[record.Shard] = clusterview.RebuildingSetEntry{
                Mode:    mode,
                Version: lsn,
                Ranges:  record.Ranges,
            }

            l.version = lsn
        }

    case ShardAbortRebuild:
        delete(l.rebuildingSet, record.Shard)
        l.version = lsn

    case ShardIsRebuilt:
        // Consumed for downstream donor bookkeeping only; the
        // authoritative set stays populated until the terminal ack.
        l.version = lsn

    case ShardAckRebuilt:
        delete(l.rebuildingSet, record.Shard)
        l.version = lsn
    }

    waiter, hasWaiter := l.waiters[record.RequestID]
    cb := l.appliedCB

    l.mu.Unlock()

    if hasWaiter {
        waiter <- appendOutcome{lsn: lsn, err: applyErr}
    }

    if applyErr == nil && cb != nil {
        cb(record, lsn)
    }
}

type snapshotState struct {
    Version       clusterview.Version
    RebuildingSet clusterview.RebuildingSet
}

// GetSnapshot satisfies raft.SnapshotSource: it is invoked once the
// log has grown past internalraft.LogCompactionSize entries.
func (l *Log) GetSnapshot() ([]byte, error) {
    l.mu.RLock()
    state := snapshotState{Version: l.version, RebuildingSet: l.rebuildingSet.Clone()}
    l.mu.RUnlock()

    var buf bytes.Buffer

    if err := gob.NewEncoder(&buf).Encode(state); err != nil {
        return nil, err
    }

    return buf.Bytes(), nil
}

func (l *Log) onSnapshot(snap raftpb.Snapshot) {
    if len(snap.Data) == 0 {
        return
    }

    var state snapshotState

    if err := gob.NewDecoder(bytes.NewReader(snap.Data)).Decode(&state); err != nil {
        logging.Log.Errorf("event log: unable to decode snapshot: %v", err.Error())
        return
    }

    l.mu.Lock()
    l.version = state.Version
    l.rebuildingSet = state.RebuildingSet
    l.mu.Unlock()
}
