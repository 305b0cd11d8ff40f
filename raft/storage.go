package raft

import (
    "github.com/coreos/etcd/raft"
    "github.com/coreos/etcd/raft/raftpb"
)

// MemoryStorage is the event log's own replicated-log storage. The
// event log's raft instance orders SHARD_NEEDS_REBUILD and friends;
// it is an internal collaborator of component E, not a
// supervisor-level consensus mechanism (see spec.md's Non-goals).
type MemoryStorage struct {
    raft.MemoryStorage
    isEmpty bool
    nodeID  uint64
}

func NewMemoryStorage() *MemoryStorage {
    return &MemoryStorage{
        MemoryStorage: *raft.NewMemoryStorage(),
        isEmpty:       true,
    }
}

func (s *MemoryStorage) Open() error {
    return nil
}

func (s *MemoryStorage) Close() error {
    return nil
}

func (s *MemoryStorage) IsEmpty() bool {
    return s.isEmpty
}

func (s *MemoryStorage) SetNodeID(id uint64) error {
    s.nodeID = id
    s.isEmpty = false

    return nil
}

func (s *MemoryStorage) NodeID() (uint64, error) {
    return s.nodeID, nil
}

// ApplyAll persists a raft Ready batch atomically: entries, then hard
// state, then snapshot, mirroring devicedb's RaftNodeStorage.ApplyAll
// ordering (entries must be durable before the hard state that
// references them is updated).
func (s *MemoryStorage) ApplyAll(hs raftpb.HardState, ents []raftpb.Entry, snap raftpb.Snapshot) error {
    if err := s.Append(ents); err != nil {
        return err
    }

    if !raft.IsEmptyHardState(hs) {
        if err := s.SetHardState(hs); err != nil {
            return err
        }
    }

    if !raft.IsEmptySnap(snap) {
        if err := s.ApplySnapshot(snap); err != nil {
            return err
        }
    }

    return nil
}
