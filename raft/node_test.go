package raft_test

import (
    "context"
    "time"

    "github.com/coreos/etcd/raft"
    "github.com/coreos/etcd/raft/raftpb"

    . "github.com/logdevice/rebuilding-supervisor/raft"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

type fakeSnapshotSource struct {
    data []byte
}

func (f *fakeSnapshotSource) GetSnapshot() ([]byte, error) {
    return f.data, nil
}

var _ = Describe("RaftNode", func() {
    var node *RaftNode
    var committed chan raftpb.Entry

    BeforeEach(func() {
        committed = make(chan raftpb.Entry, 16)
        storage := NewMemoryStorage()
        transport := NewTransportHub()

        node = NewRaftNode(1, storage, transport, &fakeSnapshotSource{})
        node.OnCommittedEntry(func(e raftpb.Entry) {
            committed <- e
        })

        Expect(node.Start([]raft.Peer{{ID: 1}})).Should(Succeed())
    })

    AfterEach(func() {
        node.Stop()
    })

    It("commits a proposal made to a single-node group", func() {
        // A single-node raft group still has to run out its election
        // timeout (ElectionTick=10, one tick per real second in
        // RaftNode.run) before it campaigns and becomes its own
        // leader, the same latency devicedb's own cloud/raft node_test
        // budgets multiple seconds for before proposing anything.
        ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
        defer cancel()

        Eventually(func() error {
            return node.Propose(ctx, []byte("hello"))
        }, 25*time.Second, 200*time.Millisecond).Should(Succeed())

        Eventually(func() bool {
            select {
            case entry := <-committed:
                return entry.Type == raftpb.EntryNormal && string(entry.Data) == "hello"
            default:
                return false
            }
        }, 25*time.Second, 50*time.Millisecond).Should(BeTrue())
    })
})
