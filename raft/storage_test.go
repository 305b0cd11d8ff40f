package raft_test

import (
    "github.com/coreos/etcd/raft/raftpb"

    . "github.com/logdevice/rebuilding-supervisor/raft"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

var _ = Describe("MemoryStorage", func() {
    var storage *MemoryStorage

    BeforeEach(func() {
        storage = NewMemoryStorage()
    })

    It("starts out empty", func() {
        Expect(storage.IsEmpty()).Should(BeTrue())
    })

    It("stops being empty once a node ID is assigned", func() {
        Expect(storage.SetNodeID(7)).Should(Succeed())
        Expect(storage.IsEmpty()).Should(BeFalse())

        id, err := storage.NodeID()
        Expect(err).Should(BeNil())
        Expect(id).Should(Equal(uint64(7)))
    })

    Describe("ApplyAll", func() {
        It("appends entries and persists hard state together", func() {
            entries := []raftpb.Entry{
                {Index: 1, Term: 1, Data: []byte("one")},
                {Index: 2, Term: 1, Data: []byte("two")},
            }
            hs := raftpb.HardState{Term: 1, Commit: 2}

            Expect(storage.ApplyAll(hs, entries, raftpb.Snapshot{})).Should(Succeed())

            stored, err := storage.Entries(1, 3, 100)
            Expect(err).Should(BeNil())
            Expect(stored).Should(HaveLen(2))

            storedHS, _, err := storage.InitialState()
            Expect(err).Should(BeNil())
            Expect(storedHS.Commit).Should(Equal(uint64(2)))
        })

        It("tolerates an empty hard state and an empty snapshot", func() {
            Expect(storage.ApplyAll(raftpb.HardState{}, nil, raftpb.Snapshot{})).Should(Succeed())
        })
    })
})
