package eventlog_test

import (
    "context"
    "time"

    "github.com/coreos/etcd/raft"

    "github.com/logdevice/rebuilding-supervisor/clusterview"
    . "github.com/logdevice/rebuilding-supervisor/eventlog"
    internalraft "github.com/logdevice/rebuilding-supervisor/raft"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

// appendUntilReady retries Append until the single-node raft group has
// elected itself leader and the entry commits. A single-node group
// still has to run out its election timeout (ElectionTick=10, one
// tick per real second in RaftNode.run) before it campaigns, the same
// latency devicedb's own cloud/raft node_test budgets multiple seconds
// for before proposing anything -- a single bounded Append call here
// would race that startup window.
func appendUntilReady(eventLog *Log, record Record, conditionalVersion clusterview.Version) (clusterview.Lsn, error) {
    var lsn clusterview.Lsn
    var err error

    deadline := time.Now().Add(25 * time.Second)

    for time.Now().Before(deadline) {
        ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        lsn, err = eventLog.Append(ctx, record, conditionalVersion)
        cancel()

        if err == nil || err == EVersionConflict {
            return lsn, err
        }

        time.Sleep(200 * time.Millisecond)
    }

    return lsn, err
}

var _ = Describe("Log", func() {
    var eventLog *Log

    BeforeEach(func() {
        transport := internalraft.NewTransportHub()
        eventLog = NewLog(1, transport)

        Expect(eventLog.Start([]raft.Peer{{ID: 1}})).Should(Succeed())
    })

    AfterEach(func() {
        eventLog.Stop()
    })

    It("applies a SHARD_NEEDS_REBUILD append to the replayed rebuilding set", func() {
        shard := clusterview.ShardId{NodeIndex: 3, ShardIndex: 0}

        lsn, err := appendUntilReady(eventLog, Record{
            Type:  ShardNeedsRebuild,
            Shard: shard,
        }, eventLog.Version())

        Expect(err).Should(BeNil())
        Expect(lsn).ShouldNot(BeZero())

        set := eventLog.RebuildingSet()
        Expect(set).Should(HaveKey(shard))
        Expect(set[shard].Mode).Should(Equal(clusterview.Full))
        Expect(eventLog.Version()).Should(Equal(clusterview.Version(lsn)))
    })

    It("rejects a stale conditional_version with EVersionConflict", func() {
        shard := clusterview.ShardId{NodeIndex: 3, ShardIndex: 0}

        _, err := appendUntilReady(eventLog, Record{Type: ShardNeedsRebuild, Shard: shard}, 999)

        Expect(err).Should(Equal(EVersionConflict))
        Expect(eventLog.RebuildingSet()).ShouldNot(HaveKey(shard))
    })

    It("invokes the applied callback exactly once per successfully applied entry", func() {
        shard := clusterview.ShardId{NodeIndex: 5, ShardIndex: 2}
        applied := make(chan Record, 4)

        eventLog.OnApplied(func(r Record, lsn clusterview.Lsn) {
            applied <- r
        })

        _, err := appendUntilReady(eventLog, Record{Type: ShardNeedsRebuild, Shard: shard}, eventLog.Version())
        Expect(err).Should(BeNil())

        var record Record
        Eventually(applied, time.Second).Should(Receive(&record))
        Expect(record.Shard).Should(Equal(shard))

        Consistently(applied, 200*time.Millisecond).ShouldNot(Receive())
    })

    It("clears the shard from the rebuilding set on SHARD_ACK_REBUILT", func() {
        shard := clusterview.ShardId{NodeIndex: 1, ShardIndex: 0}

        _, err := appendUntilReady(eventLog, Record{Type: ShardNeedsRebuild, Shard: shard}, eventLog.Version())
        Expect(err).Should(BeNil())
        Expect(eventLog.RebuildingSet()).Should(HaveKey(shard))

        _, err = appendUntilReady(eventLog, Record{Type: ShardAckRebuilt, Shard: shard}, 0)
        Expect(err).Should(BeNil())
        Expect(eventLog.RebuildingSet()).ShouldNot(HaveKey(shard))
    })
})
