package admission_test

import (
    "time"

    . "github.com/logdevice/rebuilding-supervisor/admission"
    "github.com/logdevice/rebuilding-supervisor/clusterview"
    "github.com/logdevice/rebuilding-supervisor/leader"
    "github.com/logdevice/rebuilding-supervisor/trigger"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

func percentage(p uint) func() uint {
    return func() uint { return p }
}

var _ = Describe("Filter", func() {
    var view *clusterview.View
    var filter *Filter
    var entry *trigger.Entry

    BeforeEach(func() {
        view = &clusterview.View{
            LocalNodeIndex: 1,
            Nodes: map[uint16]clusterview.NodeConfig{
                0: {NodeIndex: 0, StorageRole: clusterview.ReadWrite, NumShards: 2},
                1: {NodeIndex: 1, StorageRole: clusterview.ReadWrite, NumShards: 2},
                2: {NodeIndex: 2, StorageRole: clusterview.ReadWrite, NumShards: 2},
                3: {NodeIndex: 3, StorageRole: clusterview.NoRole, NumShards: 0},
            },
            NodeStates: map[uint16]clusterview.NodeState{
                0: clusterview.NodeDead,
                1: clusterview.NodeAlive,
                2: clusterview.NodeAlive,
                3: clusterview.NodeDead,
            },
            RebuildingSet: clusterview.RebuildingSet{},
        }

        filter = &Filter{
            Arbiter:                     leader.NewArbiter(1),
            MaxNodeRebuildingPercentage: percentage(35),
        }

        entry = &trigger.Entry{
            Shard:       clusterview.ShardId{NodeIndex: 0, ShardIndex: 0},
            Reason:      trigger.NodeDead,
            ScheduledAt: time.Now(),
        }
    })

    Context("the shard's node is not in config", func() {
        It("cancels with NotInConfig", func() {
            entry.Shard = clusterview.ShardId{NodeIndex: 99, ShardIndex: 0}

            outcome, reason := filter.Evaluate(entry, view)

            Expect(outcome).Should(Equal(Cancel))
            Expect(reason).Should(Equal(trigger.NotInConfig))
        })
    })

    Context("the node's storage role is NONE", func() {
        It("cancels with NotStorage", func() {
            entry.Shard = clusterview.ShardId{NodeIndex: 3, ShardIndex: 0}

            outcome, reason := filter.Evaluate(entry, view)

            Expect(outcome).Should(Equal(Cancel))
            Expect(reason).Should(Equal(trigger.NotStorage))
        })
    })

    Context("the shard is already rebuilding", func() {
        It("cancels with AlreadyRebuilding", func() {
            view.RebuildingSet[entry.Shard] = clusterview.RebuildingSetEntry{Mode: clusterview.Full}

            outcome, reason := filter.Evaluate(entry, view)

            Expect(outcome).Should(Equal(Cancel))
            Expect(reason).Should(Equal(trigger.AlreadyRebuilding))
        })
    })

    Context("a NODE_DEAD trigger whose node came back alive", func() {
        It("cancels with NodeAliveAgain", func() {
            view.NodeStates[0] = clusterview.NodeAlive

            outcome, reason := filter.Evaluate(entry, view)

            Expect(outcome).Should(Equal(Cancel))
            Expect(reason).Should(Equal(trigger.NodeAliveAgain))
        })
    })

    Context("this node is not the leader", func() {
        It("defers with NotLeader semantics", func() {
            filter.Arbiter = leader.NewArbiter(2)

            outcome, _ := filter.Evaluate(entry, view)

            Expect(outcome).Should(Equal(Defer))
        })
    })

    Context("the concurrent-rebuild threshold would be exceeded", func() {
        It("defers rather than admitting", func() {
            view.RebuildingSet[clusterview.ShardId{NodeIndex: 2, ShardIndex: 0}] = clusterview.RebuildingSetEntry{Mode: clusterview.Full}
            filter.MaxNodeRebuildingPercentage = percentage(1)

            outcome, _ := filter.Evaluate(entry, view)

            Expect(outcome).Should(Equal(Defer))
        })
    })

    Context("mini (TIME_RANGED) rebuilds do not count toward the threshold", func() {
        It("still admits when only a mini-rebuild is in progress", func() {
            view.RebuildingSet[clusterview.ShardId{NodeIndex: 2, ShardIndex: 0}] = clusterview.RebuildingSetEntry{Mode: clusterview.TimeRanged}

            outcome, _ := filter.Evaluate(entry, view)

            Expect(outcome).Should(Equal(Admit))
        })
    })

    Context("every rule passes", func() {
        It("admits the trigger", func() {
            outcome, _ := filter.Evaluate(entry, view)

            Expect(outcome).Should(Equal(Admit))
        })
    })
})
