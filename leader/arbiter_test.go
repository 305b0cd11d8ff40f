package leader_test

import (
    "github.com/logdevice/rebuilding-supervisor/clusterview"
    . "github.com/logdevice/rebuilding-supervisor/leader"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

func viewWith(nodes map[uint16]clusterview.NodeConfig, states map[uint16]clusterview.NodeState) *clusterview.View {
    return &clusterview.View{
        Nodes:      nodes,
        NodeStates: states,
    }
}

var _ = Describe("Arbiter", func() {
    var nodes map[uint16]clusterview.NodeConfig

    BeforeEach(func() {
        nodes = map[uint16]clusterview.NodeConfig{
            0: {NodeIndex: 0, StorageRole: clusterview.ReadWrite, NumShards: 2},
            1: {NodeIndex: 1, StorageRole: clusterview.ReadWrite, NumShards: 2},
            2: {NodeIndex: 2, StorageRole: clusterview.NoRole, NumShards: 0},
            3: {NodeIndex: 3, StorageRole: clusterview.ReadOnly, NumShards: 2},
        }
    })

    Context("all storage nodes are alive", func() {
        It("picks the lowest node_index among storage-capable nodes", func() {
            states := map[uint16]clusterview.NodeState{
                0: clusterview.NodeAlive,
                1: clusterview.NodeAlive,
                2: clusterview.NodeAlive,
                3: clusterview.NodeAlive,
            }

            arbiter := NewArbiter(1)
            view := viewWith(nodes, states)

            leaderIndex, ok := arbiter.Leader(view)
            Expect(ok).Should(BeTrue())
            Expect(leaderIndex).Should(Equal(uint16(0)))
            Expect(arbiter.IsLocalNodeLeader(view)).Should(BeFalse())
        })
    })

    Context("the lowest-index storage node is dead", func() {
        It("falls through to the next lowest alive storage node", func() {
            states := map[uint16]clusterview.NodeState{
                0: clusterview.NodeDead,
                1: clusterview.NodeAlive,
                2: clusterview.NodeAlive,
                3: clusterview.NodeAlive,
            }

            arbiter := NewArbiter(1)
            view := viewWith(nodes, states)

            Expect(arbiter.IsLocalNodeLeader(view)).Should(BeTrue())
        })
    })

    Context("the local node is isolated", func() {
        It("is not eligible even if numerically lowest", func() {
            states := map[uint16]clusterview.NodeState{
                0: clusterview.NodeIsolatedSelf,
                1: clusterview.NodeAlive,
                3: clusterview.NodeAlive,
            }

            view := &clusterview.View{
                LocalNodeIndex: 0,
                SelfIsolated:   true,
                Nodes:          nodes,
                NodeStates:     states,
            }

            arbiter := NewArbiter(0)

            leaderIndex, ok := arbiter.Leader(view)
            Expect(ok).Should(BeTrue())
            Expect(leaderIndex).Should(Equal(uint16(1)))
            Expect(arbiter.IsLocalNodeLeader(view)).Should(BeFalse())
        })
    })

    Context("no storage node is alive", func() {
        It("reports no eligible leader", func() {
            states := map[uint16]clusterview.NodeState{
                0: clusterview.NodeDead,
                1: clusterview.NodeDead,
                3: clusterview.NodeDead,
            }

            arbiter := NewArbiter(0)
            view := viewWith(nodes, states)

            _, ok := arbiter.Leader(view)
            Expect(ok).Should(BeFalse())
            Expect(arbiter.IsLocalNodeLeader(view)).Should(BeFalse())
        })
    })
})
