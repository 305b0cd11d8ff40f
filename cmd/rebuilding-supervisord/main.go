package main

import (
    "context"
    "flag"
    "fmt"
    "net"
    "net/http"
    "os/signal"
    "strconv"
    "syscall"
    "time"

    "github.com/coreos/etcd/raft"
    "github.com/gorilla/mux"

    "github.com/logdevice/rebuilding-supervisor/admin"
    "github.com/logdevice/rebuilding-supervisor/admission"
    "github.com/logdevice/rebuilding-supervisor/clusterview"
    "github.com/logdevice/rebuilding-supervisor/config"
    "github.com/logdevice/rebuilding-supervisor/eventlog"
    "github.com/logdevice/rebuilding-supervisor/gossiper"
    "github.com/logdevice/rebuilding-supervisor/leader"
    . "github.com/logdevice/rebuilding-supervisor/logging"
    internalraft "github.com/logdevice/rebuilding-supervisor/raft"
    "github.com/logdevice/rebuilding-supervisor/supervisor"
    "github.com/logdevice/rebuilding-supervisor/trigger"
)

var configFile *string

func init() {
    configFile = flag.String("conf", "", "Config file to use for the rebuilding supervisor")
}

// staticConfigSource adapts the bootstrap YAML node list into a
// clusterview.ConfigSource. A real deployment replaces this with a
// config controller that tracks the replicated cluster config; out of
// scope per spec.md's Out-of-scope list.
type staticConfigSource struct {
    nodes map[uint16]clusterview.NodeConfig
}

func (s *staticConfigSource) Nodes() map[uint16]clusterview.NodeConfig {
    return s.nodes
}

func storageRoleFromString(role string) clusterview.StorageRole {
    switch role {
    case "READ_WRITE":
        return clusterview.ReadWrite
    case "READ_ONLY":
        return clusterview.ReadOnly
    case "DISABLED":
        return clusterview.Disabled
    }

    return clusterview.NoRole
}

func main() {
    flag.Parse()

    var sc config.YAMLSupervisorConfig

    if err := sc.LoadFromFile(*configFile); err != nil {
        fmt.Printf("Unable to load config file: %s\n", err.Error())
        return
    }

    knobs := config.NewKnobs(sc.Knobs)

    nodes := make(map[uint16]clusterview.NodeConfig, len(sc.Nodes))
    peerAddresses := make([]internalraft.PeerAddress, 0, len(sc.Nodes))

    for _, node := range sc.Nodes {
        nodes[node.NodeIndex] = clusterview.NodeConfig{
            NodeIndex:   node.NodeIndex,
            StorageRole: storageRoleFromString(node.StorageRole),
            NumShards:   node.NumShards,
        }

        peerAddresses = append(peerAddresses, internalraft.PeerAddress{
            NodeID: uint64(node.NodeIndex),
            Host:   node.Host,
            Port:   node.Port,
        })
    }

    configSource := &staticConfigSource{nodes: nodes}
    gossip := gossiper.NewStaticView()

    transport := internalraft.NewTransportHub()

    for _, peer := range peerAddresses {
        if peer.NodeID != uint64(sc.LocalNodeIndex) {
            transport.AddPeer(peer)
        }
    }

    eventLog := eventlog.NewLog(uint64(sc.LocalNodeIndex), transport)

    transport.OnReceive(eventLog.Receive)

    viewBuilder := clusterview.NewBuilder(sc.LocalNodeIndex, configSource, gossip, eventLog, knobs.MinGossipsForStableState)

    triggerTable := trigger.NewTable(knobs.MaxRebuildingTriggerQueueSize())

    arbiter := leader.NewArbiter(sc.LocalNodeIndex)

    filter := &admission.Filter{
        Arbiter:                     arbiter,
        MaxNodeRebuildingPercentage: knobs.MaxNodeRebuildingPercentage,
    }

    super := supervisor.NewSupervisor(sc.LocalNodeIndex, viewBuilder, triggerTable, filter, arbiter, eventLog, knobs, nil)

    router := mux.NewRouter()
    transport.Attach(router)

    adminRouter := mux.NewRouter()
    admin.NewServer(knobs, viewBuilder, super, arbiter).Attach(adminRouter)

    httpServer := &http.Server{
        Handler:      router,
        WriteTimeout: 15 * time.Second,
        ReadTimeout:  15 * time.Second,
    }

    listener, err := net.Listen("tcp", ":"+strconv.Itoa(sc.Port))

    if err != nil {
        fmt.Printf("Unable to listen on port %d: %s\n", sc.Port, err.Error())
        return
    }

    go func() {
        if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
            Log.Errorf("raft transport server stopped: %v", err.Error())
        }
    }()

    adminListener, err := net.Listen("tcp", ":"+strconv.Itoa(sc.AdminPort))

    if err != nil {
        fmt.Printf("Unable to listen on admin port %d: %s\n", sc.AdminPort, err.Error())
        return
    }

    go http.Serve(adminListener, adminRouter)

    peers := make([]raft.Peer, 0, len(peerAddresses))

    for _, peer := range peerAddresses {
        peers = append(peers, raft.Peer{ID: peer.NodeID})
    }

    if err := eventLog.Start(peers); err != nil {
        fmt.Printf("Unable to start event log: %s\n", err.Error())
        return
    }

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    Log.Infof("rebuilding supervisor started on node %d", sc.LocalNodeIndex)

    if err := super.Run(ctx); err != nil && err != context.Canceled {
        Log.Errorf("supervisor loop stopped: %v", err.Error())
    }

    eventLog.Stop()
    listener.Close()
    adminListener.Close()
}
