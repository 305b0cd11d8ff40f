// Package admin implements the textual admin command surface and the
// /metrics and /cluster/view debug endpoints, the way devicedb's
// routes package exposes cluster/partition state over HTTP and
// raft/transport.go's Attach(router *mux.Router) convention wires a
// handler onto a shared mux.Router.
package admin

import (
    "bufio"
    "context"
    "fmt"
    "io"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/gorilla/mux"
    "github.com/olekukonko/tablewriter"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/logdevice/rebuilding-supervisor/clusterview"
    "github.com/logdevice/rebuilding-supervisor/config"
    "github.com/logdevice/rebuilding-supervisor/leader"
    . "github.com/logdevice/rebuilding-supervisor/logging"
    "github.com/logdevice/rebuilding-supervisor/metrics"
    "github.com/logdevice/rebuilding-supervisor/trigger"
)

// ENoSuchCommand and EMalformedCommand mirror the style of
// raft/transport.go's package-level sentinel errors.
var ENoSuchCommand = fmt.Errorf("the admin endpoint does not recognize this command")
var EMalformedCommand = fmt.Errorf("the admin command could not be parsed")

// TriggerSnapshotSource is how the admin surface reads the trigger
// table without touching it directly -- Trigger is owned exclusively
// by the single-threaded supervisor loop, so a read from this HTTP
// handler's own goroutine has to be posted back onto that loop rather
// than racing it. *supervisor.Supervisor implements this.
type TriggerSnapshotSource interface {
    TriggerSnapshot(ctx context.Context) ([]*trigger.Entry, error)
}

// Server is the admin HTTP surface for one supervisor process.
type Server struct {
    Knobs    *config.Knobs
    View     *clusterview.Builder
    Triggers TriggerSnapshotSource
    Arbiter  *leader.Arbiter
}

func NewServer(knobs *config.Knobs, view *clusterview.Builder, triggers TriggerSnapshotSource, arbiter *leader.Arbiter) *Server {
    return &Server{Knobs: knobs, View: view, Triggers: triggers, Arbiter: arbiter}
}

// Attach wires the admin routes onto router.
func (s *Server) Attach(router *mux.Router) {
    router.HandleFunc("/admin/command", s.handleCommand).Methods("POST")
    router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")
    router.HandleFunc("/cluster/view", s.handleClusterView).Methods("GET")
}

// handleCommand implements `set <knob> <value> [--ttl <duration>|max]`.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
    body, err := io.ReadAll(r.Body)

    if err != nil {
        Log.Warningf("POST /admin/command: unable to read request body: %v", err.Error())
        w.WriteHeader(http.StatusInternalServerError)
        return
    }

    if err := s.executeCommand(strings.TrimSpace(string(body))); err != nil {
        Log.Warningf("POST /admin/command: %v", err.Error())

        status := http.StatusBadRequest

        if err == ENoSuchCommand {
            status = http.StatusNotFound
        }

        w.WriteHeader(status)
        io.WriteString(w, err.Error()+"\n")

        return
    }

    w.WriteHeader(http.StatusOK)
    io.WriteString(w, "OK\n")
}

func (s *Server) executeCommand(line string) error {
    fields := strings.Fields(line)

    if len(fields) == 0 {
        return EMalformedCommand
    }

    if fields[0] != "set" {
        return ENoSuchCommand
    }

    if len(fields) < 3 {
        return EMalformedCommand
    }

    knob, value := fields[1], fields[2]
    ttl := time.Duration(0)

    if len(fields) >= 5 && fields[3] == "--ttl" {
        if fields[4] == "max" {
            ttl = 0
        } else {
            parsed, err := time.ParseDuration(fields[4])

            if err != nil {
                return EMalformedCommand
            }

            ttl = parsed
        }
    }

    if err := s.Knobs.Set(knob, value, ttl); err != nil {
        return err
    }

    return nil
}

// handleClusterView renders a text table of the current cluster view,
// trigger table and authoritative rebuilding set, using
// olekukonko/tablewriter the way CLI tooling in this corpus tabulates
// node/partition state for operators.
func (s *Server) handleClusterView(w http.ResponseWriter, r *http.Request) {
    view := s.View.Snapshot()

    writer := bufio.NewWriter(w)
    defer writer.Flush()

    io.WriteString(writer, "Nodes:\n")
    nodesTable := tablewriter.NewWriter(writer)
    nodesTable.SetHeader([]string{"Node", "Storage Role", "State", "Leader"})

    leaderIndex, haveLeader := s.Arbiter.Leader(view)

    for nodeIndex, cfg := range view.Nodes {
        isLeader := haveLeader && leaderIndex == nodeIndex

        nodesTable.Append([]string{
            strconv.Itoa(int(nodeIndex)),
            cfg.StorageRole.String(),
            view.StateOf(nodeIndex).String(),
            strconv.FormatBool(isLeader),
        })
    }

    nodesTable.Render()

    io.WriteString(writer, "\nTrigger table:\n")
    triggerTable := tablewriter.NewWriter(writer)
    triggerTable.SetHeader([]string{"Shard", "Reason", "Scheduled At"})

    entries, err := s.Triggers.TriggerSnapshot(r.Context())

    if err != nil {
        Log.Warningf("GET /cluster/view: unable to snapshot the trigger table: %v", err.Error())
        w.WriteHeader(http.StatusInternalServerError)
        return
    }

    for _, entry := range entries {
        triggerTable.Append([]string{
            fmt.Sprintf("(%d,%d)", entry.Shard.NodeIndex, entry.Shard.ShardIndex),
            entry.Reason.String(),
            entry.ScheduledAt.Format(time.RFC3339),
        })
    }

    triggerTable.Render()

    io.WriteString(writer, "\nAuthoritative rebuilding set:\n")
    rebuildingTable := tablewriter.NewWriter(writer)
    rebuildingTable.SetHeader([]string{"Shard", "Mode", "Version"})

    for shard, entry := range view.RebuildingSet {
        rebuildingTable.Append([]string{
            fmt.Sprintf("(%d,%d)", shard.NodeIndex, shard.ShardIndex),
            modeString(entry.Mode),
            strconv.FormatUint(uint64(entry.Version), 10),
        })
    }

    rebuildingTable.Render()
}

func modeString(mode clusterview.RebuildMode) string {
    if mode == clusterview.TimeRanged {
        return "TIME_RANGED"
    }

    return "FULL"
}
