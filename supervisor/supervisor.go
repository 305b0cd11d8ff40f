// Package supervisor implements component F, the single-threaded
// orchestrator that ties components A-E together every tick. Its
// lifecycle mirrors devicedb's node.ClusterNode.Start: a handful of
// long-lived goroutines supervised with golang.org/x/sync/errgroup,
// all mutating shared state only through channels or by being the
// single owner of that state, the same discipline
// node/cluster_node.go applies to join/leave coordination.
package supervisor

import (
    "context"
    "time"

    "golang.org/x/sync/errgroup"

    "github.com/logdevice/rebuilding-supervisor/admission"
    "github.com/logdevice/rebuilding-supervisor/clusterview"
    "github.com/logdevice/rebuilding-supervisor/config"
    "github.com/logdevice/rebuilding-supervisor/eventlog"
    "github.com/logdevice/rebuilding-supervisor/leader"
    "github.com/logdevice/rebuilding-supervisor/logging"
    "github.com/logdevice/rebuilding-supervisor/metrics"
    "github.com/logdevice/rebuilding-supervisor/trigger"
)

var Log = logging.Log

// RecheckInterval is the fixed tick alongside event-driven wake-ups
// adopted for the re-evaluation cadence open question in spec.md 9.
const RecheckInterval = 500 * time.Millisecond

// LocalShardHealthSource reports the health of every shard the local
// node stores, for the local health phase (4.F step 3). The storage
// layer that actually detects IO_FAILED/CORRUPTED/MISSING_BOOTSTRAP_METADATA
// is out of scope per spec.md's Out-of-scope list; only its contract
// is referenced here.
type LocalShardHealthSource interface {
    LocalShardHealth() map[uint16]clusterview.ShardHealth
}

// Supervisor drives components A-E from one loop goroutine. Trigger
// is only read or written on that goroutine; publish goroutines and
// the event log's apply callback reach it through the completion
// queue. Knobs and the event log guard their own state with locks and
// are also used from other goroutines (admin overrides, publish).
type Supervisor struct {
    LocalNodeIndex uint16

    View        *clusterview.Builder
    Trigger     *trigger.Table
    Admission   *admission.Filter
    Arbiter     *leader.Arbiter
    EventLog    *eventlog.Log
    Knobs       *config.Knobs
    LocalHealth LocalShardHealthSource

    wakeups     chan struct{}
    completions chan func()
}

// completionQueueSize bounds the work goroutines outside the loop
// (publish, the event log's own apply callback) can have in flight
// against Trigger before the loop has drained it. It is sized well
// above MaxRebuildingTriggerQueueSize since a burst of replayed
// entries can outrun one RecheckInterval tick.
const completionQueueSize = 256

func NewSupervisor(localNodeIndex uint16, view *clusterview.Builder, table *trigger.Table, filter *admission.Filter, arbiter *leader.Arbiter, eventLog *eventlog.Log, knobs *config.Knobs, localHealth LocalShardHealthSource) *Supervisor {
    s := &Supervisor{
        LocalNodeIndex: localNodeIndex,
        View:           view,
        Trigger:        table,
        Admission:      filter,
        Arbiter:        arbiter,
        EventLog:       eventLog,
        Knobs:          knobs,
        LocalHealth:    localHealth,
        wakeups:        make(chan struct{}, 1),
        completions:    make(chan func(), completionQueueSize),
    }

    eventLog.OnApplied(s.onEventApplied)

    return s
}

// Wake schedules an immediate re-evaluation on the next loop
// iteration, for callers reacting to an asynchronous cluster-view
// change (a gossip update, a config push) rather than waiting for the
// next RecheckInterval tick.
func (s *Supervisor) Wake() {
    select {
    case s.wakeups <- struct{}{}:
    default:
    }
}

// Run drives the supervisor loop until ctx is cancelled or one of the
// supervised goroutines returns an error.
func (s *Supervisor) Run(ctx context.Context) error {
    g, ctx := errgroup.WithContext(ctx)

    g.Go(func() error {
        ticker := time.NewTicker(RecheckInterval)
        defer ticker.Stop()

        for {
            select {
            case <-ticker.C:
                s.Wake()
            case <-ctx.Done():
                return ctx.Err()
            }
        }
    })

    g.Go(func() error {
        for {
            select {
            case <-s.wakeups:
                s.tick(ctx)
            case fn := <-s.completions:
                fn()
            case <-ctx.Done():
                return ctx.Err()
            }
        }
    })

    return g.Wait()
}

// postCompletion hands fn to the loop goroutine that owns Trigger,
// for callers running on some other goroutine (publish's own
// go-routine, the event log's apply callback) that need to touch it.
// A full queue drops the update with a warning rather than blocking
// the caller -- these are idempotent re-derivable updates (a mark-
// submitted, a replay-applied clear), not work that must never be
// lost.
func (s *Supervisor) postCompletion(fn func()) {
    select {
    case s.completions <- fn:
    default:
        Log.Warningf("supervisor: completion queue full, dropping a posted update")
    }
}

// postCompletionWait is the blocking counterpart for callers that
// need the result of the posted work back, such as an admin read of
// the trigger table: it waits for room in the queue (or ctx) instead
// of dropping the request.
func (s *Supervisor) postCompletionWait(ctx context.Context, fn func()) error {
    select {
    case s.completions <- fn:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

// TriggerSnapshot returns a point-in-time ordered copy of the pending
// triggers. It is safe to call from any goroutine: the read itself
// runs on the supervisor loop, posted back through the same
// completion queue publish and onEventApplied use rather than reading
// Trigger directly off-loop.
func (s *Supervisor) TriggerSnapshot(ctx context.Context) ([]*trigger.Entry, error) {
    result := make(chan []*trigger.Entry, 1)

    if err := s.postCompletionWait(ctx, func() {
        result <- s.Trigger.OrderedByScheduledAt()
    }); err != nil {
        return nil, err
    }

    select {
    case entries := <-result:
        return entries, nil
    case <-ctx.Done():
        return nil, ctx.Err()
    }
}

// tick runs the four synchronous phases of one iteration. The replay
// phase (5) is driven separately, as a side effect of onEventApplied
// firing whenever the event log's own goroutine applies a newly
// committed entry -- it does not wait for this loop.
func (s *Supervisor) tick(ctx context.Context) {
    view := s.View.Snapshot()

    s.diffPhase(view)
    s.localHealthPhase(view)
    s.admissionPhase(ctx, view)

    metrics.SetThrottled(s.Trigger.AtCapacity())
}

// diffPhase implements 4.F step 2: ensure a NODE_DEAD trigger for
// every shard of every DEAD in-config node, and cancel triggers for
// nodes that have come back ALIVE.
func (s *Supervisor) diffPhase(view *clusterview.View) {
    now := time.Now()
    gracePeriod := s.Knobs.SelfInitiatedRebuildingGracePeriod()

    for nodeIndex, cfg := range view.Nodes {
        if !cfg.StorageRole.IsStorageCapable() {
            continue
        }

        if view.StateOf(nodeIndex) != clusterview.NodeDead {
            continue
        }

        for shardIndex := uint16(0); shardIndex < cfg.NumShards; shardIndex++ {
            shard := clusterview.ShardId{NodeIndex: nodeIndex, ShardIndex: shardIndex}

            if _, err := s.Trigger.InsertIfAbsent(shard, trigger.NodeDead, now, gracePeriod); err == trigger.ETableFull {
                return
            }
        }
    }

    for _, entry := range s.Trigger.All() {
        if entry.Reason != trigger.NodeDead {
            continue
        }

        if view.StateOf(entry.Shard.NodeIndex) != clusterview.NodeAlive {
            continue
        }

        s.Trigger.Cancel(entry.Shard, trigger.NodeAliveAgain)
        metrics.ShardRebuildingNotTriggeredNodeAlive.Inc()
    }
}

// localHealthPhase implements 4.F step 3: a bad local shard health
// always produces a self trigger, gated only by
// enable_self_initiated_rebuilding -- it never waits on the failure
// detector, matching invariant 4 in spec.md's data model section
// ("the locally-observed ShardHealth... supersedes remote judgement").
func (s *Supervisor) localHealthPhase(view *clusterview.View) {
    if !s.Knobs.EnableSelfInitiatedRebuilding() || s.LocalHealth == nil {
        return
    }

    now := time.Now()
    gracePeriod := s.Knobs.SelfInitiatedRebuildingGracePeriod()

    for shardIndex, health := range s.LocalHealth.LocalShardHealth() {
        if !health.IsBad() {
            continue
        }

        shard := clusterview.ShardId{NodeIndex: s.LocalNodeIndex, ShardIndex: shardIndex}
        _, alreadyTriggered := s.Trigger.Get(shard)

        if _, err := s.Trigger.InsertIfAbsent(shard, selfReasonFor(health), now, gracePeriod); err == trigger.ETableFull {
            continue
        }

        if !alreadyTriggered && health == clusterview.ShardIOFailed {
            metrics.FailedSafeLogStores.Inc()
        }
    }
}

func selfReasonFor(health clusterview.ShardHealth) trigger.Reason {
    switch health {
    case clusterview.ShardIOFailed:
        return trigger.SelfIOFailed
    case clusterview.ShardMissingBootstrapMetadata:
        return trigger.SelfMissingMetadata
    case clusterview.ShardCorrupted:
        return trigger.SelfCorrupted
    }

    return trigger.SelfIOFailed
}

// admissionPhase implements 4.F step 4: evaluate every due trigger
// against the admission filter and publish admitted ones. A trigger
// with an append already in flight is skipped rather than
// re-evaluated -- it stays awaiting confirmation until applyEvent
// observes the matching replay entry and erases it, so one admitted
// trigger never spawns more than one concurrent publish goroutine.
func (s *Supervisor) admissionPhase(ctx context.Context, view *clusterview.View) {
    for _, entry := range s.Trigger.Due(time.Now()) {
        if _, awaiting := s.Trigger.AwaitingConfirmation(entry.Shard); awaiting {
            continue
        }

        now := time.Now()
        entry.LastEvaluation = &now

        outcome, cancelReason := s.Admission.Evaluate(entry, view)

        switch outcome {
        case admission.Cancel:
            s.Trigger.Cancel(entry.Shard, cancelReason)

        case admission.Defer:
            // Stays in the table; Evaluate already incremented the
            // appropriate scheduled/not-triggered counter.

        case admission.Admit:
            go s.publish(ctx, entry)
        }
    }
}

// publish implements 4.E: append a SHARD_NEEDS_REBUILD record and, on
// success, mark the trigger as awaiting confirmation from the replay
// tail rather than erasing it immediately -- erasure only happens in
// onEventApplied once the append is actually observed committed,
// satisfying the duplicate-suppression rule.
func (s *Supervisor) publish(ctx context.Context, entry *trigger.Entry) {
    flags := eventlog.Flags(0)

    record := eventlog.Record{
        Type:  eventlog.ShardNeedsRebuild,
        Shard: entry.Shard,
        Flags: flags,
    }

    conditionalVersion := s.EventLog.Version()

    appendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()

    lsn, err := s.EventLog.Append(appendCtx, record, conditionalVersion)

    if err == eventlog.EVersionConflict {
        Log.Debugf("supervisor: append for shard %+v lost a version race, will retry on next tick", entry.Shard)
        return
    }

    if err != nil {
        Log.Warningf("supervisor: append for shard %+v failed: %v", entry.Shard, err.Error())
        return
    }

    shard := entry.Shard

    s.postCompletion(func() {
        s.Trigger.MarkSubmitted(shard, lsn)
    })
}

// onEventApplied is called directly from the event log's own apply
// goroutine, not the supervisor loop, so it never touches Trigger
// itself -- it only posts the replay phase (4.F step 5) back onto the
// loop that owns it.
func (s *Supervisor) onEventApplied(record eventlog.Record, lsn clusterview.Lsn) {
    s.postCompletion(func() {
        s.applyEvent(record, lsn)
    })
}

// applyEvent runs on the supervisor loop. Whenever the local replica
// applies a newly committed entry, it clears any matching trigger and
// accounts for it. A SHARD_NEEDS_REBUILD entry clears the trigger for
// its shard regardless of which node actually published it -- "a
// duplicate from another node is acceptable and also clears the
// trigger" (spec.md 4.E). shard_rebuilding_triggered only increases
// when this counts the confirmation of a trigger this node was
// actually waiting on, not every replayed entry a follower merely
// observes -- per P1/P3, it is incremented once per publishing node
// per episode, and stays flat for a node that only replays another
// node's publication.
func (s *Supervisor) applyEvent(record eventlog.Record, lsn clusterview.Lsn) {
    switch record.Type {
    case eventlog.ShardNeedsRebuild:
        if _, existed := s.Trigger.Get(record.Shard); existed {
            s.Trigger.Erase(record.Shard)
            metrics.ShardRebuildingTriggered.Inc()
        }
    }
}
