// Package trigger implements component B, the Trigger Table: an
// ordered map of pending per-shard rebuild intents, keyed by
// clusterview.ShardId, supporting insert-if-absent, lookup, erase and
// ordered iteration by scheduled_at. Modeled on the map-plus-side-
// bookkeeping style devicedb's cluster.ClusterState uses for its
// Nodes/Tokens maps, generalized here to keep an ordering index since
// the spec requires "ordered iteration by scheduled_at" that a plain
// Go map cannot provide.
package trigger

import (
    "sort"
    "time"

    "github.com/logdevice/rebuilding-supervisor/clusterview"
)

// Reason is why a trigger was created.
type Reason int

const (
    NodeDead Reason = iota
    SelfIOFailed
    SelfMissingMetadata
    SelfCorrupted
)

func (r Reason) String() string {
    switch r {
    case NodeDead:
        return "NODE_DEAD"
    case SelfIOFailed:
        return "SELF_IO"
    case SelfMissingMetadata:
        return "SELF_MISSING_META"
    case SelfCorrupted:
        return "SELF_CORRUPT"
    }

    return "UNKNOWN"
}

// CancelReason records why a trigger was removed without being
// published.
type CancelReason int

const (
    NoCancelReason CancelReason = iota
    NodeAliveAgain
    NotInConfig
    NotStorage
    AlreadyRebuilding
    NotLeader
)

// Entry is one row of the trigger table.
type Entry struct {
    Shard              clusterview.ShardId
    Reason             Reason
    FirstObservedAt    time.Time
    ScheduledAt        time.Time
    LastEvaluation     *time.Time
    CancelledBecause   CancelReason
    submittedLsn       clusterview.Lsn // set once an append has been submitted for this trigger
    awaitingConfirmation bool
}

// ETableFull is returned by InsertIfAbsent when the table is at capacity; the
// caller (the supervisor loop) is expected to enter throttled mode on
// this error rather than treat it as a fatal condition.
type tableFullError struct{}

func (tableFullError) Error() string {
    return "the rebuilding trigger table is at capacity"
}

var ETableFull error = tableFullError{}

// Table is the ordered map described by component B. It is not
// goroutine-safe by design -- like the rest of the supervisor's
// state, it is owned exclusively by the single-threaded supervisor
// loop (component F).
type Table struct {
    capacity int
    entries  map[clusterview.ShardId]*Entry
}

func NewTable(capacity int) *Table {
    return &Table{
        capacity: capacity,
        entries:  make(map[clusterview.ShardId]*Entry),
    }
}

// Len returns the number of pending triggers.
func (t *Table) Len() int {
    return len(t.entries)
}

// AtCapacity reports whether the table has reached its configured
// bound. The supervisor exports rebuilding_supervisor_throttled based
// on this, satisfying invariant P6.
func (t *Table) AtCapacity() bool {
    return len(t.entries) >= t.capacity
}

// Get looks up the trigger for shard, if any.
func (t *Table) Get(shard clusterview.ShardId) (*Entry, bool) {
    entry, ok := t.entries[shard]

    return entry, ok
}

// InsertIfAbsent adds a new trigger for shard if one does not already
// exist. Returns the (possibly pre-existing) entry. If the table is
// at capacity and no entry exists yet for this shard, the insert is
// rejected (not evicted) per the spec -- inserts past capacity never
// displace an existing, possibly-further-along trigger.
func (t *Table) InsertIfAbsent(shard clusterview.ShardId, reason Reason, now time.Time, gracePeriod time.Duration) (*Entry, error) {
    if existing, ok := t.entries[shard]; ok {
        return existing, nil
    }

    if t.AtCapacity() {
        return nil, ETableFull
    }

    entry := &Entry{
        Shard:           shard,
        Reason:          reason,
        FirstObservedAt: now,
        ScheduledAt:     now.Add(gracePeriod),
    }

    t.entries[shard] = entry

    return entry, nil
}

// Erase removes the trigger for shard, if present.
func (t *Table) Erase(shard clusterview.ShardId) {
    delete(t.entries, shard)
}

// Cancel removes the trigger for shard and records why, for callers
// that want to log/count the cancellation before it disappears.
func (t *Table) Cancel(shard clusterview.ShardId, reason CancelReason) (*Entry, bool) {
    entry, ok := t.entries[shard]

    if !ok {
        return nil, false
    }

    entry.CancelledBecause = reason
    delete(t.entries, shard)

    return entry, true
}

// MarkSubmitted records that an append for this trigger's shard has
// been submitted at lsn; the entry stays in the table (not yet
// satisfied) until the Event Log Writer observes a matching replay
// entry at or after this LSN, per the duplicate-suppression rule in
// the spec.
func (t *Table) MarkSubmitted(shard clusterview.ShardId, lsn clusterview.Lsn) {
    entry, ok := t.entries[shard]

    if !ok {
        return
    }

    entry.submittedLsn = lsn
    entry.awaitingConfirmation = true
}

// AwaitingConfirmation reports whether shard's trigger has an append
// in flight that has not yet been observed in the replay tail.
func (t *Table) AwaitingConfirmation(shard clusterview.ShardId) (clusterview.Lsn, bool) {
    entry, ok := t.entries[shard]

    if !ok || !entry.awaitingConfirmation {
        return 0, false
    }

    return entry.submittedLsn, true
}

// OrderedByScheduledAt returns every pending entry sorted ascending
// by ScheduledAt, satisfying the "ordered iteration by scheduled_at"
// requirement in the spec.
func (t *Table) OrderedByScheduledAt() []*Entry {
    ordered := make([]*Entry, 0, len(t.entries))

    for _, entry := range t.entries {
        ordered = append(ordered, entry)
    }

    sort.Slice(ordered, func(i, j int) bool {
        if ordered[i].ScheduledAt.Equal(ordered[j].ScheduledAt) {
            return shardLess(ordered[i].Shard, ordered[j].Shard)
        }

        return ordered[i].ScheduledAt.Before(ordered[j].ScheduledAt)
    })

    return ordered
}

// Due returns every entry whose ScheduledAt has passed, in
// scheduled-order, ready for admission evaluation (component C).
func (t *Table) Due(now time.Time) []*Entry {
    ordered := t.OrderedByScheduledAt()
    due := make([]*Entry, 0, len(ordered))

    for _, entry := range ordered {
        if !entry.ScheduledAt.After(now) {
            due = append(due, entry)
        }
    }

    return due
}

// All returns every entry, in no particular guaranteed order, for
// callers that only need to iterate (e.g. the diff phase looking for
// triggers whose node is now alive).
func (t *Table) All() []*Entry {
    all := make([]*Entry, 0, len(t.entries))

    for _, entry := range t.entries {
        all = append(all, entry)
    }

    return all
}

func shardLess(a, b clusterview.ShardId) bool {
    if a.NodeIndex != b.NodeIndex {
        return a.NodeIndex < b.NodeIndex
    }

    return a.ShardIndex < b.ShardIndex
}
