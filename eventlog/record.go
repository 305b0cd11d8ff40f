// Package eventlog implements component E, the Event Log Writer, plus
// the replicated log it writes to. The record types below are the
// closed tagged union spec.md's Design Notes call for in place of a
// virtual-inheritance record hierarchy: one Record struct carrying a
// Type discriminant, dispatched by switch rather than by v-table.
package eventlog

import (
    "bytes"
    "encoding/gob"

    "github.com/logdevice/rebuilding-supervisor/clusterview"
)

// RecordType discriminates the four record variants the supervisor
// produces and consumes, per spec.md section 6.
type RecordType int

const (
    ShardNeedsRebuild RecordType = iota
    ShardAbortRebuild
    ShardIsRebuilt
    ShardAckRebuilt
)

func (t RecordType) String() string {
    switch t {
    case ShardNeedsRebuild:
        return "SHARD_NEEDS_REBUILD"
    case ShardAbortRebuild:
        return "SHARD_ABORT_REBUILD"
    case ShardIsRebuilt:
        return "SHARD_IS_REBUILT"
    case ShardAckRebuilt:
        return "SHARD_ACK_REBUILT"
    }

    return "UNKNOWN"
}

// Flags is the bit-set carried on SHARD_NEEDS_REBUILD records.
type Flags uint8

const (
    ForceRestart Flags = 1 << iota
    TimeRanged
)

func (f Flags) Has(bit Flags) bool {
    return f&bit != 0
}

// Record is the wire representation of one event-log entry. Only the
// fields relevant to Type are meaningful; unused fields are zero.
type Record struct {
    Type RecordType

    Shard               clusterview.ShardId
    ConditionalVersion  clusterview.Version
    Flags               Flags
    Ranges              []clusterview.TimeRange

    // DonorNode is set on SHARD_IS_REBUILT.
    DonorNode uint16

    // AckVersion is the Version being acknowledged by SHARD_ACK_REBUILT
    // and echoed back by SHARD_IS_REBUILT.
    AckVersion clusterview.Version

    // RequestID correlates a proposed entry with the waiter that
    // proposed it once it comes back around through the committed
    // entries stream -- the local node may not be the one that
    // actually gets to append it first.
    RequestID string
}

// Encode serializes a Record for inclusion in a raft log entry.
// gob is used rather than introducing a wire-format dependency the
// rest of the corpus does not otherwise need for small internal
// records; the record set is closed and known at compile time, so
// schema evolution concerns that would justify protobuf here don't
// apply the way they do for the raft transport messages themselves
// (those already use raftpb's generated protobuf code).
func (r Record) Encode() ([]byte, error) {
    var buf bytes.Buffer

    if err := gob.NewEncoder(&buf).Encode(r); err != nil {
        return nil, err
    }

    return buf.Bytes(), nil
}

// DecodeRecord parses bytes previously produced by Record.Encode.
func DecodeRecord(data []byte) (Record, error) {
    var r Record

    if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
        return Record{}, err
    }

    return r, nil
}
