// Package enumerator implements component G, the Log Enumerator: the
// one-shot helper that produces the set of (log, start-timestamp)
// pairs the re-replication engine must read when rebuilding one
// shard. Grounded closely on RebuildingLogEnumerator.start()/finalize()
// from the original source: the internal-log skip, the legacy
// shard-to-log mapping gate, the backlog-based start timestamp
// approximation, and the single-shot finalize callback are all carried
// over; only the storage-task plumbing is replaced with a small Go
// interface and goroutine.
package enumerator

import (
    "context"
    "sync"
    "time"

    "github.com/logdevice/rebuilding-supervisor/clusterview"
    "github.com/logdevice/rebuilding-supervisor/logging"
)

var Log = logging.Log

// LogConfig is one entry of the local logs config relevant to
// enumeration.
type LogConfig struct {
    LogId clusterview.LogId

    // Internal marks logdevice-internal logs (e.g. the event log
    // itself), skipped unless rebuildInternalLogs is set.
    Internal bool

    // MetaData marks a metadata log; metadata logs are never skipped
    // by disableDataLogRebuilding.
    MetaData bool

    // Backlog is the configured retention for this log, or nil for
    // an infinite backlog.
    Backlog *time.Duration
}

// LogsConfigSource supplies the set of logs known to the local logs
// config. The real implementation reads the replicated logs config;
// out of scope for this repository per spec.md's Out-of-scope list
// ("on-disk log store, the event-log replicated state machine itself").
type LogsConfigSource interface {
    Logs() []LogConfig
}

// MetadataLogEnumerator performs the storage task that lists metadata
// logs for a shard. A failure or drop is retried by the caller with
// rate-limited logging, mirroring onMetaDataLogsStorageTaskDone/
// onMetaDataLogsStorageTaskDropped.
type MetadataLogEnumerator interface {
    EnumerateMetadataLogs(ctx context.Context, shardIndex uint16, numShards uint16) ([]clusterview.LogId, error)
}

// Result is the payload handed to the one-shot completion callback.
type Result struct {
    ShardIndex uint16
    Version    clusterview.Version

    // StartTimestamps maps each log this shard must read to the
    // timestamp the re-replication engine should start reading from.
    // The zero time.Time represents "from the beginning" (-inf).
    StartTimestamps map[clusterview.LogId]time.Time

    // MaxBacklogDuration is the longest backlog among data logs that
    // were skipped because data-log rebuilding is disabled; the
    // caller should delay its SHARD_IS_REBUILT signal by this long so
    // F-majority readers keep treating the shard as rebuilding until
    // that data has naturally expired.
    MaxBacklogDuration time.Duration

    InternalSkipped int
    DataSkipped     int
}

// Callback is invoked exactly once when enumeration completes.
type Callback func(Result)

// Config is the knob surface the enumerator needs, read live so an
// admin override (e.g. disable_data_log_rebuilding) takes effect on
// the next rebuild even if it changed after the enumerator was built.
type Config struct {
    RebuildInternalLogs                      bool
    RebuildMetadataLogs                      bool
    DisableDataLogRebuilding                 func() bool
    UseLegacyLogToShardMappingInRebuilding    func() bool
}

// Enumerator runs once per (shard, rebuild version) pair.
type Enumerator struct {
    ShardIndex   uint16
    NumShards    uint16
    Version      clusterview.Version
    MinTimestamp time.Time

    Config       Config
    Logs         LogsConfigSource
    MetadataLogs MetadataLogEnumerator
    OnComplete   Callback

    result         map[clusterview.LogId]time.Time
    maxBacklog     time.Duration
    internalSkipped int
    dataSkipped     int

    finalizeOnce sync.Once

    retryLimiter rateLimiter
}

func NewEnumerator(shardIndex uint16, numShards uint16, version clusterview.Version, minTimestamp time.Time, cfg Config, logs LogsConfigSource, metadataLogs MetadataLogEnumerator, onComplete Callback) *Enumerator {
    return &Enumerator{
        ShardIndex:   shardIndex,
        NumShards:    numShards,
        Version:      version,
        MinTimestamp: minTimestamp,
        Config:       cfg,
        Logs:         logs,
        MetadataLogs: metadataLogs,
        OnComplete:   onComplete,
        result:       make(map[clusterview.LogId]time.Time),
        retryLimiter: rateLimiter{interval: 10 * time.Second},
    }
}

// Start enumerates the data logs synchronously and, if metadata-log
// rebuilding is enabled, kicks off the metadata-log storage task
// asynchronously; otherwise it finalizes immediately.
func (e *Enumerator) Start(ctx context.Context) {
    now := time.Now()

    for _, logConfig := range e.Logs.Logs() {
        if !e.Config.RebuildInternalLogs && logConfig.Internal {
            e.internalSkipped++
            continue
        }

        if e.Config.DisableDataLogRebuilding() && !logConfig.MetaData && logConfig.Backlog != nil {
            if *logConfig.Backlog > e.maxBacklog {
                e.maxBacklog = *logConfig.Backlog
            }

            e.dataSkipped++
            continue
        }

        nextTs := time.Time{}

        if logConfig.Backlog != nil {
            nextTs = now.Add(-*logConfig.Backlog)
        }

        nextTs = maxTime(nextTs, e.MinTimestamp)

        if legacyShardIndexForLog(logConfig.LogId, e.NumShards) == e.ShardIndex || !e.Config.UseLegacyLogToShardMappingInRebuilding() {
            e.result[logConfig.LogId] = nextTs
        }
    }

    Log.Infof("Enumerator skipped %d internal and %d data logs. Queued %d logs for rebuild on shard %d.", e.internalSkipped, e.dataSkipped, len(e.result), e.ShardIndex)

    if e.Config.RebuildMetadataLogs {
        e.putStorageTask(ctx)
    } else {
        e.finalize()
    }
}

func (e *Enumerator) putStorageTask(ctx context.Context) {
    go func() {
        logIds, err := e.MetadataLogs.EnumerateMetadataLogs(ctx, e.ShardIndex, e.NumShards)

        if err != nil {
            if e.retryLimiter.Allow() {
                Log.Errorf("Unable to enumerate metadata logs for rebuilding on shard %d, version %d: %v. Retrying...", e.ShardIndex, e.Version, err.Error())
            }

            e.putStorageTask(ctx)
            return
        }

        for _, logId := range logIds {
            e.result[logId] = e.MinTimestamp
        }

        e.finalize()
    }()
}

// finalize invokes OnComplete exactly once, matching the single-shot
// contract asserted by finalize_called_ in the original.
func (e *Enumerator) finalize() {
    e.finalizeOnce.Do(func() {
        e.OnComplete(Result{
            ShardIndex:         e.ShardIndex,
            Version:            e.Version,
            StartTimestamps:    e.result,
            MaxBacklogDuration: e.maxBacklog,
            InternalSkipped:    e.internalSkipped,
            DataSkipped:        e.dataSkipped,
        })
    })
}

func maxTime(a, b time.Time) time.Time {
    if a.After(b) {
        return a
    }

    return b
}

// legacyShardIndexForLog is a simplified stand-in for
// getLegacyShardIndexForLog(): a deterministic hash of a log onto one
// of numShards local shards, preserved only for the transitional
// config gate -- new deployments run with
// use_legacy_log_to_shard_mapping_in_rebuilding disabled and take the
// other branch entirely.
func legacyShardIndexForLog(logId clusterview.LogId, numShards uint16) uint16 {
    if numShards == 0 {
        return 0
    }

    return uint16(uint64(logId) % uint64(numShards))
}

// rateLimiter allows at most one event per interval, mirroring the
// RATELIMIT_WARNING/RATELIMIT_ERROR(10s, 1, ...) call sites in the
// original enumerator.
type rateLimiter struct {
    interval time.Duration
    mu       sync.Mutex
    last     time.Time
}

func (r *rateLimiter) Allow() bool {
    r.mu.Lock()
    defer r.mu.Unlock()

    now := time.Now()

    if now.Sub(r.last) < r.interval {
        return false
    }

    r.last = now

    return true
}
