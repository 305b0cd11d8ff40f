package config

import (
    "fmt"
    "strconv"
    "sync"
    "time"
)

var ENoSuchKnob = fmt.Errorf("The specified knob is not recognized")
var EInvalidKnobValue = fmt.Errorf("The value given for this knob could not be parsed")

// knobValue holds a single admin override and when (if ever) it expires.
type knobValue struct {
    value    string
    expireAt time.Time // zero value means "no expiration" (--ttl max)
}

func (kv knobValue) expired(now time.Time) bool {
    return !kv.expireAt.IsZero() && now.After(kv.expireAt)
}

// Knobs is the live, admin-overridable view of the configuration
// knobs named in the spec's external interfaces section. It starts
// out seeded from a YAMLSupervisorConfig and can be mutated at
// runtime via the `set <knob> <value> [--ttl <duration>|max]` admin
// command surface, matching devicedb's pattern of admin commands
// that mutate in-memory server state without restarting the process.
type Knobs struct {
    lock      sync.RWMutex
    base      YAMLKnobs
    overrides map[string]knobValue
}

func NewKnobs(base YAMLKnobs) *Knobs {
    return &Knobs{
        base:      base,
        overrides: make(map[string]knobValue),
    }
}

const (
    KnobEnableSelfInitiatedRebuilding         = "enable_self_initiated_rebuilding"
    KnobSelfInitiatedRebuildingGracePeriod    = "self_initiated_rebuilding_grace_period"
    KnobMaxNodeRebuildingPercentage           = "max_node_rebuilding_percentage"
    KnobMaxRebuildingTriggerQueueSize         = "max_rebuilding_trigger_queue_size"
    KnobDisableDataLogRebuilding              = "disable_data_log_rebuilding"
    KnobEventLogGracePeriod                   = "event_log_grace_period"
    KnobMinGossipsForStableState              = "min_gossips_for_stable_state"
    KnobUseLegacyLogToShardMappingInRebuilding = "use_legacy_log_to_shard_mapping_in_rebuilding"
)

// Set installs an admin override for the named knob. ttl == 0 means
// the override never expires ("--ttl max").
func (k *Knobs) Set(knob string, value string, ttl time.Duration) error {
    if !knobExists(knob) {
        return ENoSuchKnob
    }

    if err := validateKnobValue(knob, value); err != nil {
        return err
    }

    k.lock.Lock()
    defer k.lock.Unlock()

    kv := knobValue{value: value}

    if ttl > 0 {
        kv.expireAt = time.Now().Add(ttl)
    }

    k.overrides[knob] = kv

    return nil
}

// Clear removes any admin override for the named knob, reverting to
// the value loaded from the config file.
func (k *Knobs) Clear(knob string) {
    k.lock.Lock()
    defer k.lock.Unlock()

    delete(k.overrides, knob)
}

func knobExists(knob string) bool {
    switch knob {
    case KnobEnableSelfInitiatedRebuilding,
        KnobSelfInitiatedRebuildingGracePeriod,
        KnobMaxNodeRebuildingPercentage,
        KnobMaxRebuildingTriggerQueueSize,
        KnobDisableDataLogRebuilding,
        KnobEventLogGracePeriod,
        KnobMinGossipsForStableState,
        KnobUseLegacyLogToShardMappingInRebuilding:
        return true
    }

    return false
}

func validateKnobValue(knob string, value string) error {
    switch knob {
    case KnobEnableSelfInitiatedRebuilding, KnobDisableDataLogRebuilding, KnobUseLegacyLogToShardMappingInRebuilding:
        if _, err := strconv.ParseBool(value); err != nil {
            return EInvalidKnobValue
        }
    case KnobSelfInitiatedRebuildingGracePeriod, KnobEventLogGracePeriod:
        if _, err := time.ParseDuration(value); err != nil {
            return EInvalidKnobValue
        }
    case KnobMaxNodeRebuildingPercentage, KnobMaxRebuildingTriggerQueueSize, KnobMinGossipsForStableState:
        if _, err := strconv.Atoi(value); err != nil {
            return EInvalidKnobValue
        }
    }

    return nil
}

func (k *Knobs) stringOverride(knob string) (string, bool) {
    k.lock.RLock()
    defer k.lock.RUnlock()

    kv, ok := k.overrides[knob]

    if !ok || kv.expired(time.Now()) {
        return "", false
    }

    return kv.value, true
}

func (k *Knobs) EnableSelfInitiatedRebuilding() bool {
    if v, ok := k.stringOverride(KnobEnableSelfInitiatedRebuilding); ok {
        b, _ := strconv.ParseBool(v)
        return b
    }

    return k.base.EnableSelfInitiatedRebuilding
}

func (k *Knobs) SelfInitiatedRebuildingGracePeriod() time.Duration {
    if v, ok := k.stringOverride(KnobSelfInitiatedRebuildingGracePeriod); ok {
        d, _ := time.ParseDuration(v)
        return d
    }

    return k.base.GracePeriod()
}

func (k *Knobs) MaxNodeRebuildingPercentage() uint {
    if v, ok := k.stringOverride(KnobMaxNodeRebuildingPercentage); ok {
        n, _ := strconv.Atoi(v)
        return uint(n)
    }

    return k.base.MaxNodeRebuildingPercentage
}

func (k *Knobs) MaxRebuildingTriggerQueueSize() int {
    if v, ok := k.stringOverride(KnobMaxRebuildingTriggerQueueSize); ok {
        n, _ := strconv.Atoi(v)
        return n
    }

    return k.base.MaxRebuildingTriggerQueueSize
}

func (k *Knobs) DisableDataLogRebuilding() bool {
    if v, ok := k.stringOverride(KnobDisableDataLogRebuilding); ok {
        b, _ := strconv.ParseBool(v)
        return b
    }

    return k.base.DisableDataLogRebuilding
}

func (k *Knobs) EventLogGracePeriod() time.Duration {
    if v, ok := k.stringOverride(KnobEventLogGracePeriod); ok {
        d, _ := time.ParseDuration(v)
        return d
    }

    return k.base.EventLogGracePeriod()
}

func (k *Knobs) MinGossipsForStableState() int {
    if v, ok := k.stringOverride(KnobMinGossipsForStableState); ok {
        n, _ := strconv.Atoi(v)
        return n
    }

    return k.base.MinGossipsForStableState
}

func (k *Knobs) UseLegacyLogToShardMappingInRebuilding() bool {
    if v, ok := k.stringOverride(KnobUseLegacyLogToShardMappingInRebuilding); ok {
        b, _ := strconv.ParseBool(v)
        return b
    }

    return k.base.UseLegacyLogToShardMappingInRebuilding
}
