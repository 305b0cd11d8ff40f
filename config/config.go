package config

import (
    "errors"
    "fmt"
    "io/ioutil"
    "time"

    "gopkg.in/yaml.v2"

    "github.com/logdevice/rebuilding-supervisor/logging"
)

var Log = logging.Log

// YAMLNodeConfig describes one cluster member as seen at bootstrap time.
// The authoritative, live version of this information is tracked by
// the Cluster View (see package clusterview); this is only the seed
// used to join/bootstrap.
type YAMLNodeConfig struct {
    NodeIndex   uint16 `yaml:"nodeIndex"`
    Host        string `yaml:"host"`
    Port        int    `yaml:"port"`
    StorageRole string `yaml:"storageRole"` // READ_WRITE, READ_ONLY, NONE, DISABLED
    NumShards   uint16 `yaml:"numShards"`
}

// YAMLKnobs mirrors the configuration knobs named in the spec's
// external interfaces section. Durations are expressed in
// milliseconds in the YAML file, the way devicedb's YAMLServerConfig
// expresses its GC intervals in milliseconds.
type YAMLKnobs struct {
    EnableSelfInitiatedRebuilding           bool   `yaml:"enableSelfInitiatedRebuilding"`
    SelfInitiatedRebuildingGracePeriodMS     uint64 `yaml:"selfInitiatedRebuildingGracePeriodMS"`
    MaxNodeRebuildingPercentage              uint   `yaml:"maxNodeRebuildingPercentage"`
    MaxRebuildingTriggerQueueSize            int    `yaml:"maxRebuildingTriggerQueueSize"`
    DisableDataLogRebuilding                 bool   `yaml:"disableDataLogRebuilding"`
    EventLogGracePeriodMS                    uint64 `yaml:"eventLogGracePeriodMS"`
    MinGossipsForStableState                 int    `yaml:"minGossipsForStableState"`
    UseLegacyLogToShardMappingInRebuilding   bool   `yaml:"useLegacyLogToShardMappingInRebuilding"`
    RebuildInternalLogs                      bool   `yaml:"rebuildInternalLogs"`
}

type YAMLSupervisorConfig struct {
    LocalNodeIndex uint16           `yaml:"localNodeIndex"`
    Port           int              `yaml:"port"`
    AdminPort      int              `yaml:"adminPort"`
    LogLevel       string           `yaml:"logLevel"`
    Nodes          []YAMLNodeConfig `yaml:"nodes"`
    Knobs          YAMLKnobs        `yaml:"knobs"`
}

func isValidPort(p int) bool {
    return p >= 0 && p < (1 << 16)
}

// LoadFromFile reads and validates a supervisor config file, filling
// in spec-mandated defaults for any knob left unset. Mirrors
// YAMLServerConfig.LoadFromFile's validate-then-default shape.
func (ysc *YAMLSupervisorConfig) LoadFromFile(file string) error {
    rawConfig, err := ioutil.ReadFile(file)

    if err != nil {
        return err
    }

    if err := yaml.Unmarshal(rawConfig, ysc); err != nil {
        return err
    }

    return ysc.applyDefaultsAndValidate()
}

func (ysc *YAMLSupervisorConfig) applyDefaultsAndValidate() error {
    if !isValidPort(ysc.Port) {
        return errors.New(fmt.Sprintf("%d is an invalid port for the supervisor's cluster endpoint", ysc.Port))
    }

    if !isValidPort(ysc.AdminPort) {
        return errors.New(fmt.Sprintf("%d is an invalid port for the supervisor's admin endpoint", ysc.AdminPort))
    }

    for _, node := range ysc.Nodes {
        if !isValidPort(node.Port) {
            return errors.New(fmt.Sprintf("%d is an invalid port for node %d", node.Port, node.NodeIndex))
        }
    }

    if ysc.Knobs.SelfInitiatedRebuildingGracePeriodMS == 0 {
        ysc.Knobs.SelfInitiatedRebuildingGracePeriodMS = 1000
    }

    if ysc.Knobs.MaxNodeRebuildingPercentage == 0 {
        ysc.Knobs.MaxNodeRebuildingPercentage = 35
    }

    if ysc.Knobs.MaxRebuildingTriggerQueueSize == 0 {
        ysc.Knobs.MaxRebuildingTriggerQueueSize = 100
    }

    if ysc.Knobs.EventLogGracePeriodMS == 0 {
        ysc.Knobs.EventLogGracePeriodMS = 1000
    }

    if ysc.Knobs.MinGossipsForStableState == 0 {
        ysc.Knobs.MinGossipsForStableState = 1
    }

    logging.SetLoggingLevel(ysc.LogLevel)

    return nil
}

func (k YAMLKnobs) GracePeriod() time.Duration {
    return time.Duration(k.SelfInitiatedRebuildingGracePeriodMS) * time.Millisecond
}

func (k YAMLKnobs) EventLogGracePeriod() time.Duration {
    return time.Duration(k.EventLogGracePeriodMS) * time.Millisecond
}
