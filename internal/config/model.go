package config

import (
	"fmt"
	"time"

	"helmdb/internal/contract"
)

// CoordinatorConfig is the YAML surface of the coordinator binary.
type CoordinatorConfig struct {
	NodeID          uint64        `yaml:"nodeID"`
	DataDir         string        `yaml:"dataDir"`
	LogPrefix       string        `yaml:"logPrefix"`
	FailoverTimeout string        `yaml:"failoverTimeout"`
	GRPC            GRPCConfig    `yaml:"grpc"`
	Metrics         MetricsConfig `yaml:"metrics"`
	Raft            RaftConfig    `yaml:"raft"`
	Table           TableConfig   `yaml:"table"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

type MetricsConfig struct {
	Address string `yaml:"address"`
}

type RaftConfig struct {
	// Peers lists the IDs of the coordinator replica set, used only when
	// the raft storage is empty. Empty means a single-node group of NodeID.
	Peers []uint64 `yaml:"peers"`
}

type ShardConfig struct {
	AllReplicas       []string `yaml:"allReplicas"`
	NonvotingReplicas []string `yaml:"nonvotingReplicas"`
	PrimaryReplica    string   `yaml:"primaryReplica"`
}

type TableConfig struct {
	Shards      []ShardConfig `yaml:"shards"`
	SplitPoints []string      `yaml:"splitPoints"`
}

// FailoverTimeoutDuration parses the configured timeout; zero means "use
// the default".
func (c *CoordinatorConfig) FailoverTimeoutDuration() (time.Duration, error) {
	if c.FailoverTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.FailoverTimeout)
	if err != nil {
		return 0, fmt.Errorf("failoverTimeout: %w", err)
	}
	return d, nil
}

// ContractTableConfig converts the YAML table section into the
// coordinator's form.
func (c *CoordinatorConfig) ContractTableConfig() (contract.TableConfig, error) {
	out := contract.TableConfig{}
	for i, sc := range c.Table.Shards {
		shard := contract.Shard{
			AllReplicas:       contract.NewServerSet(),
			NonvotingReplicas: contract.NewServerSet(),
		}
		for _, raw := range sc.AllReplicas {
			id, err := parseServer(raw)
			if err != nil {
				return contract.TableConfig{}, fmt.Errorf("shard %d: %w", i, err)
			}
			shard.AllReplicas.Add(id)
		}
		for _, raw := range sc.NonvotingReplicas {
			id, err := parseServer(raw)
			if err != nil {
				return contract.TableConfig{}, fmt.Errorf("shard %d: %w", i, err)
			}
			if !shard.AllReplicas.Has(id) {
				return contract.TableConfig{}, fmt.Errorf("shard %d: nonvoting replica %s not in allReplicas", i, id)
			}
			shard.NonvotingReplicas.Add(id)
		}
		if sc.PrimaryReplica != "" {
			id, err := parseServer(sc.PrimaryReplica)
			if err != nil {
				return contract.TableConfig{}, fmt.Errorf("shard %d: %w", i, err)
			}
			shard.PrimaryReplica = id
		}
		out.Shards = append(out.Shards, shard)
	}
	for _, sp := range c.Table.SplitPoints {
		out.Scheme.SplitPoints = append(out.Scheme.SplitPoints, []byte(sp))
	}
	if err := out.Validate(); err != nil {
		return contract.TableConfig{}, err
	}
	return out, nil
}

func parseServer(raw string) (contract.ServerID, error) {
	var id contract.ServerID
	if err := id.UnmarshalText([]byte(raw)); err != nil {
		return contract.NilServer, fmt.Errorf("server id %q: %w", raw, err)
	}
	return id, nil
}
