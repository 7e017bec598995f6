package contract

import (
	"bytes"
	"fmt"

	"helmdb/internal/region"
)

// Shard is the user's configuration for one key-range shard of a table.
type Shard struct {
	// AllReplicas holds every server that should carry the shard's data.
	AllReplicas ServerSet `json:"all_replicas"`
	// NonvotingReplicas holds the subset of AllReplicas excluded from write
	// quorums.
	NonvotingReplicas ServerSet `json:"nonvoting_replicas,omitempty"`
	// PrimaryReplica names the server the user wants as primary. NilServer
	// means no preference.
	PrimaryReplica ServerID `json:"primary_replica"`
}

// VotingReplicas returns AllReplicas minus NonvotingReplicas.
func (s Shard) VotingReplicas() ServerSet {
	out := make(ServerSet, len(s.AllReplicas))
	for id := range s.AllReplicas {
		if !s.NonvotingReplicas.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Clone returns an independent copy.
func (s Shard) Clone() Shard {
	return Shard{
		AllReplicas:       s.AllReplicas.Clone(),
		NonvotingReplicas: s.NonvotingReplicas.Clone(),
		PrimaryReplica:    s.PrimaryReplica,
	}
}

// ShardScheme fixes how the key space splits into user shards. SplitPoints
// must be strictly increasing; n split points make n+1 shards.
type ShardScheme struct {
	SplitPoints [][]byte `json:"split_points"`
}

// NumShards returns the number of user shards.
func (s ShardScheme) NumShards() int {
	return len(s.SplitPoints) + 1
}

// ShardRange returns the key range of user shard i.
func (s ShardScheme) ShardRange(i int) region.KeyRange {
	var kr region.KeyRange
	if i > 0 {
		kr.Start = s.SplitPoints[i-1]
	}
	if i < len(s.SplitPoints) {
		kr.End = s.SplitPoints[i]
	}
	return kr
}

// Validate checks split point ordering.
func (s ShardScheme) Validate() error {
	for i := 1; i < len(s.SplitPoints); i++ {
		if bytes.Compare(s.SplitPoints[i-1], s.SplitPoints[i]) >= 0 {
			return fmt.Errorf("%w: split points out of order at %d", ErrInvalidConfig, i)
		}
	}
	return nil
}

// TableConfig is the user-facing configuration the coordinator reconciles
// contracts against.
type TableConfig struct {
	Shards []Shard     `json:"shards"`
	Scheme ShardScheme `json:"scheme"`
}

// Validate checks that the shard list matches the scheme.
func (c TableConfig) Validate() error {
	if len(c.Shards) != c.Scheme.NumShards() {
		return fmt.Errorf("%w: %d shards but scheme describes %d",
			ErrInvalidConfig, len(c.Shards), c.Scheme.NumShards())
	}
	return c.Scheme.Validate()
}

// Clone returns a deep copy.
func (c TableConfig) Clone() TableConfig {
	out := TableConfig{Shards: make([]Shard, len(c.Shards))}
	for i, s := range c.Shards {
		out.Shards[i] = s.Clone()
	}
	out.Scheme.SplitPoints = make([][]byte, len(c.Scheme.SplitPoints))
	for i, sp := range c.Scheme.SplitPoints {
		out.Scheme.SplitPoints[i] = append([]byte(nil), sp...)
	}
	return out
}
