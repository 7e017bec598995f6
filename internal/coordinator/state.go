package coordinator

import (
	"helmdb/internal/branch"
	"helmdb/internal/contract"
	"helmdb/internal/region"
)

// RegionContract pairs a contract with the region it governs.
type RegionContract struct {
	Region   region.Region     `json:"region"`
	Contract contract.Contract `json:"contract"`
}

// State is the coordinator's snapshot of the Raft-held control state. The
// driver reads it immutably; Apply advances it by a committed diff.
type State struct {
	Contracts       map[contract.ID]RegionContract
	Config          contract.TableConfig
	CurrentBranches *region.Map[branch.ID]
	BranchHistory   *branch.History
}

// NewState returns a state with no contracts covering nothing.
func NewState() *State {
	return &State{
		Contracts:       make(map[contract.ID]RegionContract),
		CurrentBranches: region.NewMap(region.Universe(), branch.Nil),
		BranchHistory:   branch.NewHistory(),
	}
}

// Bootstrap seeds the state with one contract per (CPU shard × user shard)
// slice built from the config: all replicas present, voters per config, no
// primary. Used when a table is first created.
func Bootstrap(config contract.TableConfig) *State {
	s := NewState()
	s.Config = config.Clone()
	for cpu := 0; cpu < region.CPUShardingFactor; cpu++ {
		for i, shard := range config.Shards {
			reg := region.CPUShardSubspace(cpu)
			reg.Keys = config.Scheme.ShardRange(i)
			s.Contracts[contract.NewID()] = RegionContract{
				Region: reg,
				Contract: contract.Contract{
					Replicas: shard.AllReplicas.Clone(),
					Voters:   shard.VotingReplicas(),
				},
			}
		}
	}
	return s
}

// BranchAssignment asks the log to record branch as current for a region.
type BranchAssignment struct {
	Region region.Region `json:"region"`
	Branch branch.ID     `json:"branch"`
}

// Diff is the coordinator's output: the contract changes to submit to the
// replicated log.
type Diff struct {
	RemoveContracts         map[contract.ID]struct{}
	AddContracts            map[contract.ID]RegionContract
	RegisterCurrentBranches []BranchAssignment
}

// IsEmpty reports whether the diff changes nothing.
func (d Diff) IsEmpty() bool {
	return len(d.RemoveContracts) == 0 && len(d.AddContracts) == 0 &&
		len(d.RegisterCurrentBranches) == 0
}

// Apply advances the state by a diff. certs supplies birth certificates for
// newly registered branches (harvested from ack branch-history
// contributions); a branch with no certificate becomes current but gets no
// entry in BranchHistory.
func (s *State) Apply(d Diff, certs map[branch.ID]branch.BirthCertificate) {
	for id := range d.RemoveContracts {
		delete(s.Contracts, id)
	}
	for id, rc := range d.AddContracts {
		s.Contracts[id] = rc
	}
	for _, ba := range d.RegisterCurrentBranches {
		if cert, ok := certs[ba.Branch]; ok {
			// Already-known branches keep their original certificate.
			_ = s.BranchHistory.Add(ba.Branch, cert)
		}
		br := ba.Branch
		s.CurrentBranches.Update(ba.Region,
			func(b branch.ID) branch.ID { return b },
			func(_ region.Region, _ branch.ID) branch.ID { return br })
		// A contract wholly inside the assignment now serves that branch.
		for id, rc := range s.Contracts {
			if rc.Region.Intersect(ba.Region).Equal(rc.Region) {
				rc.Contract.Branch = br
				s.Contracts[id] = rc
			}
		}
	}
}

// Clone returns a deep copy of the contract table and config; branch
// structures are shared (they are append-only).
func (s *State) Clone() *State {
	out := &State{
		Contracts:       make(map[contract.ID]RegionContract, len(s.Contracts)),
		Config:          s.Config.Clone(),
		CurrentBranches: s.CurrentBranches,
		BranchHistory:   s.BranchHistory,
	}
	for id, rc := range s.Contracts {
		out.Contracts[id] = RegionContract{Region: rc.Region.Clone(), Contract: rc.Contract.Clone()}
	}
	return out
}
