package contract

import (
	"helmdb/internal/branch"
	"helmdb/internal/region"
)

// AckState is the state a replica reports about the contract it holds.
type AckState int

const (
	// AckNothing means the replica holds no data for the region.
	AckNothing AckState = iota
	// AckSecondaryNeedPrimary means the replica is a voter waiting for a
	// primary; the ack carries the replica's current version.
	AckSecondaryNeedPrimary
	// AckSecondaryBackfilling means the replica is copying data from the
	// primary and cannot vote on writes yet.
	AckSecondaryBackfilling
	// AckSecondaryStreaming means the replica is a voter streaming writes
	// from the primary.
	AckSecondaryStreaming
	// AckPrimaryNeedBranch means the server accepted the primary role and
	// asks the coordinator to register a new branch; the ack carries the
	// requested branch ID.
	AckPrimaryNeedBranch
	// AckPrimaryReady means the server is primary and serving writes,
	// requiring majority acks on every active voter set.
	AckPrimaryReady
)

func (s AckState) String() string {
	switch s {
	case AckNothing:
		return "nothing"
	case AckSecondaryNeedPrimary:
		return "secondary_need_primary"
	case AckSecondaryBackfilling:
		return "secondary_backfilling"
	case AckSecondaryStreaming:
		return "secondary_streaming"
	case AckPrimaryNeedBranch:
		return "primary_need_branch"
	case AckPrimaryReady:
		return "primary_ready"
	default:
		return "unknown"
	}
}

// Ack is a replica's report about a specific contract it holds. It is
// heterogeneous: Version may differ per sub-region, and the ack carries
// branch-history contributions the coordinator may not have persisted yet.
type Ack struct {
	State AckState
	// Version is the replica's data state, present for
	// secondary_need_primary.
	Version *region.Map[branch.Version]
	// Branch carries the requested branch for primary_need_branch.
	Branch *branch.ID
	// BranchHistory holds certificates for branches referenced by Version
	// that may be unknown to the coordinator.
	BranchHistory *branch.History
}

// AckFragment is the homogeneous projection of an Ack over one sub-region:
// a single state, a single timestamp, a single branch.
type AckFragment struct {
	State   AckState
	Version *uint64
	Branch  *branch.ID
}

// Equal reports value equality; fragments with equal contents coalesce.
func (f AckFragment) Equal(o AckFragment) bool {
	if f.State != o.State {
		return false
	}
	if (f.Version == nil) != (o.Version == nil) {
		return false
	}
	if f.Version != nil && *f.Version != *o.Version {
		return false
	}
	if (f.Branch == nil) != (o.Branch == nil) {
		return false
	}
	return f.Branch == nil || *f.Branch == *o.Branch
}
