package coordinator

import (
	"helmdb/internal/branch"
	"helmdb/internal/contract"
	"helmdb/internal/region"
)

// BreakAckIntoFragments projects a heterogeneous contract ack onto reg as a
// map of homogeneous fragments. An ack may carry different versions for
// different sub-regions, and a sub-region with a single version may still
// straddle branches; the calculator needs single-timestamp, single-branch
// inputs, so the ack is cut along both seams.
func BreakAckIntoFragments(
	reg region.Region,
	ack *contract.Ack,
	currentBranches *region.Map[branch.ID],
	raftHistory branch.Reader,
) *region.Map[contract.AckFragment] {
	base := contract.AckFragment{State: ack.State, Branch: ack.Branch}
	if ack.Version == nil {
		return region.NewMap(reg, base)
	}
	combined := branch.Combine(raftHistory, ack.BranchHistory)
	// Fragment over canonical branches, then over the versions the ack
	// reports within each.
	return region.MapMulti(currentBranches, reg,
		func(branchReg region.Region, canonical branch.ID) *region.Map[contract.AckFragment] {
			return region.MapMulti(ack.Version, branchReg,
				func(r region.Region, vers branch.Version) *region.Map[contract.AckFragment] {
					onCanonical := branch.CommonBranch(combined, vers, canonical, r)
					return region.MapValues(onCanonical, r,
						func(_ region.Region, common branch.Version) contract.AckFragment {
							frag := base
							ts := common.Timestamp
							frag.Version = &ts
							return frag
						})
				})
		})
}
