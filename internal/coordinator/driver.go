package coordinator

import (
	"bytes"
	"fmt"

	"slices"

	"helmdb/internal/contract"
	"helmdb/internal/observation"
	"helmdb/internal/region"
)

// AckSource is the driver's read-only view of the ack map.
type AckSource interface {
	ReadAll(fn func(observation.AckKey, *contract.Ack))
}

// CalculateAllContracts recomputes contracts for the whole key space and
// returns the diff against the old contract set. It cuts the key space into
// sub-regions over which every input is homogeneous, runs
// CalculateContract on each, coalesces value-equal neighbors, re-slices so
// no contract spans a CPU-shard or user-shard boundary, and finally diffs
// against the old contracts so unchanged ones keep their IDs.
//
// The computation is strictly synchronous: it must run to completion on the
// consensus leader's apply thread with no suspension, so that its inputs
// cannot shift underneath it.
func CalculateAllContracts(
	oldState *State,
	acks AckSource,
	conns Connectivity,
	logPrefix string,
) Diff {
	var newFragments []region.Entry[contract.Contract]
	registerSeen := make(map[string]struct{})
	var registerOut []BranchAssignment

	for _, cid := range sortedContractIDs(oldState.Contracts) {
		pair := oldState.Contracts[cid]
		for shardIndex := range oldState.Config.Shards {
			reg := pair.Region.Intersect(
				region.KeySpan(oldState.Config.Scheme.ShardRange(shardIndex)))
			if reg.IsEmpty() {
				continue
			}

			// Collect this contract's acks as per-server fragments. The map
			// starts homogeneous and fragments as acks split it.
			fragsByServer := region.NewMap(reg, map[contract.ServerID]contract.AckFragment{})
			acks.ReadAll(func(key observation.AckKey, ack *contract.Ack) {
				if key.Contract != cid {
					return
				}
				frags := BreakAckIntoFragments(reg, ack, oldState.CurrentBranches, oldState.BranchHistory)
				frags.Visit(reg, func(fragReg region.Region, frag contract.AckFragment) {
					fragsByServer.Update(fragReg, cloneFragMap,
						func(r region.Region, m map[contract.ServerID]contract.AckFragment) map[contract.ServerID]contract.AckFragment {
							if _, dup := m[key.Server]; dup {
								panic(fmt.Sprintf("coordinator: duplicate ack fragment from %s over %s", key.Server, r))
							}
							m[key.Server] = frag
							return m
						})
				})
			})

			fragsByServer.Coalesce(fragMapEqual)

			subshardIndex := 0
			fragsByServer.Visit(reg, func(subReg region.Region, ackMap map[contract.ServerID]contract.AckFragment) {
				// Inputs are homogeneous across subReg now. The log
				// identifier is "shard <user>.<subshard>.<cpu>"; Visit goes
				// subshard-first then hash-order, so the subshard counter
				// advances whenever a piece completes the hash range.
				logSubprefix := ""
				if logPrefix != "" {
					logSubprefix = fmt.Sprintf("%s: shard %d.%d.%d",
						logPrefix, shardIndex, subshardIndex, region.CPUShardApproxNumber(subReg))
					if subReg.Hash.End == region.HashSize {
						subshardIndex++
					}
				}

				oldContract := pair.Contract
				newContract := CalculateContract(
					oldContract, oldState.Config.Shards[shardIndex], ackMap, conns, logSubprefix)

				// A primary that stays primary may ask for a new branch to
				// be registered.
				if oldContract.Primary != nil && newContract.Primary != nil &&
					oldContract.Primary.Server == newContract.Primary.Server {
					if frag, ok := ackMap[oldContract.Primary.Server]; ok &&
						frag.State == contract.AckPrimaryNeedBranch {
						if frag.Branch == nil {
							panic("coordinator: primary_need_branch ack carries no branch")
						}
						key := regionKey(subReg)
						if _, dup := registerSeen[key]; dup {
							panic(fmt.Sprintf("coordinator: branch registered twice for %s", subReg))
						}
						registerSeen[key] = struct{}{}
						registerOut = append(registerOut, BranchAssignment{
							Region: subReg, Branch: *frag.Branch,
						})
					}
				}

				newFragments = append(newFragments, region.Entry[contract.Contract]{
					Region: subReg, Value: newContract,
				})
			})
		}
	}

	// Coalescing adjacent value-equal contracts keeps recomputation from
	// fragmenting the contract set over time.
	newContractMap := region.FromFragments(newFragments, contract.Contract.Equal)

	// Re-slice per (CPU shard × user shard); a contract never spans either
	// boundary.
	type slicedEntry struct {
		reg region.Region
		c   contract.Contract
	}
	var sliced []slicedEntry
	slicedByKey := make(map[string]contract.Contract)
	for cpu := 0; cpu < region.CPUShardingFactor; cpu++ {
		for shardIndex := range oldState.Config.Shards {
			sliceReg := region.CPUShardSubspace(cpu)
			sliceReg.Keys = oldState.Config.Scheme.ShardRange(shardIndex)
			newContractMap.Visit(sliceReg, func(r region.Region, c contract.Contract) {
				if r.Hash != sliceReg.Hash {
					panic(fmt.Sprintf("coordinator: slice %s not aligned to CPU shard %s", r, sliceReg))
				}
				sliced = append(sliced, slicedEntry{reg: r, c: c})
				slicedByKey[regionKey(r)] = c
			})
		}
	}

	// Diff against the old contracts. An exact-region, value-equal hit
	// keeps the old contract ID; everything else is removed and the
	// remaining slices are minted fresh.
	diff := Diff{
		RemoveContracts: make(map[contract.ID]struct{}),
		AddContracts:    make(map[contract.ID]RegionContract),
	}
	kept := make(map[string]struct{})
	for _, cid := range sortedContractIDs(oldState.Contracts) {
		pair := oldState.Contracts[cid]
		key := regionKey(pair.Region)
		if c, ok := slicedByKey[key]; ok && c.Equal(pair.Contract) {
			if _, taken := kept[key]; !taken {
				kept[key] = struct{}{}
				continue
			}
		}
		diff.RemoveContracts[cid] = struct{}{}
	}
	for _, e := range sliced {
		if _, ok := kept[regionKey(e.reg)]; ok {
			continue
		}
		diff.AddContracts[contract.NewID()] = RegionContract{Region: e.reg, Contract: e.c}
	}

	slices.SortFunc(registerOut, func(a, b BranchAssignment) int {
		return region.Compare(a.Region, b.Region)
	})
	diff.RegisterCurrentBranches = registerOut
	return diff
}

func cloneFragMap(m map[contract.ServerID]contract.AckFragment) map[contract.ServerID]contract.AckFragment {
	out := make(map[contract.ServerID]contract.AckFragment, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func fragMapEqual(a, b map[contract.ServerID]contract.AckFragment) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func sortedContractIDs(contracts map[contract.ID]RegionContract) []contract.ID {
	ids := make([]contract.ID, 0, len(contracts))
	for id := range contracts {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b contract.ID) int { return bytes.Compare(a[:], b[:]) })
	return ids
}

// regionKey is a canonical encoding used to look regions up by exact value.
func regionKey(r region.Region) string {
	end := "inf"
	if !r.Keys.Unbounded() {
		end = fmt.Sprintf("%x", r.Keys.End)
	}
	return fmt.Sprintf("%016x:%016x:%x:%s", r.Hash.Begin, r.Hash.End, r.Keys.Start, end)
}
