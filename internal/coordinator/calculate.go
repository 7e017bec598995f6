package coordinator

import (
	"bytes"
	"fmt"
	"log"

	"slices"

	"helmdb/internal/contract"
)

// logf prints an INFO line under the given prefix. Log lines are
// observational only; with an empty prefix the calculator is silent and its
// outputs are identical.
func logf(prefix, format string, args ...any) {
	if prefix == "" {
		return
	}
	log.Printf("%s: %s", prefix, fmt.Sprintf(format, args...))
}

// CalculateContract derives the new contract for a region from the old
// contract, the user's shard config, the (homogeneous) ack fragments from
// replicas, and the connectivity matrix. It is pure: same inputs, same
// output, no suspension and no I/O beyond log lines.
func CalculateContract(
	oldC contract.Contract,
	config contract.Shard,
	acks map[contract.ServerID]contract.AckFragment,
	conns Connectivity,
	logPrefix string,
) contract.Contract {
	newC := oldC.Clone()
	if newC.Replicas == nil {
		newC.Replicas = contract.NewServerSet()
	}
	if newC.Voters == nil {
		newC.Voters = contract.NewServerSet()
	}

	// New servers in the config join the replica set immediately.
	for server := range config.AllReplicas {
		newC.Replicas.Add(server)
	}

	// A mismatch between the configured voter set and the contract's voter
	// set starts a voter change, but only once a majority of the new set is
	// already streaming (or is the current primary): setting TempVoters
	// makes the primary require acks from majorities of both sets, and
	// committing earlier would stall writes.
	configVoting := config.VotingReplicas()
	if oldC.TempVoters == nil && !oldC.Voters.Equal(configVoting) {
		numStreaming := 0
		for server := range configVoting {
			frag, ok := acks[server]
			if ok && (frag.State == contract.AckSecondaryStreaming ||
				(oldC.Primary != nil && oldC.Primary.Server == server)) {
				numStreaming++
			}
		}
		if numStreaming > len(configVoting)/2 {
			newC.TempVoters = configVoting
			logf(logPrefix, "Beginning replica set change.")
		}
	}

	// An in-flight voter change commits only when the primary reports
	// primary_ready: that is its promise that every previously-acked write
	// has been backfilled to a majority of TempVoters and that new writes
	// require joint majorities.
	if oldC.TempVoters != nil {
		if oldC.Primary != nil {
			if frag, ok := acks[oldC.Primary.Server]; ok && frag.State == contract.AckPrimaryReady {
				newC.Voters = newC.TempVoters
				newC.TempVoters = nil
				logf(logPrefix, "Committed replica set change.")
			}
		}
	}

	// visibleVoters: members of either voter set that a majority of Voters
	// (and of TempVoters, if present) can reach.
	visibleVoters := contract.NewServerSet()
	for server := range newC.Replicas {
		if !newC.Voters.Has(server) &&
			(newC.TempVoters == nil || !newC.TempVoters.Has(server)) {
			continue
		}
		if InvisibleToMajority(server, newC.Voters, conns) {
			continue
		}
		if newC.TempVoters != nil && InvisibleToMajority(server, newC.TempVoters, conns) {
			continue
		}
		visibleVoters.Add(server)
	}

	// Drop replicas that left the config and are not in any voter set. If
	// the departing server was primary, it is stopped further down.
	shouldKillPrimary := false
	for server := range oldC.Replicas {
		if !config.AllReplicas.Has(server) && !newC.Voters.Has(server) &&
			(newC.TempVoters == nil || !newC.TempVoters.Has(server)) {
			newC.Replicas.Remove(server)
			if oldC.Primary != nil && oldC.Primary.Server == server {
				shouldKillPrimary = true
				logf(logPrefix, "Stopping server %s as primary because it's no longer a voter.", server)
			}
		}
	}

	if oldC.Primary == nil {
		newC.Primary = electPrimary(&newC, config, acks, visibleVoters, logPrefix)
	} else {
		// The old primary may need to be stopped, or the role handed over
		// to the configured primary. The transition to a different primary
		// always passes through a contract with no primary at all: a
		// majority of replicas must promise to stop accepting writes from
		// the old primary before a new one may be elected.
		if !shouldKillPrimary && !visibleVoters.Has(oldC.Primary.Server) {
			// Auto-failover. Precision doesn't matter for safety; a wrong
			// call here costs availability only.
			shouldKillPrimary = true
			logf(logPrefix, "Stopping server %s as primary because a majority of voters cannot reach it.", oldC.Primary.Server)
		}

		if shouldKillPrimary {
			newC.Primary = nil
		} else if oldC.Primary.Server != config.PrimaryReplica {
			handingOverToConfig := oldC.Primary.HandOver != nil &&
				*oldC.Primary.HandOver == config.PrimaryReplica
			if !handingOverToConfig {
				frag, ok := acks[config.PrimaryReplica]
				if ok && frag.State == contract.AckSecondaryStreaming &&
					visibleVoters.Has(config.PrimaryReplica) {
					h := config.PrimaryReplica
					newC.Primary.HandOver = &h
					logf(logPrefix, "Handing over primary from %s to %s to match table config.",
						oldC.Primary.Server, config.PrimaryReplica)
				} else if oldC.Primary.HandOver != nil {
					// Mid-hand-over the user pointed PrimaryReplica at yet
					// another server, which isn't ready. Cancel the stale
					// hand-over.
					newC.Primary.HandOver = nil
				}
			} else {
				if frag, ok := acks[oldC.Primary.Server]; ok && frag.State == contract.AckPrimaryReady {
					// Hand-over complete. Stop the old primary; the new one
					// is elected after the replicas acknowledge the vacancy.
					newC.Primary = nil
					logf(logPrefix, "Stopping server %s as primary because the hand-over is complete.", oldC.Primary.Server)
				} else if !visibleVoters.Has(config.PrimaryReplica) {
					// The incoming primary failed before the hand-over
					// finished. Abort it.
					newC.Primary.HandOver = nil
				}
			}
		} else if oldC.Primary.HandOver != nil {
			// The user changed PrimaryReplica back mid-hand-over.
			newC.Primary.HandOver = nil
		}
	}

	return newC
}

// electPrimary picks a primary for a contract that has none. Only voters
// acking secondary_need_primary are candidates; a candidate must carry every
// acked write, which holds exactly when it is at least as up-to-date as more
// than half of the voters.
func electPrimary(
	newC *contract.Contract,
	config contract.Shard,
	acks map[contract.ServerID]contract.AckFragment,
	visibleVoters contract.ServerSet,
	logPrefix string,
) *contract.Primary {
	type candidate struct {
		ts     uint64
		server contract.ServerID
	}
	sorted := make([]candidate, 0, len(newC.Voters))
	for server := range newC.Voters {
		frag, ok := acks[server]
		if !ok || frag.State != contract.AckSecondaryNeedPrimary || frag.Version == nil {
			continue
		}
		sorted = append(sorted, candidate{ts: *frag.Version, server: server})
	}
	// The server ID tie-break keeps the choice stable across runs, which
	// keeps contract churn down.
	slices.SortFunc(sorted, func(a, b candidate) int {
		if a.ts != b.ts {
			if a.ts < b.ts {
				return -1
			}
			return 1
		}
		return bytes.Compare(a.server[:], b.server[:])
	})

	var eligible []contract.ServerID
	for i := range sorted {
		server := sorted[i].server
		if !visibleVoters.Has(server) {
			continue
		}
		// The candidate is at least as up-to-date as itself, everything
		// before it, and any ties directly after it.
		upToDate := i + 1
		for upToDate < len(sorted) && sorted[upToDate].ts == sorted[i].ts {
			upToDate++
		}
		if upToDate > len(newC.Voters)/2 {
			eligible = append(eligible, server)
		}
	}

	chosen := contract.NilServer
	if slices.ContainsFunc(eligible, func(s contract.ServerID) bool { return s == config.PrimaryReplica }) {
		chosen = config.PrimaryReplica
	} else if len(eligible) > 0 {
		_, acked := acks[config.PrimaryReplica]
		if !config.PrimaryReplica.IsNil() && visibleVoters.Has(config.PrimaryReplica) && !acked {
			// The configured primary is reachable and was disqualified only
			// because its first ack hasn't arrived. Wait for it rather than
			// electing somebody else; the caller's failover timer bounds
			// the wait.
		} else {
			// eligible is ordered by how up-to-date the candidates are.
			chosen = eligible[len(eligible)-1]
		}
	}
	if chosen.IsNil() {
		return nil
	}
	logf(logPrefix, "Selected server %s as primary.", chosen)
	return &contract.Primary{Server: chosen}
}
