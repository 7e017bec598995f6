package coordinator

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"helmdb/internal/branch"
	"helmdb/internal/contract"
	"helmdb/internal/observation"
)

// mesh builds a connectivity matrix where every listed server sees itself
// and every other one.
func mesh(servers ...contract.ServerID) *observation.ConnectionsMap {
	conns := observation.NewConnectionsMap()
	for _, a := range servers {
		for _, b := range servers {
			conns.Set(a, b)
		}
	}
	return conns
}

func needPrimary(ts uint64) contract.AckFragment {
	v := ts
	return contract.AckFragment{State: contract.AckSecondaryNeedPrimary, Version: &v}
}

func maxServer(a, b contract.ServerID) contract.ServerID {
	if bytes.Compare(a[:], b[:]) > 0 {
		return a
	}
	return b
}

func requireInvariants(t *testing.T, c contract.Contract) {
	t.Helper()
	require.NoError(t, c.Validate())
}

func TestVisibilityOracle(t *testing.T) {
	s1, s2, s3, target := contract.NewServerID(), contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	judges := contract.NewServerSet(s1, s2, s3)

	conns := mesh(s1, s2, s3)
	// Nobody sees the target.
	require.True(t, InvisibleToMajority(target, judges, conns))

	// Two of three judges see it.
	conns.Set(s1, target)
	conns.Set(s2, target)
	require.False(t, InvisibleToMajority(target, judges, conns))

	// A judge the coordinator lost contact with counts as seeing the
	// target.
	conns2 := mesh(s1, s2, s3)
	conns2.Set(s1, target)
	conns2.Unset(s2, s2)
	require.False(t, InvisibleToMajority(target, judges, conns2))
}

func TestBootstrapElectsDesignatedPrimary(t *testing.T) {
	s1, s2, s3 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	old := contract.Contract{
		Replicas: contract.NewServerSet(s1, s2, s3),
		Voters:   contract.NewServerSet(s1, s2, s3),
	}
	config := contract.Shard{
		AllReplicas:    contract.NewServerSet(s1, s2, s3),
		PrimaryReplica: s2,
	}
	acks := map[contract.ServerID]contract.AckFragment{
		s1: needPrimary(10), s2: needPrimary(10), s3: needPrimary(10),
	}

	got := CalculateContract(old, config, acks, mesh(s1, s2, s3), "")
	requireInvariants(t, got)
	require.NotNil(t, got.Primary)
	require.Equal(t, s2, got.Primary.Server)
	require.Nil(t, got.Primary.HandOver)
}

func TestElectionDefersForDesignatedPrimary(t *testing.T) {
	s1, s2, s3 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	old := contract.Contract{
		Replicas: contract.NewServerSet(s1, s2, s3),
		Voters:   contract.NewServerSet(s1, s2, s3),
	}
	config := contract.Shard{
		AllReplicas:    contract.NewServerSet(s1, s2, s3),
		PrimaryReplica: s2,
	}
	// s2 is visible but silent: wait for its ack.
	acks := map[contract.ServerID]contract.AckFragment{
		s1: needPrimary(10), s3: needPrimary(10),
	}

	got := CalculateContract(old, config, acks, mesh(s1, s2, s3), "")
	requireInvariants(t, got)
	require.Nil(t, got.Primary)
}

func TestElectionPicksAlternativeWhenDesignatedInvisible(t *testing.T) {
	s1, s2, s3 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	old := contract.Contract{
		Replicas: contract.NewServerSet(s1, s2, s3),
		Voters:   contract.NewServerSet(s1, s2, s3),
	}
	config := contract.Shard{
		AllReplicas:    contract.NewServerSet(s1, s2, s3),
		PrimaryReplica: s2,
	}
	acks := map[contract.ServerID]contract.AckFragment{
		s1: needPrimary(10), s3: needPrimary(10),
	}
	conns := mesh(s1, s2, s3)
	conns.Unset(s1, s2)
	conns.Unset(s3, s2)

	got := CalculateContract(old, config, acks, conns, "")
	requireInvariants(t, got)
	require.NotNil(t, got.Primary)
	// Equal timestamps: the server ID tie-break decides.
	require.Equal(t, maxServer(s1, s3), got.Primary.Server)
}

func TestVoterChangeCommitGating(t *testing.T) {
	s1, s2, s3, s4 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	old := contract.Contract{
		Replicas:   contract.NewServerSet(s1, s2, s3, s4),
		Voters:     contract.NewServerSet(s1, s2, s3),
		TempVoters: contract.NewServerSet(s2, s3, s4),
		Primary:    &contract.Primary{Server: s1},
	}
	config := contract.Shard{
		AllReplicas:       contract.NewServerSet(s1, s2, s3, s4),
		NonvotingReplicas: contract.NewServerSet(s1),
		PrimaryReplica:    s1,
	}
	conns := mesh(s1, s2, s3, s4)

	acks := map[contract.ServerID]contract.AckFragment{
		s1: {State: contract.AckPrimaryReady},
	}
	got := CalculateContract(old, config, acks, conns, "")
	requireInvariants(t, got)
	require.True(t, got.Voters.Equal(contract.NewServerSet(s2, s3, s4)))
	require.Nil(t, got.TempVoters)
	// Committing demoted s1 out of the voter set, so it is also stopped as
	// primary in the same pass.
	require.Nil(t, got.Primary)

	// primary_need_branch does not commit the change.
	b := branch.NewID()
	acks = map[contract.ServerID]contract.AckFragment{
		s1: {State: contract.AckPrimaryNeedBranch, Branch: &b},
	}
	got = CalculateContract(old, config, acks, conns, "")
	requireInvariants(t, got)
	require.True(t, got.Voters.Equal(contract.NewServerSet(s1, s2, s3)))
	require.True(t, got.TempVoters.Equal(contract.NewServerSet(s2, s3, s4)))
}

func TestVoterChangeBeginsOnlyWithMajorityStreaming(t *testing.T) {
	s1, s2, s3, s4 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	old := contract.Contract{
		Replicas: contract.NewServerSet(s1, s2, s3, s4),
		Voters:   contract.NewServerSet(s1, s2, s3),
		Primary:  &contract.Primary{Server: s1},
	}
	config := contract.Shard{
		AllReplicas:       contract.NewServerSet(s1, s2, s3, s4),
		NonvotingReplicas: contract.NewServerSet(s1),
		PrimaryReplica:    s1,
	}
	conns := mesh(s1, s2, s3, s4)

	// Only one of {s2,s3,s4} streams: not a majority, no temp voters.
	acks := map[contract.ServerID]contract.AckFragment{
		s2: {State: contract.AckSecondaryStreaming},
	}
	got := CalculateContract(old, config, acks, conns, "")
	requireInvariants(t, got)
	require.Nil(t, got.TempVoters)

	// Two of three suffice.
	acks[s3] = contract.AckFragment{State: contract.AckSecondaryStreaming}
	got = CalculateContract(old, config, acks, conns, "")
	requireInvariants(t, got)
	require.True(t, got.TempVoters.Equal(contract.NewServerSet(s2, s3, s4)))
}

func TestHandOver(t *testing.T) {
	s1, s2, s3 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	old := contract.Contract{
		Replicas: contract.NewServerSet(s1, s2, s3),
		Voters:   contract.NewServerSet(s1, s2, s3),
		Primary:  &contract.Primary{Server: s1},
	}
	config := contract.Shard{
		AllReplicas:    contract.NewServerSet(s1, s2, s3),
		PrimaryReplica: s2,
	}
	conns := mesh(s1, s2, s3)

	acks := map[contract.ServerID]contract.AckFragment{
		s2: {State: contract.AckSecondaryStreaming},
	}
	got := CalculateContract(old, config, acks, conns, "")
	requireInvariants(t, got)
	require.NotNil(t, got.Primary)
	require.Equal(t, s1, got.Primary.Server)
	require.NotNil(t, got.Primary.HandOver)
	require.Equal(t, s2, *got.Primary.HandOver)

	// Once the old primary reports ready, the role is vacated entirely;
	// the new primary is elected only on a later pass.
	acks = map[contract.ServerID]contract.AckFragment{
		s1: {State: contract.AckPrimaryReady},
	}
	got2 := CalculateContract(got, config, acks, conns, "")
	requireInvariants(t, got2)
	require.Nil(t, got2.Primary)
}

func TestHandOverAbortsWhenTargetVanishes(t *testing.T) {
	s1, s2, s3 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	h := s2
	old := contract.Contract{
		Replicas: contract.NewServerSet(s1, s2, s3),
		Voters:   contract.NewServerSet(s1, s2, s3),
		Primary:  &contract.Primary{Server: s1, HandOver: &h},
	}
	config := contract.Shard{
		AllReplicas:    contract.NewServerSet(s1, s2, s3),
		PrimaryReplica: s2,
	}
	conns := mesh(s1, s2, s3)
	conns.Unset(s1, s2)
	conns.Unset(s3, s2)

	got := CalculateContract(old, config, map[contract.ServerID]contract.AckFragment{}, conns, "")
	requireInvariants(t, got)
	require.NotNil(t, got.Primary)
	require.Equal(t, s1, got.Primary.Server)
	require.Nil(t, got.Primary.HandOver)
}

func TestAutoFailoverOnInvisiblePrimary(t *testing.T) {
	s1, s2, s3 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	old := contract.Contract{
		Replicas: contract.NewServerSet(s1, s2, s3),
		Voters:   contract.NewServerSet(s1, s2, s3),
		Primary:  &contract.Primary{Server: s1},
	}
	config := contract.Shard{
		AllReplicas:    contract.NewServerSet(s1, s2, s3),
		PrimaryReplica: s1,
	}
	conns := mesh(s1, s2, s3)
	conns.Unset(s2, s1)
	conns.Unset(s3, s1)

	got := CalculateContract(old, config, map[contract.ServerID]contract.AckFragment{}, conns, "")
	requireInvariants(t, got)
	require.Nil(t, got.Primary)
}

func TestDepartedReplicaIsPruned(t *testing.T) {
	s1, s2, s3, s4 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	old := contract.Contract{
		Replicas: contract.NewServerSet(s1, s2, s3, s4),
		Voters:   contract.NewServerSet(s1, s2, s3),
		Primary:  &contract.Primary{Server: s1},
	}
	config := contract.Shard{
		AllReplicas:    contract.NewServerSet(s1, s2, s3),
		PrimaryReplica: s1,
	}
	got := CalculateContract(old, config, map[contract.ServerID]contract.AckFragment{}, mesh(s1, s2, s3, s4), "")
	requireInvariants(t, got)
	require.False(t, got.Replicas.Has(s4))
	require.NotNil(t, got.Primary)
}

// A primary replacement never happens in a single step: between a contract
// with primary P and one with primary Q there is always a contract with no
// primary.
func TestNoSingleStepPrimaryReplacement(t *testing.T) {
	s1, s2, s3 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	cur := contract.Contract{
		Replicas: contract.NewServerSet(s1, s2, s3),
		Voters:   contract.NewServerSet(s1, s2, s3),
		Primary:  &contract.Primary{Server: s1},
	}
	config := contract.Shard{
		AllReplicas:    contract.NewServerSet(s1, s2, s3),
		PrimaryReplica: s2,
	}
	conns := mesh(s1, s2, s3)

	steps := []map[contract.ServerID]contract.AckFragment{
		{s2: {State: contract.AckSecondaryStreaming}},
		{s1: {State: contract.AckPrimaryReady}},
		{s1: needPrimary(12), s2: needPrimary(12), s3: needPrimary(11)},
	}
	var sawVacancy bool
	for _, acks := range steps {
		next := CalculateContract(cur, config, acks, conns, "")
		requireInvariants(t, next)
		if cur.Primary != nil && next.Primary != nil {
			require.Equal(t, cur.Primary.Server, next.Primary.Server,
				"primary jumped from %s to %s without a vacancy", cur.Primary.Server, next.Primary.Server)
		}
		if next.Primary == nil {
			sawVacancy = true
		}
		cur = next
	}
	require.True(t, sawVacancy)
	require.NotNil(t, cur.Primary)
	require.Equal(t, s2, cur.Primary.Server)
}
