package raftstate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"helmdb/internal/branch"
	"helmdb/internal/contract"
	"helmdb/internal/raftstate"
	"helmdb/internal/region"
	"helmdb/internal/replication"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := raftstate.Open(dir)
	require.NoError(t, err)

	s1, s2, s3 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	cfg := contract.TableConfig{
		Shards: []contract.Shard{{
			AllReplicas:    contract.NewServerSet(s1, s2, s3),
			PrimaryReplica: s1,
		}},
	}
	require.NoError(t, store.SaveConfig(cfg))

	id := contract.NewID()
	b := branch.NewID()
	cmd := &replication.Command{
		Add: []replication.AddedContract{{
			ID:     id,
			Region: region.CPUShardSubspace(0),
			Contract: contract.Contract{
				Replicas: contract.NewServerSet(s1, s2, s3),
				Voters:   contract.NewServerSet(s1, s2, s3),
				Primary:  &contract.Primary{Server: s1},
			},
		}},
		Branches: []replication.BranchRegistration{{
			Region: region.CPUShardSubspace(0),
			Branch: b,
			Certificate: &replication.Certificate{
				Region:           region.Universe(),
				Origin:           region.NewMap(region.Universe(), branch.ZeroVersion()),
				InitialTimestamp: 1,
			},
		}},
	}
	require.NoError(t, store.ApplyCommand(cmd))
	require.NoError(t, store.Close())

	store2, err := raftstate.Open(dir)
	require.NoError(t, err)
	defer store2.Close()

	state, err := store2.LoadState()
	require.NoError(t, err)
	require.Len(t, state.Config.Shards, 1)
	require.True(t, state.Config.Shards[0].AllReplicas.Equal(cfg.Shards[0].AllReplicas))

	rc, ok := state.Contracts[id]
	require.True(t, ok)
	require.True(t, rc.Region.Equal(region.CPUShardSubspace(0)))
	require.NotNil(t, rc.Contract.Primary)
	require.Equal(t, s1, rc.Contract.Primary.Server)
	// The contract's branch is restored from the current-branch map.
	require.Equal(t, b, rc.Contract.Branch)

	if _, ok := state.BranchHistory.Branch(b); !ok {
		t.Fatalf("branch certificate not recovered")
	}
}

func TestStoreRemoveContract(t *testing.T) {
	dir := t.TempDir()
	store, err := raftstate.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	id := contract.NewID()
	add := &replication.Command{
		Add: []replication.AddedContract{{
			ID:       id,
			Region:   region.CPUShardSubspace(1),
			Contract: contract.Contract{Replicas: contract.NewServerSet(), Voters: contract.NewServerSet()},
		}},
	}
	require.NoError(t, store.ApplyCommand(add))
	require.NoError(t, store.ApplyCommand(&replication.Command{Remove: []contract.ID{id}}))

	state, err := store.LoadState()
	require.NoError(t, err)
	require.Empty(t, state.Contracts)
}

func TestStoreDirectoryLock(t *testing.T) {
	dir := t.TempDir()
	store, err := raftstate.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	if _, err := raftstate.Open(dir); err == nil {
		t.Fatalf("second open must fail while the lock is held")
	}
}

func TestStoreLoadEmpty(t *testing.T) {
	store, err := raftstate.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	state, err := store.LoadState()
	require.NoError(t, err)
	require.Empty(t, state.Contracts)
	require.NotNil(t, state.CurrentBranches)
}
