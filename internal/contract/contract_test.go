package contract_test

import (
	"encoding/json"
	"testing"

	"helmdb/internal/branch"
	"helmdb/internal/contract"

	"github.com/stretchr/testify/require"
)

func TestContractEqual(t *testing.T) {
	s1, s2, s3 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	base := contract.Contract{
		Replicas: contract.NewServerSet(s1, s2, s3),
		Voters:   contract.NewServerSet(s1, s2, s3),
		Primary:  &contract.Primary{Server: s1},
		Branch:   branch.NewID(),
	}

	require.True(t, base.Equal(base.Clone()))

	noTemp := base.Clone()
	withTemp := base.Clone()
	withTemp.TempVoters = contract.NewServerSet(s1, s2, s3)
	if noTemp.Equal(withTemp) {
		t.Fatalf("temp voter presence must be significant")
	}

	other := base.Clone()
	h := s2
	other.Primary.HandOver = &h
	require.False(t, base.Equal(other))

	vacant := base.Clone()
	vacant.Primary = nil
	require.False(t, base.Equal(vacant))
}

func TestContractValidate(t *testing.T) {
	s1, s2 := contract.NewServerID(), contract.NewServerID()
	c := contract.Contract{
		Replicas: contract.NewServerSet(s1),
		Voters:   contract.NewServerSet(s1, s2),
	}
	err := c.Validate()
	require.Error(t, err)
	require.True(t, contract.IsInvalidContractError(err))

	c.Replicas.Add(s2)
	require.NoError(t, c.Validate())

	c.Primary = &contract.Primary{Server: contract.NewServerID()}
	err = c.Validate()
	require.Error(t, err)
	require.True(t, contract.IsInvalidContractError(err))
	require.False(t, contract.IsInvalidConfigError(err))
}

func TestServerSetJSONStable(t *testing.T) {
	s1, s2, s3 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	set := contract.NewServerSet(s1, s2, s3)

	a, err := json.Marshal(set)
	require.NoError(t, err)
	b, err := json.Marshal(set.Clone())
	require.NoError(t, err)
	require.Equal(t, a, b)

	var back contract.ServerSet
	require.NoError(t, json.Unmarshal(a, &back))
	require.True(t, set.Equal(back))
}

func TestShardVotingReplicas(t *testing.T) {
	s1, s2, s3 := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()
	shard := contract.Shard{
		AllReplicas:       contract.NewServerSet(s1, s2, s3),
		NonvotingReplicas: contract.NewServerSet(s3),
		PrimaryReplica:    s1,
	}
	voting := shard.VotingReplicas()
	require.True(t, voting.Equal(contract.NewServerSet(s1, s2)))
}

func TestShardScheme(t *testing.T) {
	scheme := contract.ShardScheme{SplitPoints: [][]byte{[]byte("g"), []byte("p")}}
	require.NoError(t, scheme.Validate())
	require.Equal(t, 3, scheme.NumShards())

	first := scheme.ShardRange(0)
	require.Empty(t, first.Start)
	require.Equal(t, []byte("g"), first.End)

	last := scheme.ShardRange(2)
	require.Equal(t, []byte("p"), last.Start)
	require.True(t, last.Unbounded())

	bad := contract.ShardScheme{SplitPoints: [][]byte{[]byte("p"), []byte("g")}}
	require.True(t, contract.IsInvalidConfigError(bad.Validate()))

	cfg := contract.TableConfig{Shards: make([]contract.Shard, 2), Scheme: scheme}
	require.True(t, contract.IsInvalidConfigError(cfg.Validate()))
	cfg.Shards = make([]contract.Shard, 3)
	require.NoError(t, cfg.Validate())
}
