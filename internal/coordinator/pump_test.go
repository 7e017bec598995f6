package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"helmdb/internal/branch"
	"helmdb/internal/contract"
	"helmdb/internal/observation"
	"helmdb/internal/region"
)

type captureProposer struct {
	diffs []Diff
	certs []map[branch.ID]branch.BirthCertificate
}

func (c *captureProposer) ProposeChange(_ context.Context, d Diff, certs map[branch.ID]branch.BirthCertificate) error {
	c.diffs = append(c.diffs, d)
	c.certs = append(c.certs, certs)
	return nil
}

func TestPumpProposesElection(t *testing.T) {
	cfg, servers := threeServerConfig()
	state := Bootstrap(cfg)
	acks := observation.NewAckMap()
	conns := mesh(servers...)
	prop := &captureProposer{}
	pump := NewPump(state, acks, conns, prop, PumpOptions{})

	for cid := range state.Contracts {
		for _, s := range servers {
			acks.Set(observation.AckKey{Server: s, Contract: cid}, ackNeedPrimary(10))
		}
	}

	pump.iterate(context.Background())
	require.Len(t, prop.diffs, 1)
	diff := prop.diffs[0]
	require.NotEmpty(t, diff.AddContracts)
	for _, rc := range diff.AddContracts {
		require.NotNil(t, rc.Contract.Primary)
		require.Equal(t, cfg.Shards[0].PrimaryReplica, rc.Contract.Primary.Server)
	}

	// Feeding the committed diff back leaves nothing further to propose.
	pump.ApplyCommitted(diff, nil)
	pump.iterate(context.Background())
	require.Len(t, prop.diffs, 1)

	diag := pump.Diagnostics()
	require.Equal(t, uint64(2), diag.Recomputes)
	require.Zero(t, diag.RegionsWithoutPrimary)
}

func TestPumpFailoverTimerBypassesDeferral(t *testing.T) {
	cfg, servers := threeServerConfig()
	s1, s3 := servers[0], servers[2]
	state := Bootstrap(cfg)
	acks := observation.NewAckMap()
	conns := mesh(servers...)
	prop := &captureProposer{}
	pump := NewPump(state, acks, conns, prop, PumpOptions{FailoverTimeout: 5 * time.Millisecond})

	// The designated primary s2 is visible but silent; s1 and s3 ack.
	for cid := range state.Contracts {
		acks.Set(observation.AckKey{Server: s1, Contract: cid}, ackNeedPrimary(10))
		acks.Set(observation.AckKey{Server: s3, Contract: cid}, ackNeedPrimary(10))
	}

	// First pass defers: nothing proposed, the vacancy clock starts.
	pump.iterate(context.Background())
	require.Empty(t, prop.diffs)

	time.Sleep(10 * time.Millisecond)
	pump.iterate(context.Background())
	require.Len(t, prop.diffs, 1)
	for _, rc := range prop.diffs[0].AddContracts {
		require.NotNil(t, rc.Contract.Primary)
		require.Equal(t, maxServer(s1, s3), rc.Contract.Primary.Server)
	}
}

func TestPumpSkipsWhenNotLeader(t *testing.T) {
	cfg, servers := threeServerConfig()
	state := Bootstrap(cfg)
	acks := observation.NewAckMap()
	conns := mesh(servers...)
	prop := &captureProposer{}
	leader := false
	pump := NewPump(state, acks, conns, prop, PumpOptions{IsLeader: func() bool { return leader }})

	for cid := range state.Contracts {
		for _, s := range servers {
			acks.Set(observation.AckKey{Server: s, Contract: cid}, ackNeedPrimary(10))
		}
	}

	pump.iterate(context.Background())
	require.Empty(t, prop.diffs)

	leader = true
	pump.iterate(context.Background())
	require.Len(t, prop.diffs, 1)
}

func TestPumpHarvestsBranchCertificates(t *testing.T) {
	cfg, servers := threeServerConfig()
	cfg.Shards[0].PrimaryReplica = servers[0]
	state := Bootstrap(cfg)
	for id, rc := range state.Contracts {
		rc.Contract.Primary = &contract.Primary{Server: servers[0]}
		state.Contracts[id] = rc
	}
	acks := observation.NewAckMap()
	conns := mesh(servers...)
	prop := &captureProposer{}
	pump := NewPump(state, acks, conns, prop, PumpOptions{})

	b := branch.NewID()
	hist := branch.NewHistory()
	require.NoError(t, hist.Add(b, branch.BirthCertificate{
		Region:           region.Universe(),
		Origin:           region.NewMap(region.Universe(), branch.ZeroVersion()),
		InitialTimestamp: 1,
	}))
	for cid := range state.Contracts {
		acks.Set(observation.AckKey{Server: servers[0], Contract: cid},
			&contract.Ack{State: contract.AckPrimaryNeedBranch, Branch: &b, BranchHistory: hist})
	}

	pump.iterate(context.Background())
	require.Len(t, prop.diffs, 1)
	require.NotEmpty(t, prop.diffs[0].RegisterCurrentBranches)
	require.Contains(t, prop.certs[0], b)

	pump.ApplyCommitted(prop.diffs[0], prop.certs[0])
	if _, ok := state.BranchHistory.Branch(b); !ok {
		t.Fatalf("committed branch missing from history")
	}
}
