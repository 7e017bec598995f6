package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"helmdb/internal/branch"
	"helmdb/internal/contract"
	"helmdb/internal/observation"
	"helmdb/internal/region"
)

// Proposer submits a contract diff to the replicated log. The change takes
// effect only once committed and fed back through ApplyCommitted.
type Proposer interface {
	ProposeChange(ctx context.Context, d Diff, certs map[branch.ID]branch.BirthCertificate) error
}

// PumpOptions tunes the coordinator loop.
type PumpOptions struct {
	// LogPrefix prefixes every coordinator INFO line; empty disables them.
	LogPrefix string
	// FailoverTimeout bounds how long election waits for the configured
	// primary's first ack before electing somebody else.
	FailoverTimeout time.Duration
	// IsLeader gates computation to the consensus leader. Nil means always
	// leader (single node).
	IsLeader func() bool
}

// DefaultFailoverTimeout is used when PumpOptions leaves it zero.
const DefaultFailoverTimeout = 10 * time.Second

// Diagnostics is a sample of pump counters for the metrics collector.
type Diagnostics struct {
	Recomputes            uint64
	LastRecomputeDuration time.Duration
	ContractsLive         int
	ContractsAdded        uint64
	ContractsRemoved      uint64
	RegionsWithoutPrimary int
}

// Pump owns the coordinator state snapshot and re-runs the contract
// calculation whenever acks, connectivity, or config change, proposing the
// resulting diff to the replicated log.
type Pump struct {
	mu          sync.Mutex
	state       *State
	vacantSince map[int]time.Time
	stats       Diagnostics

	acks     *observation.AckMap
	conns    *observation.ConnectionsMap
	proposer Proposer
	opts     PumpOptions
	wake     chan struct{}
}

// NewPump wires a pump to its inputs. It registers itself for change
// notifications on both observation maps.
func NewPump(state *State, acks *observation.AckMap, conns *observation.ConnectionsMap, proposer Proposer, opts PumpOptions) *Pump {
	if opts.FailoverTimeout <= 0 {
		opts.FailoverTimeout = DefaultFailoverTimeout
	}
	p := &Pump{
		state:       state,
		vacantSince: make(map[int]time.Time),
		acks:        acks,
		conns:       conns,
		proposer:    proposer,
		opts:        opts,
		wake:        make(chan struct{}, 1),
	}
	acks.OnChange(p.Wake)
	conns.OnChange(p.Wake)
	return p
}

// Wake schedules a recomputation. Safe from any goroutine; coalesces.
func (p *Pump) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// SetConfig replaces the table config and schedules a recomputation.
func (p *Pump) SetConfig(cfg contract.TableConfig) {
	p.mu.Lock()
	p.state.Config = cfg.Clone()
	p.mu.Unlock()
	p.Wake()
}

// Diagnostics returns a snapshot of the pump counters.
func (p *Pump) Diagnostics() Diagnostics {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.ContractsLive = len(p.state.Contracts)
	stats.RegionsWithoutPrimary = 0
	for _, rc := range p.state.Contracts {
		if rc.Contract.Primary == nil {
			stats.RegionsWithoutPrimary++
		}
	}
	return stats
}

// Run drives the pump until ctx is canceled. A periodic tick re-runs the
// computation so the failover timer fires even with no input changes.
func (p *Pump) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		case <-ticker.C:
		}
		p.iterate(ctx)
	}
}

// iterate runs one computation and proposes the diff, on the leader only.
func (p *Pump) iterate(ctx context.Context) {
	if p.opts.IsLeader != nil && !p.opts.IsLeader() {
		return
	}

	p.mu.Lock()
	snapshot := p.state.Clone()
	snapshot.Config = p.effectiveConfigLocked(time.Now())
	p.mu.Unlock()

	start := time.Now()
	diff := CalculateAllContracts(snapshot, p.acks, p.conns, p.opts.LogPrefix)
	elapsed := time.Since(start)

	p.mu.Lock()
	p.stats.Recomputes++
	p.stats.LastRecomputeDuration = elapsed
	p.stats.ContractsAdded += uint64(len(diff.AddContracts))
	p.stats.ContractsRemoved += uint64(len(diff.RemoveContracts))
	p.mu.Unlock()

	if diff.IsEmpty() {
		return
	}
	certs := p.harvestCertificates(diff)
	if err := p.proposer.ProposeChange(ctx, diff, certs); err != nil {
		log.Printf("coordinator: propose contract change: %v", err)
	}
}

// ApplyCommitted advances the pump's state by a committed diff. Called by
// the log applier; also retires acks for removed contracts.
func (p *Pump) ApplyCommitted(d Diff, certs map[branch.ID]branch.BirthCertificate) {
	p.mu.Lock()
	p.state.Apply(d, certs)
	p.mu.Unlock()
	for id := range d.RemoveContracts {
		p.acks.DropContract(id)
	}
	p.Wake()
}

// effectiveConfigLocked implements the failover timer. Election defers to
// the configured primary while it is visible but has not acked yet; once a
// shard has sat primary-less past FailoverTimeout with no ack from its
// designated primary, the designation is dropped from the config handed to
// the calculator so an alternative gets elected.
func (p *Pump) effectiveConfigLocked(now time.Time) contract.TableConfig {
	cfg := p.state.Config.Clone()
	for i := range cfg.Shards {
		designated := cfg.Shards[i].PrimaryReplica
		if designated.IsNil() {
			delete(p.vacantSince, i)
			continue
		}
		waiting := p.shardVacantLocked(i) && !p.serverAcked(designated)
		if !waiting {
			delete(p.vacantSince, i)
			continue
		}
		since, ok := p.vacantSince[i]
		if !ok {
			p.vacantSince[i] = now
			continue
		}
		if now.Sub(since) >= p.opts.FailoverTimeout {
			cfg.Shards[i].PrimaryReplica = contract.NilServer
		}
	}
	return cfg
}

func (p *Pump) shardVacantLocked(shardIndex int) bool {
	span := region.KeySpan(p.state.Config.Scheme.ShardRange(shardIndex))
	for _, rc := range p.state.Contracts {
		if rc.Contract.Primary == nil && !rc.Region.Intersect(span).IsEmpty() {
			return true
		}
	}
	return false
}

func (p *Pump) serverAcked(server contract.ServerID) bool {
	acked := false
	p.acks.ReadAll(func(key observation.AckKey, _ *contract.Ack) {
		if key.Server == server {
			acked = true
		}
	})
	return acked
}

// harvestCertificates pulls birth certificates for newly registered
// branches out of the acks that requested them, so the log can persist
// ancestry alongside the branch assignment.
func (p *Pump) harvestCertificates(d Diff) map[branch.ID]branch.BirthCertificate {
	if len(d.RegisterCurrentBranches) == 0 {
		return nil
	}
	want := make(map[branch.ID]struct{}, len(d.RegisterCurrentBranches))
	for _, ba := range d.RegisterCurrentBranches {
		want[ba.Branch] = struct{}{}
	}
	certs := make(map[branch.ID]branch.BirthCertificate)
	p.acks.ReadAll(func(_ observation.AckKey, ack *contract.Ack) {
		if ack.BranchHistory == nil {
			return
		}
		for id := range want {
			if _, ok := certs[id]; ok {
				continue
			}
			if cert, ok := ack.BranchHistory.Branch(id); ok {
				certs[id] = cert
			}
		}
	})
	return certs
}
