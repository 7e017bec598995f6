package replication

import (
	"context"

	"helmdb/internal/branch"
	"helmdb/internal/coordinator"
)

// Target consumes committed contract changes; in production this is the
// coordinator pump.
type Target interface {
	ApplyCommitted(d coordinator.Diff, certs map[branch.ID]branch.BirthCertificate)
}

// Store persists committed commands; in production this is the bolt-backed
// state store.
type Store interface {
	ApplyCommand(cmd *Command) error
}

// Applier applies replicated commands to the local state.
type Applier struct {
	target Target
	store  Store
}

// NewApplier constructs an applier. store may be nil for in-memory runs.
func NewApplier(target Target, store Store) *Applier {
	return &Applier{target: target, store: store}
}

// Apply consumes a serialized command from the log, persists it, and feeds
// the diff to the target.
func (a *Applier) Apply(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	cmd, err := UnmarshalCommand(data)
	if err != nil {
		return err
	}
	if a.store != nil {
		if err := a.store.ApplyCommand(cmd); err != nil {
			return err
		}
	}
	d, certs := cmd.Diff()
	a.target.ApplyCommitted(d, certs)
	return nil
}

// Log is the slice of the consensus layer the proposer needs.
type Log interface {
	Propose(data []byte) error
}

// LogProposer submits coordinator diffs to the replicated log.
type LogProposer struct {
	log Log
}

// NewLogProposer wraps a consensus log.
func NewLogProposer(log Log) *LogProposer {
	return &LogProposer{log: log}
}

// ProposeChange implements coordinator.Proposer.
func (p *LogProposer) ProposeChange(_ context.Context, d coordinator.Diff, certs map[branch.ID]branch.BirthCertificate) error {
	cmd := FromDiff(d, certs)
	data, err := cmd.Marshal()
	if err != nil {
		return err
	}
	return p.log.Propose(data)
}
