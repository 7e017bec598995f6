package consensus

import (
	"context"
	"sync"
	"time"

	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

// Commit is one applied log entry handed to the state machine.
type Commit struct {
	Data       []byte
	Index      uint64
	Term       uint64
	ConfChange *raftpb.ConfChange
}

// Config describes a consensus node.
type Config struct {
	ID        uint64
	Peers     []raft.Peer
	Storage   *Storage
	Transport Transport

	TickInterval  time.Duration
	ElectionTick  int
	HeartbeatTick int
}

// Node runs the raft state machine that replicates coordinator commands.
type Node struct {
	id        uint64
	raftNode  raft.Node
	storage   *Storage
	transport Transport
	tick      time.Duration

	mu      sync.RWMutex
	applied uint64

	commitC chan<- *Commit
	errorC  chan<- error

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNode creates a node. A non-empty Peers list bootstraps a new cluster;
// an empty one restarts from storage.
func NewNode(cfg *Config) *Node {
	raftConfig := &raft.Config{
		ID:              cfg.ID,
		ElectionTick:    cfg.ElectionTick,
		HeartbeatTick:   cfg.HeartbeatTick,
		Storage:         cfg.Storage,
		MaxSizePerMsg:   4096,
		MaxInflightMsgs: 256,
		CheckQuorum:     true,
		PreVote:         true,
	}
	if raftConfig.ElectionTick == 0 {
		raftConfig.ElectionTick = 10
	}
	if raftConfig.HeartbeatTick == 0 {
		raftConfig.HeartbeatTick = 1
	}

	transport := cfg.Transport
	if transport == nil {
		transport = NewNoopTransport()
	}
	tick := cfg.TickInterval
	if tick == 0 {
		tick = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		id:        cfg.ID,
		storage:   cfg.Storage,
		transport: transport,
		tick:      tick,
		ctx:       ctx,
		cancel:    cancel,
	}
	if len(cfg.Peers) > 0 {
		n.raftNode = raft.StartNode(raftConfig, cfg.Peers)
	} else {
		n.raftNode = raft.RestartNode(raftConfig)
	}
	return n
}

// Start begins the node's main loop, delivering applied entries on commitC.
func (n *Node) Start(commitC chan<- *Commit, errorC chan<- error) {
	n.commitC = commitC
	n.errorC = errorC
	go n.run()
}

// Stop halts the node.
func (n *Node) Stop() {
	n.cancel()
	n.raftNode.Stop()
}

// Propose submits data for replication.
func (n *Node) Propose(data []byte) error {
	ctx, cancel := context.WithTimeout(n.ctx, 5*time.Second)
	defer cancel()
	return n.raftNode.Propose(ctx, data)
}

// ProposeConfChange submits a membership change.
func (n *Node) ProposeConfChange(cc raftpb.ConfChange) error {
	ctx, cancel := context.WithTimeout(n.ctx, 5*time.Second)
	defer cancel()
	return n.raftNode.ProposeConfChange(ctx, cc)
}

// Step processes an incoming raft message from a peer.
func (n *Node) Step(ctx context.Context, msg raftpb.Message) error {
	return n.raftNode.Step(ctx, msg)
}

// IsLeader reports whether this node currently leads the group.
func (n *Node) IsLeader() bool {
	return n.raftNode.Status().Lead == n.id
}

// Status returns the raft status.
func (n *Node) Status() raft.Status {
	return n.raftNode.Status()
}

// AppliedIndex returns the index of the latest applied entry.
func (n *Node) AppliedIndex() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.applied
}

func (n *Node) run() {
	ticker := time.NewTicker(n.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.raftNode.Tick()

		case rd := <-n.raftNode.Ready():
			if !raft.IsEmptyHardState(rd.HardState) {
				if err := n.storage.SetHardState(rd.HardState); err != nil {
					n.sendError(err)
				}
			}
			if len(rd.Entries) > 0 {
				if err := n.storage.Append(rd.Entries); err != nil {
					n.sendError(err)
				}
			}
			n.sendMessages(rd.Messages)
			if !raft.IsEmptySnap(rd.Snapshot) {
				if err := n.storage.ApplySnapshot(rd.Snapshot); err != nil {
					n.sendError(err)
				}
				n.setApplied(rd.Snapshot.Metadata.Index)
			}
			n.applyCommits(rd.CommittedEntries)
			n.raftNode.Advance()

		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Node) sendMessages(messages []raftpb.Message) {
	for _, msg := range messages {
		if msg.To == 0 {
			continue
		}
		if err := n.transport.Send(msg.To, []raftpb.Message{msg}); err != nil {
			n.sendError(err)
		}
	}
}

func (n *Node) applyCommits(entries []raftpb.Entry) {
	for _, entry := range entries {
		switch entry.Type {
		case raftpb.EntryNormal:
			if len(entry.Data) > 0 {
				commit := &Commit{Data: entry.Data, Index: entry.Index, Term: entry.Term}
				select {
				case n.commitC <- commit:
				case <-n.ctx.Done():
					return
				}
			}
		case raftpb.EntryConfChange:
			var cc raftpb.ConfChange
			if err := cc.Unmarshal(entry.Data); err != nil {
				n.sendError(err)
				continue
			}
			cs := n.raftNode.ApplyConfChange(cc)
			if err := n.storage.SetConfState(cs); err != nil {
				n.sendError(err)
			}
			ccCopy := cc
			commit := &Commit{Index: entry.Index, Term: entry.Term, ConfChange: &ccCopy}
			select {
			case n.commitC <- commit:
			case <-n.ctx.Done():
				return
			}
		}
		n.setApplied(entry.Index)
	}
}

func (n *Node) setApplied(index uint64) {
	n.mu.Lock()
	if index > n.applied {
		n.applied = index
	}
	n.mu.Unlock()
}

func (n *Node) sendError(err error) {
	if n.errorC != nil {
		select {
		case n.errorC <- err:
		default:
		}
	}
}
