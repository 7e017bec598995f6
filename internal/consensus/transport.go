package consensus

import "go.etcd.io/etcd/raft/v3/raftpb"

// Transport delivers raft messages between coordinator nodes.
type Transport interface {
	Send(to uint64, messages []raftpb.Message) error
	SendSnapshot(to uint64, snapshot raftpb.Snapshot) error
	AddMember(id uint64, peerURLs []string) error
	RemoveMember(id uint64) error
}

// NewNoopTransport creates a transport that drops all messages; used for
// single-node deployments and tests.
func NewNoopTransport() Transport {
	return noopTransport{}
}

type noopTransport struct{}

func (noopTransport) Send(uint64, []raftpb.Message) error        { return nil }
func (noopTransport) SendSnapshot(uint64, raftpb.Snapshot) error { return nil }
func (noopTransport) AddMember(uint64, []string) error           { return nil }
func (noopTransport) RemoveMember(uint64) error                  { return nil }
