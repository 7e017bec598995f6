package api

import (
	"context"

	"google.golang.org/grpc"
)

// RaftMessage carries one serialized raft message between coordinator
// nodes.
type RaftMessage struct {
	To      uint64
	Message []byte
}

// RaftAck terminates a send stream.
type RaftAck struct{}

// RaftTransportClient opens message streams to a peer.
type RaftTransportClient interface {
	Send(ctx context.Context) (RaftTransport_SendClient, error)
}

type RaftTransport_SendClient interface {
	Send(*RaftMessage) error
	CloseAndRecv() (*RaftAck, error)
	grpc.ClientStream
}

type RaftTransport_SendServer interface {
	Recv() (*RaftMessage, error)
	SendAndClose(*RaftAck) error
	grpc.ServerStream
}

// RaftTransportServer receives message streams from peers.
type RaftTransportServer interface {
	Send(RaftTransport_SendServer) error
}

// UnimplementedRaftTransportServer provides forward-compatible defaults.
type UnimplementedRaftTransportServer struct{}

func (UnimplementedRaftTransportServer) Send(RaftTransport_SendServer) error {
	return errUnimplemented
}

var raftTransportServiceDesc = grpc.ServiceDesc{
	ServiceName: "helmdb.api.RaftTransport",
	HandlerType: (*RaftTransportServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Send",
		Handler:       _RaftTransport_Send_Handler,
		ClientStreams: true,
	}},
}

// NewRaftTransportClient builds a client on an established connection.
func NewRaftTransportClient(cc grpc.ClientConnInterface) RaftTransportClient {
	return &raftTransportClient{cc: cc}
}

type raftTransportClient struct {
	cc grpc.ClientConnInterface
}

func (c *raftTransportClient) Send(ctx context.Context) (RaftTransport_SendClient, error) {
	stream, err := c.cc.NewStream(ctx, &raftTransportServiceDesc.Streams[0], "/helmdb.api.RaftTransport/Send")
	if err != nil {
		return nil, err
	}
	return &raftTransportSendClient{ClientStream: stream}, nil
}

type raftTransportSendClient struct {
	grpc.ClientStream
}

func (x *raftTransportSendClient) Send(m *RaftMessage) error {
	return x.ClientStream.SendMsg(m)
}

func (x *raftTransportSendClient) CloseAndRecv() (*RaftAck, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(RaftAck)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterRaftTransportServer binds srv to s.
func RegisterRaftTransportServer(s grpc.ServiceRegistrar, srv RaftTransportServer) {
	s.RegisterService(&raftTransportServiceDesc, srv)
}

func _RaftTransport_Send_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RaftTransportServer).Send(&raftTransportSendServer{ServerStream: stream})
}

type raftTransportSendServer struct {
	grpc.ServerStream
}

func (x *raftTransportSendServer) Recv() (*RaftMessage, error) {
	m := new(RaftMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *raftTransportSendServer) SendAndClose(m *RaftAck) error {
	return x.ServerStream.SendMsg(m)
}
