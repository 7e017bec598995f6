package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errUnimplemented = status.Error(codes.Unimplemented, "not implemented")

// RegionProto is the wire form of a (hash, key) rectangle.
type RegionProto struct {
	HashBegin    uint64
	HashEnd      uint64
	KeyStart     []byte
	KeyEnd       []byte
	KeyUnbounded bool
}

// VersionEntryProto assigns a branch position to a region.
type VersionEntryProto struct {
	Region    *RegionProto
	Branch    string
	Timestamp uint64
}

// CertificateProto is the wire form of a branch birth certificate.
type CertificateProto struct {
	Branch           string
	Region           *RegionProto
	Origin           []*VersionEntryProto
	InitialTimestamp uint64
}

// ReportAckRequest carries a replica's contract ack.
type ReportAckRequest struct {
	ServerId   string
	ContractId string
	State      int32
	Branch     string
	HasVersion bool
	Version    []*VersionEntryProto
	History    []*CertificateProto
}

type ReportAckResponse struct{}

// RetireAckRequest withdraws a previously reported ack.
type RetireAckRequest struct {
	ServerId   string
	ContractId string
}

type RetireAckResponse struct{}

// ReportConnectivityRequest replaces the full set of servers the reporter
// can currently see.
type ReportConnectivityRequest struct {
	ServerId string
	Observed []string
}

type ReportConnectivityResponse struct{}

// ObservationServer ingests acks and connectivity reports from the data
// plane.
type ObservationServer interface {
	ReportAck(context.Context, *ReportAckRequest) (*ReportAckResponse, error)
	RetireAck(context.Context, *RetireAckRequest) (*RetireAckResponse, error)
	ReportConnectivity(context.Context, *ReportConnectivityRequest) (*ReportConnectivityResponse, error)
}

// UnimplementedObservationServer provides forward-compatible defaults.
type UnimplementedObservationServer struct{}

func (UnimplementedObservationServer) ReportAck(context.Context, *ReportAckRequest) (*ReportAckResponse, error) {
	return nil, errUnimplemented
}
func (UnimplementedObservationServer) RetireAck(context.Context, *RetireAckRequest) (*RetireAckResponse, error) {
	return nil, errUnimplemented
}
func (UnimplementedObservationServer) ReportConnectivity(context.Context, *ReportConnectivityRequest) (*ReportConnectivityResponse, error) {
	return nil, errUnimplemented
}

type observationServerWrapper interface {
	ObservationServer
}

var observationServiceDesc = grpc.ServiceDesc{
	ServiceName: "helmdb.api.Observation",
	HandlerType: (*observationServerWrapper)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReportAck", Handler: _Observation_ReportAck_Handler},
		{MethodName: "RetireAck", Handler: _Observation_RetireAck_Handler},
		{MethodName: "ReportConnectivity", Handler: _Observation_ReportConnectivity_Handler},
	},
}

// RegisterObservationServer binds srv to s.
func RegisterObservationServer(s *grpc.Server, srv ObservationServer) {
	s.RegisterService(&observationServiceDesc, srv)
}

func _Observation_ReportAck_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReportAckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObservationServer).ReportAck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/helmdb.api.Observation/ReportAck"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObservationServer).ReportAck(ctx, req.(*ReportAckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Observation_RetireAck_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RetireAckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObservationServer).RetireAck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/helmdb.api.Observation/RetireAck"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObservationServer).RetireAck(ctx, req.(*RetireAckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Observation_ReportConnectivity_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReportConnectivityRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObservationServer).ReportConnectivity(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/helmdb.api.Observation/ReportConnectivity"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObservationServer).ReportConnectivity(ctx, req.(*ReportConnectivityRequest))
	}
	return interceptor(ctx, in, info, handler)
}
