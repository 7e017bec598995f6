package obsgrpc

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"helmdb/internal/contract"
	"helmdb/internal/observation"
	api "helmdb/pkg/api"
)

// Config holds the observation server configuration.
type Config struct {
	Address string
}

// Server exposes the observation ingestion API to the data plane.
type Server struct {
	api.UnimplementedObservationServer

	cfg    Config
	acks   *observation.AckMap
	conns  *observation.ConnectionsMap
	srv    *grpc.Server
	health *health.Server
}

// New constructs a Server feeding the given observation maps.
func New(cfg Config, acks *observation.AckMap, conns *observation.ConnectionsMap) *Server {
	s := &Server{
		cfg:    cfg,
		acks:   acks,
		conns:  conns,
		srv:    grpc.NewServer(grpc.ForceServerCodec(api.JSONCodec{})),
		health: health.NewServer(),
	}
	api.RegisterObservationServer(s.srv, s)
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// ReportAck records a replica's contract ack.
func (s *Server) ReportAck(_ context.Context, req *api.ReportAckRequest) (*api.ReportAckResponse, error) {
	server, err := parseServerID(req.ServerId)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	contractID, err := parseContractID(req.ContractId)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ack, err := protoToAck(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.acks.Set(observation.AckKey{Server: server, Contract: contractID}, ack)
	return &api.ReportAckResponse{}, nil
}

// RetireAck withdraws a previously reported ack.
func (s *Server) RetireAck(_ context.Context, req *api.RetireAckRequest) (*api.RetireAckResponse, error) {
	server, err := parseServerID(req.ServerId)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	contractID, err := parseContractID(req.ContractId)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.acks.Delete(observation.AckKey{Server: server, Contract: contractID})
	return &api.RetireAckResponse{}, nil
}

// ReportConnectivity replaces the reporter's row of the connectivity
// matrix.
func (s *Server) ReportConnectivity(_ context.Context, req *api.ReportConnectivityRequest) (*api.ReportConnectivityResponse, error) {
	server, err := parseServerID(req.ServerId)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	observed := make([]contract.ServerID, 0, len(req.Observed))
	for _, o := range req.Observed {
		id, err := parseServerID(o)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		observed = append(observed, id)
	}
	s.conns.ReplaceObserver(server, observed)
	return &api.ReportConnectivityResponse{}, nil
}

// Start begins listening on the configured address.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Address == "" {
		return fmt.Errorf("observation grpc address is empty")
	}
	lis, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.setServing(true)
	go func() {
		<-ctx.Done()
		s.setServing(false)
		s.srv.GracefulStop()
		_ = lis.Close()
	}()
	go func() {
		_ = s.srv.Serve(lis)
	}()
	return nil
}

// Stop shuts down the server.
func (s *Server) Stop() {
	s.setServing(false)
	s.srv.GracefulStop()
}

func (s *Server) setServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}
