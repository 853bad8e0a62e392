package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/server/session"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// Admitter decides whether a connection may open.
type Admitter interface {
	Admit(ctx context.Context, authorization string) (models.Identity, error)
}

// Sessions runs an admitted connection until it ends.
type Sessions interface {
	Serve(ctx context.Context, identity models.Identity, t session.Transport) error
}

type relayServer interface {
	Connect(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: wire.ServiceName,
	HandlerType: (*relayServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    wire.ConnectStreamDesc.StreamName,
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "chatrelay/v1/relay",
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(relayServer).Connect(stream)
}

type GRPCServer struct {
	address  string
	gate     Admitter
	sessions Sessions
	logger   logging.Logger

	stopping chan struct{}
	stopOnce sync.Once
}

func NewGRPCServer(a string, l logging.Logger, gate Admitter, sessions Sessions) *GRPCServer {
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		gate:     gate,
		sessions: sessions,
		stopping: make(chan struct{}),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainStreamInterceptor(s.gateInterceptor),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
	)
	srv.RegisterService(&serviceDesc, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		// live streams never finish on their own
		s.stopOnce.Do(func() { close(s.stopping) })
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
