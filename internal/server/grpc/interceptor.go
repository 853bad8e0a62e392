package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/server/gate"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// identityStream carries the admitted identity in its context.
type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }

// gateInterceptor admits Connect streams before the handler runs. Nothing is
// registered for a rejected stream.
func (s *GRPCServer) gateInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if info.FullMethod != wire.ConnectMethod {
		return handler(srv, ss)
	}

	var authorization string
	if md, ok := metadata.FromIncomingContext(ss.Context()); ok {
		values := md.Get(common.AuthorizationHeaderName)
		if len(values) > 0 {
			authorization = values[0]
		}
	}

	id, err := s.gate.Admit(ss.Context(), authorization)
	if err != nil {
		return admitStatus(err)
	}

	return handler(srv, &identityStream{ServerStream: ss, ctx: gate.WithIdentity(ss.Context(), id)})
}

func admitStatus(err error) error {
	var rej *gate.Rejection
	switch {
	case errors.As(err, &rej):
		return status.Error(codes.Unauthenticated, string(rej.Code))
	case errors.Is(err, common.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "store unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
