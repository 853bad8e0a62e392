package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/server/gate"
	"github.com/dmitrijs2005/chatrelay/internal/server/session"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Connect runs one admitted stream as a session.
func (s *GRPCServer) Connect(stream grpc.ServerStream) error {
	id, ok := gate.IdentityFromContext(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, string(gate.NoCredential))
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	go func() {
		select {
		case <-s.stopping:
			cancel()
		case <-ctx.Done():
		}
	}()

	t := newStreamTransport(stream)
	if err := s.sessions.Serve(ctx, id, t); err != nil {
		if _, ok := status.FromError(err); ok {
			return err
		}
		return status.Error(codes.Unavailable, err.Error())
	}
	return nil
}

type recvResult struct {
	f   *wire.Frame
	err error
}

// streamTransport adapts a server stream to session.Transport. RecvMsg
// cannot be interrupted, so a pump goroutine feeds ReadFrame and Close
// unblocks it.
type streamTransport struct {
	stream grpc.ServerStream
	frames chan recvResult
	closed chan struct{}
	once   sync.Once
}

func newStreamTransport(stream grpc.ServerStream) *streamTransport {
	t := &streamTransport{
		stream: stream,
		frames: make(chan recvResult),
		closed: make(chan struct{}),
	}
	go t.recvLoop()
	return t
}

func (t *streamTransport) recvLoop() {
	for {
		var raw wire.RawFrame
		err := t.stream.RecvMsg(&raw)

		var r recvResult
		if err != nil {
			r.err = err
		} else {
			var f wire.Frame
			if uerr := json.Unmarshal(raw, &f); uerr != nil {
				r.err = fmt.Errorf("%w: %v", session.ErrMalformedFrame, uerr)
			} else {
				r.f = &f
			}
		}

		select {
		case t.frames <- r:
		case <-t.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (t *streamTransport) ReadFrame(ctx context.Context) (*wire.Frame, error) {
	select {
	case r := <-t.frames:
		if r.err != nil && (errors.Is(r.err, io.EOF) || status.Code(r.err) == codes.Canceled) {
			return nil, io.EOF
		}
		return r.f, r.err
	case <-t.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *streamTransport) WriteFrame(_ context.Context, f *wire.Frame) error {
	select {
	case <-t.closed:
		return common.ErrChannelClosed
	default:
	}
	return t.stream.SendMsg(f)
}

func (t *streamTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}
