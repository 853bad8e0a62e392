// Package session runs one admitted connection: it registers the device,
// drains a bounded outbound queue to the transport and handles requests
// sequentially in arrival order.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/server/registry"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrMalformedFrame is returned by a Transport for input that is not a
// frame; the session answers BAD_FRAME and keeps reading.
var ErrMalformedFrame = errors.New("malformed frame")

// Transport is the wire of one connection. ReadFrame and WriteFrame are each
// called from a single goroutine; Close may be called from any.
type Transport interface {
	ReadFrame(ctx context.Context) (*wire.Frame, error)
	WriteFrame(ctx context.Context, f *wire.Frame) error
	Close() error
}

// Registry is the part of the connection registry a session uses.
type Registry interface {
	Register(userID, deviceID string, ch registry.Channel) registry.Channel
	Unregister(userID, deviceID string, ch registry.Channel) bool
}

// Config bounds per-connection resources.
type Config struct {
	QueueSize      int
	RequestTimeout time.Duration
	RateLimit      rate.Limit
	RateBurst      int
}

// flushTimeout bounds the final drain of the queue after Close.
const flushTimeout = 2 * time.Second

// Session is the registry's channel handle for one live connection.
type Session struct {
	id        string
	identity  models.Identity
	transport Transport
	limiter   *rate.Limiter
	log       logging.Logger

	out        chan *wire.Frame
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	// closeAfterReply is set by a handler that revoked this session's own
	// device. Only the reading goroutine touches it.
	closeAfterReply bool
}

func newSession(identity models.Identity, t Transport, cfg Config, log logging.Logger) *Session {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	id := uuid.NewString()
	return &Session{
		id:         id,
		identity:   identity,
		transport:  t,
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		log:        log.With("session_id", id, "user_id", identity.UserID, "device_id", identity.DeviceID),
		out:        make(chan *wire.Frame, size),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Identity returns the admitted (user, device) pair.
func (s *Session) Identity() models.Identity { return s.identity }

// Send queues a push without blocking. A full queue or a closed session
// drops the push for this device only.
func (s *Session) Send(event string, data json.RawMessage) error {
	return s.offer(&wire.Frame{Event: event, Data: data})
}

func (s *Session) offer(f *wire.Frame) error {
	select {
	case <-s.done:
		return common.ErrChannelClosed
	default:
	}
	select {
	case s.out <- f:
		return nil
	default:
		return common.ErrChannelFull
	}
}

// reply queues a response, waiting for room. Responses are never dropped
// while the session is open.
func (s *Session) reply(ctx context.Context, f *wire.Frame) error {
	select {
	case <-s.done:
		return common.ErrChannelClosed
	default:
	}
	select {
	case s.out <- f:
		return nil
	case <-s.done:
		return common.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the session. Frames already queued are flushed before the
// transport is closed. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Supersede tells the client a newer connection took over and closes.
func (s *Session) Supersede() {
	data, _ := json.Marshal(wire.Superseded{SessionID: s.id, Reason: "another connection for this device was admitted"})
	_ = s.Send(common.EventSessionSuperseded, data)
	_ = s.Close()
}

func (s *Session) writeLoop(ctx context.Context) {
	defer close(s.writerDone)
	defer s.transport.Close()

	for {
		select {
		case f := <-s.out:
			if err := s.transport.WriteFrame(ctx, f); err != nil {
				s.log.Debug(ctx, "write failed", "error", err)
				_ = s.Close()
				return
			}
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *Session) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case f := <-s.out:
			if err := s.transport.WriteFrame(ctx, f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
