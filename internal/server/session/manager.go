package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/server/metrics"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
)

// Manager serves admitted connections for any transport.
type Manager struct {
	registry Registry
	handler  *Handler
	cfg      Config
	metrics  *metrics.Metrics
	log      logging.Logger
}

func NewManager(registry Registry, handler *Handler, cfg Config, m *metrics.Metrics, log logging.Logger) *Manager {
	return &Manager{
		registry: registry,
		handler:  handler,
		cfg:      cfg,
		metrics:  m,
		log:      log.With("module", "session"),
	}
}

type superseder interface {
	Supersede()
}

// Serve registers the connection and handles its requests until the client
// goes away, the session is closed or ctx is done. The transport is closed
// before Serve returns.
func (m *Manager) Serve(ctx context.Context, identity models.Identity, t Transport) error {
	s := newSession(identity, t, m.cfg, m.log)

	if prev := m.registry.Register(identity.UserID, identity.DeviceID, s); prev != nil {
		if sp, ok := prev.(superseder); ok {
			sp.Supersede()
		}
	}
	defer m.registry.Unregister(identity.UserID, identity.DeviceID, s)

	s.log.Info(ctx, "session opened")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.writeLoop(ctx)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	err := m.readLoop(ctx, s)

	_ = s.Close()
	<-s.writerDone

	if err != nil {
		s.log.Warn(ctx, "session closed", "error", err)
		return err
	}
	s.log.Info(ctx, "session closed")
	return nil
}

func (m *Manager) readLoop(ctx context.Context, s *Session) error {
	for {
		f, err := s.transport.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				_ = s.reply(ctx, &wire.Frame{Event: "error", Error: toWireError(err)})
				m.metrics.Request("", wire.CodeBadFrame)
				continue
			}
			if s.closed() || ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		m.handle(ctx, s, f)

		if s.closeAfterReply {
			return nil
		}
		if s.closed() {
			return nil
		}
	}
}

func (m *Manager) handle(ctx context.Context, s *Session, f *wire.Frame) {
	resp := &wire.Frame{ID: f.ID, Event: f.Event}

	if s.limiter.Allow() {
		rctx, cancel := ctx, context.CancelFunc(func() {})
		if m.cfg.RequestTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
		}
		data, err := m.handler.Handle(rctx, s, f.Event, f.Data)
		cancel()

		if err != nil {
			resp.Error = toWireError(err)
			if resp.Error.Code == wire.CodeInternal {
				s.log.Error(ctx, "request failed", "event", f.Event, "error", err)
			}
		}
		if data != nil {
			b, merr := json.Marshal(data)
			if merr != nil {
				s.log.Error(ctx, "response marshal failed", "event", f.Event, "error", merr)
				resp.Error = &wire.Error{Code: wire.CodeInternal, Message: "internal error"}
			} else {
				resp.Data = b
			}
		}
	} else {
		resp.Error = toWireError(common.ErrRateLimited)
	}

	event, code := f.Event, "OK"
	if resp.Error != nil {
		code = resp.Error.Code
	}
	if code == wire.CodeUnknownEvent {
		event = "unknown"
	}
	m.metrics.Request(event, code)

	if f.ID == "" {
		return
	}
	if err := s.reply(ctx, resp); err != nil {
		s.log.Debug(ctx, "reply dropped", "event", f.Event, "error", err)
	}
}
