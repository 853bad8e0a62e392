package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/server/session"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameLength = 64 * 1024
)

// transport adapts a websocket connection to session.Transport. Pings are
// sent with WriteControl, which may run alongside WriteFrame.
type transport struct {
	conn   *websocket.Conn
	closed chan struct{}
	once   sync.Once
}

func newTransport(conn *websocket.Conn) *transport {
	t := &transport{conn: conn, closed: make(chan struct{})}

	conn.SetReadLimit(maxFrameLength)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })

	go t.pingLoop()
	return t
}

func (t *transport) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = t.Close()
				return
			}
		case <-t.closed:
			return
		}
	}
}

func (t *transport) ReadFrame(context.Context) (*wire.Frame, error) {
	_, b, err := t.conn.ReadMessage()
	if err != nil {
		select {
		case <-t.closed:
			return nil, io.EOF
		default:
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, io.EOF
		}
		return nil, err
	}

	var f wire.Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrMalformedFrame, err)
	}
	return &f, nil
}

func (t *transport) WriteFrame(_ context.Context, f *wire.Frame) error {
	select {
	case <-t.closed:
		return common.ErrChannelClosed
	default:
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(f)
}

func (t *transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = t.conn.Close()
	})
	return err
}
