// Package relay is the client side of the relay Connect stream: it
// correlates responses with requests and hands pushes to the caller.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrNotConnected is returned by requests made before Connect or after the
// stream ended.
var ErrNotConnected = errors.New("not connected")

const pushBuffer = 64

type Client struct {
	endpointURL string
	token       string
	timeout     time.Duration
	dialOpts    []grpc.DialOption

	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	sendMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *wire.Frame
	nextID  atomic.Uint64

	pushes  chan *wire.Frame
	queue   *pushQueue
	done    chan struct{}
	err     error
	stopped chan struct{}
	stop    sync.Once
}

func NewClient(endpointURL, token string, timeout time.Duration, opts ...grpc.DialOption) *Client {
	return &Client{
		endpointURL: endpointURL,
		token:       token,
		timeout:     timeout,
		dialOpts:    opts,
		pending:     make(map[string]chan *wire.Frame),
		pushes:      make(chan *wire.Frame, pushBuffer),
		queue:       newPushQueue(),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

func withAuthorization(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, common.AuthorizationHeaderName, common.BearerPrefix+token)
}

// Connect opens the stream and waits for the first ping to confirm the
// server admitted the device.
func (c *Client) Connect(ctx context.Context) error {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
	}, c.dialOpts...)

	conn, err := grpc.NewClient(c.endpointURL, opts...)
	if err != nil {
		return err
	}
	c.conn = conn

	sctx, cancel := context.WithCancel(withAuthorization(context.Background(), c.token))
	stream, err := conn.NewStream(sctx, wire.ConnectStreamDesc, wire.ConnectMethod)
	if err != nil {
		cancel()
		return mapError(err)
	}
	c.stream = stream
	c.cancel = cancel

	go c.recvLoop()
	go c.forwardPushes()

	return c.Ping(ctx)
}

func (c *Client) recvLoop() {
	defer c.queue.close()
	for {
		var f wire.Frame
		if err := c.stream.RecvMsg(&f); err != nil {
			c.fail(mapError(err))
			return
		}

		if f.ID == "" {
			c.queue.put(&f)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ok {
			ch <- &f
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.err = err
	close(c.done)
}

// Err reports why the stream ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pushes delivers server pushes in arrival order. It is closed when the
// stream ends and every queued push was taken, or on Close.
func (c *Client) Pushes() <-chan *wire.Frame { return c.pushes }

// Request sends event with payload and decodes the response data into out.
// A response error is returned as *wire.Error; its data, if any, is still
// decoded into out.
func (c *Client) Request(ctx context.Context, event string, payload, out any) error {
	if c.stream == nil {
		return ErrNotConnected
	}

	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		data = b
	}

	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan *wire.Frame, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	c.sendMu.Lock()
	err := c.stream.SendMsg(&wire.Frame{ID: id, Event: event, Data: data})
	c.sendMu.Unlock()
	if err != nil {
		forget()
		if errors.Is(err, io.EOF) {
			// the stream ended; the reason arrives on the receive side
			<-c.done
			return c.Err()
		}
		return mapError(err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	select {
	case f := <-ch:
		if out != nil && len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, out); err != nil {
				return fmt.Errorf("decode %s response: %w", event, err)
			}
		}
		if f.Error != nil {
			return f.Error
		}
		return nil
	case <-c.done:
		forget()
		return c.Err()
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}
}

func (c *Client) Close() error {
	c.stop.Do(func() { close(c.stopped) })
	if c.stream != nil {
		c.sendMu.Lock()
		_ = c.stream.CloseSend()
		c.sendMu.Unlock()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// mapError turns a rejected admission into common.ErrorUnauthorized
// carrying the rejection code.
func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated {
		return err
	}
	return fmt.Errorf("%w: %s", common.ErrorUnauthorized, st.Message())
}
