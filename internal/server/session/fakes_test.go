package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/server/services"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	f   *wire.Frame
	err error
}

type fakeTransport struct {
	in        chan readResult
	wrote     chan *wire.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan readResult, 16),
		wrote:  make(chan *wire.Frame, 64),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadFrame(ctx context.Context) (*wire.Frame, error) {
	select {
	case r := <-t.in:
		return r.f, r.err
	case <-t.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) WriteFrame(_ context.Context, f *wire.Frame) error {
	select {
	case <-t.closed:
		return common.ErrChannelClosed
	default:
	}
	t.wrote <- f
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) request(id, event string, data any) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	t.in <- readResult{f: &wire.Frame{ID: id, Event: event, Data: raw}}
}

func (t *fakeTransport) next(tb testing.TB) *wire.Frame {
	tb.Helper()
	select {
	case f := <-t.wrote:
		return f
	case <-time.After(2 * time.Second):
		tb.Fatal("no frame written")
		return nil
	}
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func decodeData(t *testing.T, f *wire.Frame, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v))
}

type fakeDelivery struct {
	mu          sync.Mutex
	submitted   []*services.Submission
	delivered   bool
	submitErr   error
	groupResult *services.GroupResult
	groupErr    error
	acked       []int64
	ackErr      error
}

func (f *fakeDelivery) SubmitDirect(_ context.Context, m *services.Submission) (*services.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, m)
	return &services.SubmitResult{GlobalID: int64(len(f.submitted)), SenderLocalID: m.SenderLocalID, Delivered: f.delivered}, nil
}

func (f *fakeDelivery) SubmitGroup(_ context.Context, m *services.Submission) (*services.GroupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, m)
	return f.groupResult, f.groupErr
}

func (f *fakeDelivery) Pull(context.Context, string) ([]*models.Message, error) {
	return []*models.Message{{GlobalID: 7, SenderID: "alice", RecipientID: "bob", Body: "hi"}}, nil
}

func (f *fakeDelivery) AcknowledgeDelivery(_ context.Context, _ string, id int64, _ *time.Time) (*models.DeliveryStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return nil, f.ackErr
	}
	f.acked = append(f.acked, id)
	now := time.Now()
	return &models.DeliveryStatus{GlobalID: id, IsDelivered: true, DeliveryTimestamp: &now}, nil
}

func (f *fakeDelivery) AcknowledgeRead(_ context.Context, _ string, id int64, _ *time.Time) (*models.ReadStatus, error) {
	if f.ackErr != nil {
		return nil, f.ackErr
	}
	now := time.Now()
	return &models.ReadStatus{GlobalID: id, IsRead: true, ReadTimestamp: &now}, nil
}

func (f *fakeDelivery) DeliveryStatuses(_ context.Context, _ string, ids []int64) ([]*models.DeliveryStatus, error) {
	out := make([]*models.DeliveryStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.DeliveryStatus{GlobalID: id})
	}
	return out, nil
}

func (f *fakeDelivery) ReadStatuses(_ context.Context, _ string, ids []int64) ([]*models.ReadStatus, error) {
	out := make([]*models.ReadStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.ReadStatus{GlobalID: id})
	}
	return out, nil
}

type fakeDevices struct {
	deleted, self bool
	err           error
	live          []string
}

func (f *fakeDevices) Revoke(context.Context, models.Identity, string) (bool, bool, error) {
	return f.deleted, f.self, f.err
}

func (f *fakeDevices) LiveDevices(string) []string { return f.live }

type fakeAttachments struct {
	err error
}

func (f *fakeAttachments) RequestUpload(context.Context) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return "attachments/2025/01/02/k", "https://s3.local/put", nil
}

func (f *fakeAttachments) DownloadURL(_ context.Context, _, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://s3.local/get/" + key, nil
}
