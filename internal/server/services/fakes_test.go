package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/dbx"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/server/registry"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/devices"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/messages"
)

type fakeRepoManager struct {
	devices  devices.Repository
	messages messages.Repository
}

func (f *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (f *fakeRepoManager) Devices(dbx.DBTX) devices.Repository {
	return f.devices
}

func (f *fakeRepoManager) Messages(dbx.DBTX) messages.Repository {
	return f.messages
}

// fakeMessages is an in-memory Message Store with the same flag rules as the
// PostgreSQL one: recipient-scoped acks, first timestamp wins.
type fakeMessages struct {
	mu     sync.Mutex
	rows   []*models.Message
	nextID int64

	insertErr   error
	failAfter   int // insert fails once this many rows exist; 0 disables
	queryErr    error
	attachments map[string]bool
}

func newFakeMessages() *fakeMessages { return &fakeMessages{nextID: 1} }

func (f *fakeMessages) Insert(_ context.Context, m *models.NewMessage) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	if f.failAfter > 0 && len(f.rows) >= f.failAfter {
		return nil, errors.New("connection reset")
	}
	row := &models.Message{
		GlobalID:             f.nextID,
		SenderID:             m.SenderID,
		RecipientID:          m.RecipientID,
		SenderLocalID:        m.SenderLocalID,
		Body:                 m.Body,
		SenderTimestamp:      m.SenderTimestamp,
		Type:                 m.Type,
		ParentMessageID:      m.ParentMessageID,
		PrimarySenderID:      m.PrimarySenderID,
		PrimarySenderLocalID: m.PrimarySenderLocalID,
		PrimaryRecipientID:   m.PrimaryRecipientID,
		GroupInfo:            m.GroupInfo,
		FileInfo:             m.FileInfo,
		IsGroupMessage:       m.IsGroupMessage,
	}
	f.nextID++
	f.rows = append(f.rows, row)
	cp := *row
	return &cp, nil
}

func (f *fakeMessages) FindUndelivered(_ context.Context, recipientID string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []*models.Message
	for _, r := range f.rows {
		if r.RecipientID == recipientID && (r.IsDelivered == nil || !*r.IsDelivered) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SenderTimestamp.Before(out[j].SenderTimestamp) })
	return out, nil
}

func (f *fakeMessages) find(id int64, recipientID string) *models.Message {
	for _, r := range f.rows {
		if r.GlobalID == id && r.RecipientID == recipientID {
			return r
		}
	}
	return nil
}

func (f *fakeMessages) SetDelivered(_ context.Context, id int64, recipientID string, at time.Time) (*models.StatusChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	r := f.find(id, recipientID)
	if r == nil {
		return nil, common.ErrorNotFound
	}
	t := true
	r.IsDelivered = &t
	if r.DeliveryTimestamp == nil {
		r.DeliveryTimestamp = &at
	}
	return &models.StatusChange{GlobalID: id, SenderID: r.SenderID, Flag: true, Timestamp: r.DeliveryTimestamp}, nil
}

func (f *fakeMessages) SetRead(_ context.Context, id int64, recipientID string, at time.Time) (*models.StatusChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	r := f.find(id, recipientID)
	if r == nil {
		return nil, common.ErrorNotFound
	}
	t := true
	r.IsRead = &t
	if r.ReadTimestamp == nil {
		r.ReadTimestamp = &at
	}
	return &models.StatusChange{GlobalID: id, SenderID: r.SenderID, Flag: true, Timestamp: r.ReadTimestamp}, nil
}

func (f *fakeMessages) visible(userID string, ids []int64) []*models.Message {
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*models.Message
	for _, r := range f.rows {
		if want[r.GlobalID] && (r.SenderID == userID || r.RecipientID == userID) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeMessages) GetDeliveryStatuses(_ context.Context, userID string, ids []int64) ([]*models.DeliveryStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []*models.DeliveryStatus
	for _, r := range f.visible(userID, ids) {
		out = append(out, &models.DeliveryStatus{GlobalID: r.GlobalID, IsDelivered: r.IsDelivered != nil && *r.IsDelivered, DeliveryTimestamp: r.DeliveryTimestamp})
	}
	return out, nil
}

func (f *fakeMessages) GetReadStatuses(_ context.Context, userID string, ids []int64) ([]*models.ReadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []*models.ReadStatus
	for _, r := range f.visible(userID, ids) {
		out = append(out, &models.ReadStatus{GlobalID: r.GlobalID, IsRead: r.IsRead != nil && *r.IsRead, ReadTimestamp: r.ReadTimestamp})
	}
	return out, nil
}

func (f *fakeMessages) HasAttachment(_ context.Context, userID, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return false, f.queryErr
	}
	for _, r := range f.rows {
		if len(r.FileInfo) == 0 || (r.SenderID != userID && r.RecipientID != userID) {
			continue
		}
		var fi struct {
			StorageKey string `json:"storage_key"`
		}
		if json.Unmarshal(r.FileInfo, &fi) == nil && fi.StorageKey == key {
			return true, nil
		}
	}
	return false, nil
}

type pushRecord struct {
	userID  string
	event   string
	payload any
}

// fakeBroadcaster records pushes; users listed in online accept them.
type fakeBroadcaster struct {
	mu     sync.Mutex
	online map[string]bool
	pushes []pushRecord
}

func newFakeBroadcaster(online ...string) *fakeBroadcaster {
	b := &fakeBroadcaster{online: map[string]bool{}}
	for _, u := range online {
		b.online[u] = true
	}
	return b
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, userID, event string, payload any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.online[userID] {
		return false
	}
	b.pushes = append(b.pushes, pushRecord{userID, event, payload})
	return true
}

func (b *fakeBroadcaster) recorded() []pushRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]pushRecord(nil), b.pushes...)
}

// fakeLive stands in for the registry.
type fakeLive struct {
	channels map[string]registry.Channel
	removed  []string
}

func (f *fakeLive) Remove(userID, deviceID string) registry.Channel {
	ch, ok := f.channels[userID+"/"+deviceID]
	if !ok {
		return nil
	}
	delete(f.channels, userID+"/"+deviceID)
	f.removed = append(f.removed, deviceID)
	return ch
}

func (f *fakeLive) ListDevices(userID string) []string {
	var out []string
	for k := range f.channels {
		if len(k) > len(userID) && k[:len(userID)+1] == userID+"/" {
			out = append(out, k[len(userID)+1:])
		}
	}
	sort.Strings(out)
	return out
}

type closableChannel struct{ closed bool }

func (c *closableChannel) Send(string, json.RawMessage) error {
	return nil
}

func (c *closableChannel) Close() error {
	c.closed = true
	return nil
}
