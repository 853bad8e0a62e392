package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/server/metrics"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/repomanager"
)

// MaxStatusBatch bounds the ids accepted by one batch status query.
const MaxStatusBatch = 1000

// Broadcaster fans an event out to every live device of a user.
type Broadcaster interface {
	Broadcast(ctx context.Context, userID, event string, payload any) bool
}

// Submission is a message as sent by a client. Group submissions fill
// RecipientIDs; direct ones fill RecipientID.
type Submission struct {
	SenderID             string
	RecipientID          string
	RecipientIDs         []string
	SenderLocalID        string
	Body                 string
	Type                 string
	SenderTimestamp      time.Time
	ParentMessageID      *int64
	PrimarySenderID      *string
	PrimarySenderLocalID *string
	PrimaryRecipientID   *string
	GroupInfo            json.RawMessage
	FileInfo             json.RawMessage
}

// SubmitResult acknowledges persistence of a direct message. Delivered only
// says whether a live recipient device accepted the push.
type SubmitResult struct {
	GlobalID      int64
	SenderLocalID string
	Delivered     bool
}

// GroupResult maps recipient -> sender local id -> global id.
type GroupResult struct {
	Mapping   map[string]map[string]int64
	Delivered map[string]bool
}

// DeliveryService persists messages, fans them out to live devices and
// propagates delivery and read receipts back to senders.
type DeliveryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	log         logging.Logger
	now         func() time.Time
}

func NewDeliveryService(db *sql.DB, repomanager repomanager.RepositoryManager, broadcaster Broadcaster,
	m *metrics.Metrics, log logging.Logger) *DeliveryService {
	return &DeliveryService{
		db:          db,
		repomanager: repomanager,
		broadcaster: broadcaster,
		metrics:     m,
		log:         log.With("module", "delivery"),
		now:         time.Now,
	}
}

func (s *DeliveryService) validateCommon(m *Submission) error {
	if strings.TrimSpace(m.SenderID) == "" {
		return invalid("sender_id", "is required")
	}
	if strings.TrimSpace(m.SenderLocalID) == "" {
		return invalid("sender_local_message_id", "is required")
	}
	if m.Body == "" {
		return invalid("message", "is required")
	}
	if len(m.FileInfo) > 0 && !json.Valid(m.FileInfo) {
		return invalid("file_info", "is not valid JSON")
	}
	if len(m.GroupInfo) > 0 && !json.Valid(m.GroupInfo) {
		return invalid("group_info", "is not valid JSON")
	}
	if m.ParentMessageID != nil && *m.ParentMessageID <= 0 {
		return invalid("parent_message_id", "must be positive")
	}
	return nil
}

func (s *DeliveryService) newMessage(m *Submission, recipientID string, group bool) *models.NewMessage {
	ts := m.SenderTimestamp
	if ts.IsZero() {
		ts = s.now()
	}
	typ := m.Type
	if typ == "" {
		typ = "text"
	}
	nm := &models.NewMessage{
		SenderID:             m.SenderID,
		RecipientID:          recipientID,
		SenderLocalID:        m.SenderLocalID,
		Body:                 m.Body,
		SenderTimestamp:      ts,
		Type:                 typ,
		ParentMessageID:      m.ParentMessageID,
		PrimarySenderID:      m.PrimarySenderID,
		PrimarySenderLocalID: m.PrimarySenderLocalID,
		PrimaryRecipientID:   m.PrimaryRecipientID,
		FileInfo:             m.FileInfo,
		IsGroupMessage:       group,
	}
	if group {
		nm.GroupInfo = m.GroupInfo
	}
	return nm
}

// SubmitDirect persists one message and pushes it to the recipient's live
// devices. The result acknowledges persistence, whether or not anyone was online.
func (s *DeliveryService) SubmitDirect(ctx context.Context, m *Submission) (*SubmitResult, error) {
	if err := s.validateCommon(m); err != nil {
		return nil, err
	}
	if strings.TrimSpace(m.RecipientID) == "" {
		return nil, invalid("recipient_id", "is required")
	}

	row, err := s.repomanager.Messages(s.db).Insert(ctx, s.newMessage(m, m.RecipientID, false))
	if err != nil {
		s.log.Error(ctx, "message insert failed", "sender_id", m.SenderID, "recipient_id", m.RecipientID, "error", err)
		return nil, storeErr(err)
	}
	s.metrics.MessagePersisted("direct")

	delivered := s.broadcaster.Broadcast(ctx, row.RecipientID, common.EventMessageReceived, row)
	s.log.Debug(ctx, "message persisted", "global_id", row.GlobalID, "recipient_id", row.RecipientID, "delivered", delivered)

	return &SubmitResult{GlobalID: row.GlobalID, SenderLocalID: row.SenderLocalID, Delivered: delivered}, nil
}

// SubmitGroup writes one row per recipient and pushes each copy. Recipients
// are de-duplicated and the sender is skipped. If a write fails the loop stops;
// rows already written stay and are reported with a *PartialGroupError.
func (s *DeliveryService) SubmitGroup(ctx context.Context, m *Submission) (*GroupResult, error) {
	if err := s.validateCommon(m); err != nil {
		return nil, err
	}

	recipients, err := normalizeRecipients(m.SenderID, m.RecipientIDs)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.Messages(s.db)
	res := &GroupResult{
		Mapping:   make(map[string]map[string]int64, len(recipients)),
		Delivered: make(map[string]bool, len(recipients)),
	}

	for i, rcpt := range recipients {
		row, err := repo.Insert(ctx, s.newMessage(m, rcpt, true))
		if err != nil {
			s.log.Error(ctx, "group message insert failed", "sender_id", m.SenderID, "recipient_id", rcpt, "error", err)
			return res, &PartialGroupError{
				Persisted: recipients[:i],
				Failed:    recipients[i:],
				Err:       storeErr(err),
			}
		}
		s.metrics.MessagePersisted("group")

		res.Mapping[rcpt] = map[string]int64{row.SenderLocalID: row.GlobalID}
		res.Delivered[rcpt] = s.broadcaster.Broadcast(ctx, rcpt, common.EventMessageReceived, row)
	}

	return res, nil
}

func normalizeRecipients(senderID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, invalid("recipient_ids", "must not be empty")
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return nil, invalid("recipient_ids", "must not contain empty ids")
		}
		if id == senderID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, invalid("recipient_ids", "must name someone other than the sender")
	}
	return out, nil
}

// Pull returns the caller's undelivered messages, oldest first.
func (s *DeliveryService) Pull(ctx context.Context, userID string) ([]*models.Message, error) {
	rows, err := s.repomanager.Messages(s.db).FindUndelivered(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	if rows == nil {
		rows = []*models.Message{}
	}
	return rows, nil
}

// AcknowledgeDelivery marks a message the caller received as delivered and
// notifies the sender's live devices. Re-acknowledging re-broadcasts the
// current state. A nil timestamp means now.
func (s *DeliveryService) AcknowledgeDelivery(ctx context.Context, userID string, globalID int64, at *time.Time) (*models.DeliveryStatus, error) {
	change, err := s.acknowledge(ctx, userID, globalID, at, s.repomanager.Messages(s.db).SetDelivered)
	if err != nil {
		return nil, err
	}
	status := &models.DeliveryStatus{GlobalID: change.GlobalID, IsDelivered: change.Flag, DeliveryTimestamp: change.Timestamp}
	s.broadcaster.Broadcast(ctx, change.SenderID, common.EventDeliveryStatusUpdate, status)
	return status, nil
}

// AcknowledgeRead is AcknowledgeDelivery for the read flag.
func (s *DeliveryService) AcknowledgeRead(ctx context.Context, userID string, globalID int64, at *time.Time) (*models.ReadStatus, error) {
	change, err := s.acknowledge(ctx, userID, globalID, at, s.repomanager.Messages(s.db).SetRead)
	if err != nil {
		return nil, err
	}
	status := &models.ReadStatus{GlobalID: change.GlobalID, IsRead: change.Flag, ReadTimestamp: change.Timestamp}
	s.broadcaster.Broadcast(ctx, change.SenderID, common.EventReadStatusUpdate, status)
	return status, nil
}

type setFlagFunc func(ctx context.Context, globalID int64, recipientID string, at time.Time) (*models.StatusChange, error)

func (s *DeliveryService) acknowledge(ctx context.Context, userID string, globalID int64, at *time.Time, set setFlagFunc) (*models.StatusChange, error) {
	if globalID <= 0 {
		return nil, invalid("message_global_id", "must be positive")
	}
	ts := s.now()
	if at != nil && !at.IsZero() {
		ts = *at
	}

	change, err := set(ctx, globalID, userID, ts)
	if err != nil {
		return nil, storeErr(err)
	}
	return change, nil
}

// DeliveryStatuses reads delivery flags for ids the caller sent or received.
func (s *DeliveryService) DeliveryStatuses(ctx context.Context, userID string, ids []int64) ([]*models.DeliveryStatus, error) {
	ids, err := normalizeIDs(ids)
	if err != nil {
		return nil, err
	}
	out, err := s.repomanager.Messages(s.db).GetDeliveryStatuses(ctx, userID, ids)
	if err != nil {
		return nil, storeErr(err)
	}
	if out == nil {
		out = []*models.DeliveryStatus{}
	}
	return out, nil
}

// ReadStatuses reads read flags for ids the caller sent or received.
func (s *DeliveryService) ReadStatuses(ctx context.Context, userID string, ids []int64) ([]*models.ReadStatus, error) {
	ids, err := normalizeIDs(ids)
	if err != nil {
		return nil, err
	}
	out, err := s.repomanager.Messages(s.db).GetReadStatuses(ctx, userID, ids)
	if err != nil {
		return nil, storeErr(err)
	}
	if out == nil {
		out = []*models.ReadStatus{}
	}
	return out, nil
}

func normalizeIDs(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, invalid("message_ids", "must not be empty")
	}
	if len(ids) > MaxStatusBatch {
		return nil, invalid("message_ids", "exceeds batch limit")
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, invalid("message_ids", "must be positive")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
