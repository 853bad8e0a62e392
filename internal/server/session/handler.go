package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/server/services"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
)

type Delivery interface {
	SubmitDirect(ctx context.Context, m *services.Submission) (*services.SubmitResult, error)
	SubmitGroup(ctx context.Context, m *services.Submission) (*services.GroupResult, error)
	Pull(ctx context.Context, userID string) ([]*models.Message, error)
	AcknowledgeDelivery(ctx context.Context, userID string, globalID int64, at *time.Time) (*models.DeliveryStatus, error)
	AcknowledgeRead(ctx context.Context, userID string, globalID int64, at *time.Time) (*models.ReadStatus, error)
	DeliveryStatuses(ctx context.Context, userID string, ids []int64) ([]*models.DeliveryStatus, error)
	ReadStatuses(ctx context.Context, userID string, ids []int64) ([]*models.ReadStatus, error)
}

type Devices interface {
	Revoke(ctx context.Context, caller models.Identity, deviceID string) (deleted, self bool, err error)
	LiveDevices(userID string) []string
}

type Attachments interface {
	RequestUpload(ctx context.Context) (key, url string, err error)
	DownloadURL(ctx context.Context, userID, key string) (string, error)
}

type messagesResult struct {
	Messages []*models.Message `json:"messages"`
}

type deliveryStatusesResult struct {
	Statuses []*models.DeliveryStatus `json:"statuses"`
}

type readStatusesResult struct {
	Statuses []*models.ReadStatus `json:"statuses"`
}

// Handler maps request events onto the services.
type Handler struct {
	delivery    Delivery
	devices     Devices
	attachments Attachments
	log         logging.Logger
}

func NewHandler(delivery Delivery, devices Devices, attachments Attachments, log logging.Logger) *Handler {
	return &Handler{
		delivery:    delivery,
		devices:     devices,
		attachments: attachments,
		log:         log.With("module", "handler"),
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

// Handle runs one request for s and returns the response data. For a partial
// group submit both the mapping and the error are returned.
func (h *Handler) Handle(ctx context.Context, s *Session, event string, data json.RawMessage) (any, error) {
	id := s.Identity()

	switch event {
	case common.EventPing:
		return wire.Pong{Status: "OK"}, nil

	case common.EventSendMessage:
		var p wire.SendMessage
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		sub, err := submission(id, &p)
		if err != nil {
			return nil, err
		}
		res, err := h.delivery.SubmitDirect(ctx, sub)
		if err != nil {
			return nil, err
		}
		if !res.Delivered {
			hint, _ := json.Marshal(wire.NotDelivered{RecipientID: sub.RecipientID, GlobalMessageID: res.GlobalID, SenderLocalMessageID: res.SenderLocalID})
			_ = s.Send(common.EventMessageNotDelivered, hint)
		}
		return wire.SendMessageResult{GlobalMessageID: res.GlobalID, SenderLocalMessageID: res.SenderLocalID, Delivered: res.Delivered}, nil

	case common.EventSendGroupMessage:
		var p wire.SendMessage
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		sub, err := submission(id, &p)
		if err != nil {
			return nil, err
		}
		res, err := h.delivery.SubmitGroup(ctx, sub)
		if res == nil {
			return nil, err
		}
		return wire.GroupMessageResult{MessageIDMapping: res.Mapping}, err

	case common.EventGetMessages:
		rows, err := h.delivery.Pull(ctx, id.UserID)
		if err != nil {
			return nil, err
		}
		return messagesResult{Messages: rows}, nil

	case common.EventSetDeliveryStatus:
		var p wire.SetDeliveryStatus
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if p.IsDelivered == nil || !*p.IsDelivered {
			return nil, &services.ValidationError{Field: "is_delivered", Reason: "must be true"}
		}
		st, err := h.delivery.AcknowledgeDelivery(ctx, id.UserID, p.MessageGlobalID, p.DeliveryTimestamp)
		if err != nil {
			return nil, err
		}
		return st, nil

	case common.EventSetReadStatus:
		var p wire.SetReadStatus
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if p.IsRead == nil || !*p.IsRead {
			return nil, &services.ValidationError{Field: "is_read", Reason: "must be true"}
		}
		st, err := h.delivery.AcknowledgeRead(ctx, id.UserID, p.MessageGlobalID, p.ReadTimestamp)
		if err != nil {
			return nil, err
		}
		return st, nil

	case common.EventGetDeliveryStatus:
		var p wire.StatusQuery
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		st, err := h.delivery.DeliveryStatuses(ctx, id.UserID, p.MessageIDs)
		if err != nil {
			return nil, err
		}
		return deliveryStatusesResult{Statuses: st}, nil

	case common.EventGetReadStatus:
		var p wire.StatusQuery
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		st, err := h.delivery.ReadStatuses(ctx, id.UserID, p.MessageIDs)
		if err != nil {
			return nil, err
		}
		return readStatusesResult{Statuses: st}, nil

	case common.EventListDevices:
		return wire.Devices{Devices: h.devices.LiveDevices(id.UserID)}, nil

	case common.EventDeleteAppInstance:
		var p wire.DeleteAppInstance
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		deleted, self, err := h.devices.Revoke(ctx, id, p.AppInstanceID)
		if err != nil {
			return nil, err
		}
		if deleted && self {
			s.closeAfterReply = true
		}
		return wire.DeleteAppInstanceResult{Deleted: deleted}, nil

	case common.EventRequestAttachmentUpload:
		key, url, err := h.attachments.RequestUpload(ctx)
		if err != nil {
			return nil, err
		}
		return wire.AttachmentUpload{StorageKey: key, URL: url}, nil

	case common.EventGetAttachmentURL:
		var p wire.AttachmentURLRequest
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		url, err := h.attachments.DownloadURL(ctx, id.UserID, p.StorageKey)
		if err != nil {
			return nil, err
		}
		return wire.AttachmentURL{URL: url}, nil

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownEvent, event)
	}
}

// submission builds a service submission; the sender is always the
// authenticated user.
func submission(id models.Identity, p *wire.SendMessage) (*services.Submission, error) {
	if p.SenderID != "" && p.SenderID != id.UserID {
		return nil, &services.ValidationError{Field: "sender_id", Reason: "does not match the authenticated user"}
	}
	sub := &services.Submission{
		SenderID:             id.UserID,
		RecipientID:          p.RecipientID,
		RecipientIDs:         p.RecipientIDs,
		SenderLocalID:        p.SenderLocalMessageID,
		Body:                 p.Message,
		Type:                 p.Type,
		ParentMessageID:      p.ParentMessageID,
		PrimarySenderID:      p.PrimarySenderID,
		PrimarySenderLocalID: p.PrimarySenderLocalID,
		PrimaryRecipientID:   p.PrimaryRecipientID,
		GroupInfo:            p.GroupInfo,
		FileInfo:             p.FileInfo,
	}
	if p.SenderTimestamp != nil {
		sub.SenderTimestamp = *p.SenderTimestamp
	}
	return sub, nil
}
