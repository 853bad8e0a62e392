package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
)

// Message is a stored message as the server returns it.
type Message struct {
	GlobalID        int64           `json:"global_message_id"`
	SenderID        string          `json:"sender_id"`
	RecipientID     string          `json:"recipient_id"`
	SenderLocalID   string          `json:"sender_local_message_id"`
	Body            string          `json:"message"`
	SenderTimestamp time.Time       `json:"sender_timestamp"`
	Type            string          `json:"type"`
	IsGroupMessage  bool            `json:"is_group_message"`
	GroupInfo       json.RawMessage `json:"group_info,omitempty"`
	FileInfo        json.RawMessage `json:"file_info,omitempty"`
}

// Status is a delivery or read status row; only the matching pair of
// fields is filled.
type Status struct {
	GlobalID          int64      `json:"message_global_id"`
	IsDelivered       bool       `json:"is_delivered,omitempty"`
	DeliveryTimestamp *time.Time `json:"delivery_timestamp,omitempty"`
	IsRead            bool       `json:"is_read,omitempty"`
	ReadTimestamp     *time.Time `json:"read_timestamp,omitempty"`
}

func (c *Client) Ping(ctx context.Context) error {
	var p wire.Pong
	return c.Request(ctx, common.EventPing, nil, &p)
}

func (c *Client) SendMessage(ctx context.Context, m *wire.SendMessage) (*wire.SendMessageResult, error) {
	var res wire.SendMessageResult
	if err := c.Request(ctx, common.EventSendMessage, m, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SendGroupMessage returns the id mapping even when the server reports a
// partial submit.
func (c *Client) SendGroupMessage(ctx context.Context, m *wire.SendMessage) (*wire.GroupMessageResult, error) {
	var res wire.GroupMessageResult
	err := c.Request(ctx, common.EventSendGroupMessage, m, &res)
	return &res, err
}

func (c *Client) GetMessages(ctx context.Context) ([]*Message, error) {
	var res struct {
		Messages []*Message `json:"messages"`
	}
	if err := c.Request(ctx, common.EventGetMessages, nil, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (c *Client) AcknowledgeDelivery(ctx context.Context, globalID int64) (*Status, error) {
	yes := true
	var st Status
	if err := c.Request(ctx, common.EventSetDeliveryStatus, wire.SetDeliveryStatus{MessageGlobalID: globalID, IsDelivered: &yes}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) AcknowledgeRead(ctx context.Context, globalID int64) (*Status, error) {
	yes := true
	var st Status
	if err := c.Request(ctx, common.EventSetReadStatus, wire.SetReadStatus{MessageGlobalID: globalID, IsRead: &yes}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) statuses(ctx context.Context, event string, ids []int64) ([]*Status, error) {
	var res struct {
		Statuses []*Status `json:"statuses"`
	}
	if err := c.Request(ctx, event, wire.StatusQuery{MessageIDs: ids}, &res); err != nil {
		return nil, err
	}
	return res.Statuses, nil
}

func (c *Client) DeliveryStatuses(ctx context.Context, ids []int64) ([]*Status, error) {
	return c.statuses(ctx, common.EventGetDeliveryStatus, ids)
}

func (c *Client) ReadStatuses(ctx context.Context, ids []int64) ([]*Status, error) {
	return c.statuses(ctx, common.EventGetReadStatus, ids)
}

func (c *Client) ListDevices(ctx context.Context) ([]string, error) {
	var res wire.Devices
	if err := c.Request(ctx, common.EventListDevices, nil, &res); err != nil {
		return nil, err
	}
	return res.Devices, nil
}

func (c *Client) DeleteAppInstance(ctx context.Context, deviceID string) (bool, error) {
	var res wire.DeleteAppInstanceResult
	if err := c.Request(ctx, common.EventDeleteAppInstance, wire.DeleteAppInstance{AppInstanceID: deviceID}, &res); err != nil {
		return false, err
	}
	return res.Deleted, nil
}

func (c *Client) RequestAttachmentUpload(ctx context.Context) (*wire.AttachmentUpload, error) {
	var res wire.AttachmentUpload
	if err := c.Request(ctx, common.EventRequestAttachmentUpload, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) AttachmentURL(ctx context.Context, key string) (string, error) {
	var res wire.AttachmentURL
	if err := c.Request(ctx, common.EventGetAttachmentURL, wire.AttachmentURLRequest{StorageKey: key}, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}
