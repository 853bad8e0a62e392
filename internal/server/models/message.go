package models

import (
	"encoding/json"
	"time"
)

// Message is one persisted message row. Group messages are stored as one row
// per recipient with IsGroupMessage set.
type Message struct {
	GlobalID             int64           `json:"global_message_id"`
	SenderID             string          `json:"sender_id"`
	RecipientID          string          `json:"recipient_id"`
	SenderLocalID        string          `json:"sender_local_message_id"`
	Body                 string          `json:"message"`
	SenderTimestamp      time.Time       `json:"sender_timestamp"`
	Type                 string          `json:"type"`
	ParentMessageID      *int64          `json:"parent_message_id,omitempty"`
	PrimarySenderID      *string         `json:"primary_sender_id,omitempty"`
	PrimarySenderLocalID *string         `json:"primary_sender_local_message_id,omitempty"`
	PrimaryRecipientID   *string         `json:"primary_recipient_id,omitempty"`
	GroupInfo            json.RawMessage `json:"group_info,omitempty"`
	FileInfo             json.RawMessage `json:"file_info,omitempty"`
	IsGroupMessage       bool            `json:"is_group_message"`
	IsDelivered          *bool           `json:"is_delivered"`
	DeliveryTimestamp    *time.Time      `json:"delivery_timestamp"`
	IsRead               *bool           `json:"is_read"`
	ReadTimestamp        *time.Time      `json:"read_timestamp"`
	CreatedAt            time.Time       `json:"created_at"`
}

// NewMessage holds the fields a sender supplies; the store assigns the rest.
type NewMessage struct {
	SenderID             string
	RecipientID          string
	SenderLocalID        string
	Body                 string
	SenderTimestamp      time.Time
	Type                 string
	ParentMessageID      *int64
	PrimarySenderID      *string
	PrimarySenderLocalID *string
	PrimaryRecipientID   *string
	GroupInfo            json.RawMessage
	FileInfo             json.RawMessage
	IsGroupMessage       bool
}

// DeliveryStatus is the delivery flag of one message.
type DeliveryStatus struct {
	GlobalID          int64      `json:"message_global_id"`
	IsDelivered       bool       `json:"is_delivered"`
	DeliveryTimestamp *time.Time `json:"delivery_timestamp"`
}

// ReadStatus is the read flag of one message.
type ReadStatus struct {
	GlobalID      int64      `json:"message_global_id"`
	IsRead        bool       `json:"is_read"`
	ReadTimestamp *time.Time `json:"read_timestamp"`
}

// StatusChange is returned by a delivery or read acknowledgement: the sender
// to notify plus the flag state after the update.
type StatusChange struct {
	GlobalID  int64
	SenderID  string
	Flag      bool
	Timestamp *time.Time
}
