// Package wire defines the JSON frames exchanged over a live relay
// connection, shared by the server transports and the client.
package wire

import (
	"encoding/json"
	"time"
)

// Frame is the envelope for requests, responses and pushes. Requests carry
// an ID which the single response echoes; pushes have none.
type Frame struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Error codes carried in response frames.
const (
	CodeValidation         = "VALIDATION"
	CodeNotFound           = "NOT_FOUND"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUnknownEvent       = "UNKNOWN_EVENT"
	CodeBadFrame           = "BAD_FRAME"
	CodePartialGroupSubmit = "PARTIAL_GROUP_SUBMIT"
	CodeInternal           = "INTERNAL"
)

type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// SendMessage is the payload of send_message and send_group_message.
type SendMessage struct {
	SenderID             string          `json:"sender_id,omitempty"`
	RecipientID          string          `json:"recipient_id,omitempty"`
	RecipientIDs         []string        `json:"recipient_ids,omitempty"`
	Message              string          `json:"message"`
	Type                 string          `json:"type,omitempty"`
	SenderLocalMessageID string          `json:"sender_local_message_id"`
	SenderTimestamp      *time.Time      `json:"sender_timestamp,omitempty"`
	ParentMessageID      *int64          `json:"parent_message_id,omitempty"`
	PrimarySenderID      *string         `json:"primary_sender_id,omitempty"`
	PrimarySenderLocalID *string         `json:"primary_sender_local_message_id,omitempty"`
	PrimaryRecipientID   *string         `json:"primary_recipient_id,omitempty"`
	GroupInfo            json.RawMessage `json:"group_info,omitempty"`
	FileInfo             json.RawMessage `json:"file_info,omitempty"`
}

type SendMessageResult struct {
	GlobalMessageID      int64  `json:"global_message_id"`
	SenderLocalMessageID string `json:"sender_local_message_id"`
	Delivered            bool   `json:"delivered"`
}

// GroupMessageResult maps recipient -> sender local id -> global id.
type GroupMessageResult struct {
	MessageIDMapping map[string]map[string]int64 `json:"message_id_mapping"`
}

type SetDeliveryStatus struct {
	MessageGlobalID   int64      `json:"message_global_id"`
	IsDelivered       *bool      `json:"is_delivered"`
	DeliveryTimestamp *time.Time `json:"delivery_timestamp,omitempty"`
}

type SetReadStatus struct {
	MessageGlobalID int64      `json:"message_global_id"`
	IsRead          *bool      `json:"is_read"`
	ReadTimestamp   *time.Time `json:"read_timestamp,omitempty"`
}

type StatusQuery struct {
	MessageIDs []int64 `json:"message_ids"`
}

type DeleteAppInstance struct {
	AppInstanceID string `json:"app_instance_id"`
}

type DeleteAppInstanceResult struct {
	Deleted bool `json:"deleted"`
}

type AttachmentUpload struct {
	StorageKey string `json:"storage_key"`
	URL        string `json:"url"`
}

type AttachmentURLRequest struct {
	StorageKey string `json:"storage_key"`
}

type AttachmentURL struct {
	URL string `json:"url"`
}

type Devices struct {
	Devices []string `json:"devices"`
}

type Pong struct {
	Status string `json:"status"`
}

// NotDelivered is pushed to the submitting device when no recipient device
// accepted a message.
type NotDelivered struct {
	RecipientID          string `json:"recipient_id"`
	GlobalMessageID      int64  `json:"global_message_id"`
	SenderLocalMessageID string `json:"sender_local_message_id"`
}

// Superseded is pushed to a connection replaced by a newer one for the same
// device, right before it is closed.
type Superseded struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}
