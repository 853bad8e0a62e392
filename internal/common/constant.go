// Package common contains shared constants and sentinel errors used across
// chatrelay components.
package common

// AuthorizationHeaderName is the gRPC metadata key / HTTP header carrying the
// device credential as "Bearer <token>".
const AuthorizationHeaderName = "authorization"

// BearerPrefix prefixes the device credential in AuthorizationHeaderName.
const BearerPrefix = "Bearer "

// Request events accepted on a live connection.
const (
	EventSendMessage             = "send_message"
	EventSendGroupMessage        = "send_group_message"
	EventGetMessages             = "get_messages"
	EventSetDeliveryStatus       = "set_delivery_status"
	EventSetReadStatus           = "set_read_status"
	EventGetDeliveryStatus       = "get_delivery_status"
	EventGetReadStatus           = "get_read_status"
	EventListDevices             = "list_devices"
	EventDeleteAppInstance       = "delete_app_instance"
	EventRequestAttachmentUpload = "request_attachment_upload"
	EventGetAttachmentURL        = "get_attachment_url"
	EventPing                    = "ping"
)

// Push events emitted by the server.
const (
	EventMessageReceived      = "message_received"
	EventMessageNotDelivered  = "message_not_delivered"
	EventDeliveryStatusUpdate = "delivery_status_update"
	EventReadStatusUpdate     = "read_status_update"
	EventSessionSuperseded    = "session_superseded"
)
