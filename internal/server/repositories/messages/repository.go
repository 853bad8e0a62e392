// Package messages is the durable Message Store: an append-and-query log with
// monotonic delivery and read flags.
package messages

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, m *models.NewMessage) (*models.Message, error)
	FindUndelivered(ctx context.Context, recipientID string) ([]*models.Message, error)
	SetDelivered(ctx context.Context, globalID int64, recipientID string, at time.Time) (*models.StatusChange, error)
	SetRead(ctx context.Context, globalID int64, recipientID string, at time.Time) (*models.StatusChange, error)
	GetDeliveryStatuses(ctx context.Context, userID string, globalIDs []int64) ([]*models.DeliveryStatus, error)
	GetReadStatuses(ctx context.Context, userID string, globalIDs []int64) ([]*models.ReadStatus, error)
	HasAttachment(ctx context.Context, userID, storageKey string) (bool, error)
}
