// Package devices is the Device Directory: durable app-instance records,
// each owned by exactly one user.
package devices

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, userID, deviceID string) (*models.Device, error)
	FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	// FindByDeviceIDForUpdate locks the row; only meaningful inside a transaction.
	FindByDeviceIDForUpdate(ctx context.Context, deviceID string) (*models.Device, error)
	Touch(ctx context.Context, deviceID string, at time.Time) error
	DeleteByDeviceID(ctx context.Context, deviceID string) error
	DeleteStale(ctx context.Context, deviceID string, lastConnectedAt time.Time) (bool, error)
	DeleteByOwnerAndDevice(ctx context.Context, userID, deviceID string) (bool, error)
}
