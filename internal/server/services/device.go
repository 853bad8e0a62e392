package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/dbx"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/server/registry"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/repomanager"
)

// LiveDirectory is the part of the connection registry DeviceService uses.
type LiveDirectory interface {
	Remove(userID, deviceID string) registry.Channel
	ListDevices(userID string) []string
}

// DeviceService manages device records and their live sessions.
type DeviceService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	live        LiveDirectory
	log         logging.Logger
}

func NewDeviceService(db *sql.DB, repomanager repomanager.RepositoryManager, live LiveDirectory, log logging.Logger) *DeviceService {
	return &DeviceService{
		db:          db,
		repomanager: repomanager,
		live:        live,
		log:         log.With("module", "devices"),
	}
}

// Provision creates the device record for (userID, deviceID), or returns the
// existing one when userID already owns it. A device id owned by someone else
// is a validation error.
func (s *DeviceService) Provision(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("user_id", "is required")
	}
	if strings.TrimSpace(deviceID) == "" {
		return nil, invalid("app_instance_id", "is required")
	}

	var device *models.Device
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Devices(tx)

		existing, err := repo.FindByDeviceIDForUpdate(ctx, deviceID)
		switch {
		case err == nil:
			if existing.OwnerUserID != userID {
				return invalid("app_instance_id", "belongs to another user")
			}
			device = existing
			return nil
		case errors.Is(err, common.ErrorNotFound):
			device, err = repo.Create(ctx, userID, deviceID)
			return err
		default:
			return err
		}
	})
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		return nil, storeErr(err)
	}

	s.log.Info(ctx, "device provisioned", "user_id", userID, "device_id", deviceID)
	return device, nil
}

// Revoke deletes a device record owned by caller and drops its live session.
// Another device's session is closed here; when the caller revokes its own
// device the returned self flag tells the session to close itself once it
// has replied.
func (s *DeviceService) Revoke(ctx context.Context, caller models.Identity, deviceID string) (deleted, self bool, err error) {
	if strings.TrimSpace(deviceID) == "" {
		return false, false, invalid("app_instance_id", "is required")
	}

	deleted, err = s.repomanager.Devices(s.db).DeleteByOwnerAndDevice(ctx, caller.UserID, deviceID)
	if err != nil {
		return false, false, storeErr(err)
	}
	if !deleted {
		return false, false, nil
	}

	self = deviceID == caller.DeviceID
	if ch := s.live.Remove(caller.UserID, deviceID); ch != nil && !self {
		if c, ok := ch.(io.Closer); ok {
			_ = c.Close()
		}
	}

	s.log.Info(ctx, "device revoked", "user_id", caller.UserID, "device_id", deviceID)
	return true, self, nil
}

// LiveDevices lists the caller's currently connected devices.
func (s *DeviceService) LiveDevices(userID string) []string {
	return s.live.ListDevices(userID)
}
