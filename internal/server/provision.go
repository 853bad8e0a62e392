package server

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/server/auth"
	"github.com/dmitrijs2005/chatrelay/internal/server/config"
	"github.com/dmitrijs2005/chatrelay/internal/server/registry"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chatrelay/internal/server/services"
)

// ProvisionDevice registers deviceID for userID and issues its credential.
// It is the operator path for adding devices; the relay itself never
// creates device records.
func ProvisionDevice(ctx context.Context, c *config.Config, userID, deviceID string) (string, error) {
	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return "", fmt.Errorf("db init error: %w", err)
	}
	defer db.Close()

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return "", err
	}

	svc := services.NewDeviceService(db, rm, registry.New(nil, logging.Nop()), logging.Nop())
	d, err := svc.Provision(ctx, userID, deviceID)
	if err != nil {
		return "", err
	}

	return auth.GenerateToken(d.OwnerUserID, d.DeviceID, []byte(c.SecretKey), c.DeviceTokenValidity)
}
