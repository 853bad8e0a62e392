package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/dbx"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
)

// PostgresRepository implements the Device Directory over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a device record for userID. last_connected_at starts NULL so
// the first connection always passes the freshness check.
func (r *PostgresRepository) Create(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	query := `INSERT INTO app_instances (app_instance_id, global_user_id) VALUES ($1, $2) RETURNING created_at`

	d := &models.Device{DeviceID: deviceID, OwnerUserID: userID}
	if err := r.db.QueryRowContext(ctx, query, deviceID, userID).Scan(&d.CreatedAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

// FindByDeviceID returns the record for deviceID or common.ErrorNotFound.
func (r *PostgresRepository) FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	return r.find(ctx, `SELECT app_instance_id, global_user_id, created_at, last_connected_at
		FROM app_instances WHERE app_instance_id = $1`, deviceID)
}

// FindByDeviceIDForUpdate is FindByDeviceID with a row lock.
func (r *PostgresRepository) FindByDeviceIDForUpdate(ctx context.Context, deviceID string) (*models.Device, error) {
	return r.find(ctx, `SELECT app_instance_id, global_user_id, created_at, last_connected_at
		FROM app_instances WHERE app_instance_id = $1 FOR UPDATE`, deviceID)
}

func (r *PostgresRepository) find(ctx context.Context, query, deviceID string) (*models.Device, error) {
	var (
		d    models.Device
		last sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&d.DeviceID, &d.OwnerUserID, &d.CreatedAt, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if last.Valid {
		t := last.Time
		d.LastConnectedAt = &t
	}
	return &d, nil
}

// Touch sets last_connected_at. A missing row is common.ErrorNotFound.
func (r *PostgresRepository) Touch(ctx context.Context, deviceID string, at time.Time) error {
	query := `UPDATE app_instances SET last_connected_at = $2 WHERE app_instance_id = $1`
	res, err := r.db.ExecContext(ctx, query, deviceID, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// DeleteByDeviceID removes the record. Deleting an absent device is not an error.
func (r *PostgresRepository) DeleteByDeviceID(ctx context.Context, deviceID string) error {
	query := `DELETE FROM app_instances WHERE app_instance_id = $1`
	if _, err := r.db.ExecContext(ctx, query, deviceID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteStale removes the record only if last_connected_at still equals the
// value observed by the caller, so a concurrent successful connect that just
// touched the device is not evicted.
func (r *PostgresRepository) DeleteStale(ctx context.Context, deviceID string, lastConnectedAt time.Time) (bool, error) {
	query := `DELETE FROM app_instances WHERE app_instance_id = $1 AND last_connected_at = $2`
	return r.deleteAffected(ctx, query, deviceID, lastConnectedAt)
}

// DeleteByOwnerAndDevice removes the record only if userID owns it.
func (r *PostgresRepository) DeleteByOwnerAndDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	query := `DELETE FROM app_instances WHERE app_instance_id = $1 AND global_user_id = $2`
	return r.deleteAffected(ctx, query, deviceID, userID)
}

func (r *PostgresRepository) deleteAffected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}
