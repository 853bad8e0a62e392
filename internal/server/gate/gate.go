// Package gate admits or rejects an inbound connection by its device
// credential. Checks against server-side device state run on unverified
// claims first; only a successful full verification admits the connection.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/server/auth"
	"github.com/dmitrijs2005/chatrelay/internal/server/metrics"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
)

// Code names an admission rejection.
type Code string

const (
	NoCredential        Code = "NO_CREDENTIAL"
	DeviceNotFound      Code = "DEVICE_NOT_FOUND"
	DeviceInactive      Code = "DEVICE_INACTIVE"
	DeviceOwnerMismatch Code = "DEVICE_OWNER_MISMATCH"
	InvalidCredential   Code = "INVALID_CREDENTIAL"
)

// Rejection terminates a connection attempt. It matches common.ErrorUnauthorized.
type Rejection struct {
	Code Code
}

func (r *Rejection) Error() string { return "connection rejected: " + string(r.Code) }

func (r *Rejection) Is(target error) bool { return target == common.ErrorUnauthorized }

func reject(c Code) error { return &Rejection{Code: c} }

// CredentialVerifier decodes device credentials.
type CredentialVerifier interface {
	DecodeUnverified(token string) (*auth.Claims, error)
	Verify(token string) (*auth.Claims, error)
}

// Directory is the part of the Device Directory the gate needs.
type Directory interface {
	FindByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	Touch(ctx context.Context, deviceID string, at time.Time) error
	DeleteByDeviceID(ctx context.Context, deviceID string) error
	DeleteStale(ctx context.Context, deviceID string, lastConnectedAt time.Time) (bool, error)
}

type Gate struct {
	directory Directory
	verifier  CredentialVerifier
	freshness time.Duration
	metrics   *metrics.Metrics
	log       logging.Logger
	now       func() time.Time
}

func New(directory Directory, verifier CredentialVerifier, freshness time.Duration, m *metrics.Metrics, log logging.Logger) *Gate {
	return &Gate{
		directory: directory,
		verifier:  verifier,
		freshness: freshness,
		metrics:   m,
		log:       log.With("module", "gate"),
		now:       time.Now,
	}
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>" value.
func ExtractBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(common.BearerPrefix) || !strings.EqualFold(header[:len(common.BearerPrefix)], common.BearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(common.BearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// Admit runs the admission pipeline for one authorization header value.
// It returns a *Rejection, an error wrapping common.ErrStoreUnavailable, or
// the identity to attach to the connection.
func (g *Gate) Admit(ctx context.Context, authorization string) (models.Identity, error) {
	id, err := g.admit(ctx, authorization)

	var rej *Rejection
	switch {
	case err == nil:
		g.metrics.AuthResult("OK")
		g.log.Info(ctx, "connection admitted", "user_id", id.UserID, "device_id", id.DeviceID)
	case errors.As(err, &rej):
		g.metrics.AuthResult(string(rej.Code))
		g.log.Warn(ctx, "connection rejected", "user_id", id.UserID, "device_id", id.DeviceID, "code", rej.Code)
		id = models.Identity{}
	default:
		g.metrics.AuthResult("STORE_UNAVAILABLE")
		g.log.Error(ctx, "admission failed", "user_id", id.UserID, "device_id", id.DeviceID, "error", err)
		id = models.Identity{}
	}
	return id, err
}

// admit returns the claimed identity alongside rejections so Admit can log it.
func (g *Gate) admit(ctx context.Context, authorization string) (models.Identity, error) {
	token, ok := ExtractBearer(authorization)
	if !ok {
		return models.Identity{}, reject(NoCredential)
	}

	claims, err := g.verifier.DecodeUnverified(token)
	if err != nil {
		return models.Identity{}, reject(InvalidCredential)
	}
	claimed := models.Identity{UserID: claims.UserID, DeviceID: claims.DeviceID}
	if claimed.UserID == "" || claimed.DeviceID == "" {
		return claimed, reject(InvalidCredential)
	}

	device, err := g.directory.FindByDeviceID(ctx, claimed.DeviceID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return claimed, reject(DeviceNotFound)
		}
		return claimed, fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}

	now := g.now()
	if device.LastConnectedAt != nil && now.Sub(*device.LastConnectedAt) > g.freshness {
		if _, err := g.directory.DeleteStale(ctx, device.DeviceID, *device.LastConnectedAt); err != nil {
			g.log.Error(ctx, "stale device eviction failed", "device_id", device.DeviceID, "error", err)
		}
		return claimed, reject(DeviceInactive)
	}

	if device.OwnerUserID != claimed.UserID {
		return claimed, reject(DeviceOwnerMismatch)
	}

	verified, err := g.verifier.Verify(token)
	if err != nil {
		if err := g.directory.DeleteByDeviceID(ctx, device.DeviceID); err != nil {
			g.log.Error(ctx, "untrusted device eviction failed", "device_id", device.DeviceID, "error", err)
		}
		return claimed, reject(InvalidCredential)
	}
	if verified.UserID != device.OwnerUserID || verified.DeviceID != device.DeviceID {
		return claimed, reject(InvalidCredential)
	}

	if err := g.directory.Touch(ctx, device.DeviceID, now); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return claimed, reject(DeviceNotFound)
		}
		return claimed, fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}

	return models.Identity{UserID: verified.UserID, DeviceID: verified.DeviceID}, nil
}

type identityKey struct{}

// WithIdentity attaches an admitted identity to ctx.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by WithIdentity.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok
}
