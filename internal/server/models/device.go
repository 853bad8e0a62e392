// Package models defines server-side data models persisted in the database
// or attached to live connections.
package models

import "time"

// Device is a registered app instance. A device id belongs to exactly one user
// for its lifetime.
type Device struct {
	// DeviceID is the stable app-instance id carried in the device credential.
	DeviceID string
	// OwnerUserID is the user the device was issued to.
	OwnerUserID string
	CreatedAt   time.Time
	// LastConnectedAt is nil until the first admitted connection.
	LastConnectedAt *time.Time
}

// Identity is the authenticated (user, device) pair attached to an admitted
// connection.
type Identity struct {
	UserID   string
	DeviceID string
}
