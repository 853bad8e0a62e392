// Package common defines shared constants and sentinel errors used across
// client and server layers of chatrelay. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorUnauthorized   = errors.New("unauthorized")
	ErrValidation       = errors.New("validation error")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrRateLimited      = errors.New("rate limited")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Live-channel errors.
	ErrChannelClosed = errors.New("channel closed")
	ErrChannelFull   = errors.New("channel queue full")
)
