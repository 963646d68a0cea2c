package auth

import "time"

const (
	// StorageKey is the durable storage key holding the raw access token.
	StorageKey = "se_at"

	// DefaultTokenLifetime is the assumed server-issued access token lifetime.
	DefaultTokenLifetime = 15 * time.Minute

	// DefaultRefreshBuffer is how long before expiry the background timer refreshes.
	DefaultRefreshBuffer = time.Minute

	// DefaultRefreshTimeout bounds one background refresh attempt.
	DefaultRefreshTimeout = 10 * time.Second

	// DefaultStorageTimeout bounds one durable storage operation.
	DefaultStorageTimeout = 3 * time.Second

	minRefreshInterval = time.Second

	bearerScheme = "Bearer"
)
