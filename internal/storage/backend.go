// Package storage provides durable key/value backends for session state.
//
// A Backend plays the role a browser's persistent key/value storage plays for
// a web client: it survives process restarts and holds small string values
// such as the current access token.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by backends that have been closed.
var ErrClosed = errors.New("storage: backend closed")

// Backend defines the interface for durable key/value persistence.
type Backend interface {
	// Get returns the value stored under key. The bool is false when the key
	// does not exist; that is not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}
