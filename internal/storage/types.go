package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed     = errors.New("storage closed")
	ErrInvalidKey = errors.New("storage key is empty")
)

// Store is the minimal key/value API used by the presence engine.
//
// Get reports ok=false for a missing key. Implementations are safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Config configures storage.
//
// Driver values: "memory", "file", "sqlite", "redis", "postgres".
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // redis URL, postgres connection string
	Prefix      string        // redis key prefix, postgres table name
	BusyTimeout time.Duration // sqlite only; 0 means default
}
