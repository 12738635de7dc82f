// Package storage provides the key/value tiers that stand in for browser storage.
// The cart subsystem only ever needs whole-value reads and writes under a key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage: backend closed")

// Backend is a string-keyed byte store.
// Get reports found=false for an absent key; that is not an error.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Driver string

	// SQLite
	Path string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// Open constructs the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		// Constructor errors come back with a nil Backend, never a typed nil.
		s, err := NewSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverRedis:
		r, err := NewRedis(ctx, RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
