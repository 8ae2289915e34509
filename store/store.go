// Package store persists agent status documents. Every backend implements
// merge-upsert semantics: a write changes only the fields it names and
// creates the document when it is missing.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("store: document not found")

// DocumentStore is a keyed document store with merge writes.
type DocumentStore interface {
	// Merge upserts fields into collection/id, leaving other fields untouched.
	Merge(ctx context.Context, collection, id string, fields map[string]any) error
	// Get returns the fields of collection/id or ErrNotFound.
	Get(ctx context.Context, collection, id string) (map[string]any, error)
	Close() error
}

// Backend names a DocumentStore implementation.
type Backend string

const (
	BackendFirestore Backend = "firestore"
	BackendRedis     Backend = "redis"
	BackendMemory    Backend = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend Backend

	// Firestore
	ProjectID       string
	CredentialsFile string

	Redis RedisConfig
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (DocumentStore, error) {
	switch cfg.Backend {
	case BackendFirestore:
		return NewFirestoreStore(ctx, cfg.ProjectID, cfg.CredentialsFile)
	case BackendRedis:
		rdb, err := OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(rdb), nil
	case BackendMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

func validateKey(collection, id string) error {
	if collection == "" {
		return errors.New("store: collection is required")
	}
	if id == "" {
		return errors.New("store: document id is required")
	}
	return nil
}
