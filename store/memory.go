package store

import (
	"context"
	"maps"
	"sync"
)

// Write is one Merge call recorded by MemoryStore.
type Write struct {
	Collection string
	ID         string
	Fields     map[string]any
}

// MemoryStore is an in-process DocumentStore. It records every write, which
// makes it the store of choice in tests.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]map[string]any
	writes []Write
	err    error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]any)}
}

func (s *MemoryStore) Merge(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}

	key := collection + "/" + id
	doc, ok := s.docs[key]
	if !ok {
		doc = make(map[string]any, len(fields))
		s.docs[key] = doc
	}
	maps.Copy(doc, fields)
	s.writes = append(s.writes, Write{Collection: collection, ID: id, Fields: maps.Clone(fields)})
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	doc, ok := s.docs[collection+"/"+id]
	if !ok {
		return nil, ErrNotFound
	}
	return maps.Clone(doc), nil
}

func (s *MemoryStore) Close() error { return nil }

// Writes returns a copy of every successful Merge in call order.
func (s *MemoryStore) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// FailWith makes subsequent calls return err. A nil err restores normal
// operation.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
