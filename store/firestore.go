package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

// FirestoreStore keeps one document per id in a Firestore collection.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore connects to projectID. An empty credentialsFile uses
// application default credentials, or the emulator when
// FIRESTORE_EMULATOR_HOST is set.
func NewFirestoreStore(ctx context.Context, projectID, credentialsFile string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Merge(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	_, err := s.client.Collection(collection).Doc(id).Set(ctx, fields, firestore.MergeAll)
	return err
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if snap != nil && !snap.Exists() {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap.Data(), nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
