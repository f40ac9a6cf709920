package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/auth-front/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ensure FirestoreStore implements the Store interface
var _ Store = (*FirestoreStore)(nil)

// FirestoreStore persists keys in a Google Cloud Firestore collection, one
// document per key. Used when several coordinator instances must share the
// processed-token markers (the multi-tab case of the browser world).
//
// Firestore gives read-after-write consistency per client but no cheap
// cross-client compare-and-set for this access pattern, so the Store
// contract's "best effort" caveat applies here exactly as it does to the
// in-memory implementation.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// entryDoc is the Firestore document shape for a stored key.
type entryDoc struct {
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStore creates a Firestore-backed store.
func NewFirestoreStore(ctx context.Context, projectID, database, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error

	// Firestore client with custom database
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Firestore store ready", map[string]any{
		"project":    projectID,
		"collection": collection,
	})

	return &FirestoreStore{
		client:     client,
		collection: collection,
	}, nil
}

func (s *FirestoreStore) Get(ctx context.Context, key string) (string, error) {
	snap, err := s.client.Collection(s.collection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading key %q: %w", key, err)
	}

	var doc entryDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("unmarshaling key %q: %w", key, err)
	}
	return doc.Value, nil
}

func (s *FirestoreStore) Set(ctx context.Context, key, value string) error {
	_, err := s.client.Collection(s.collection).Doc(key).Set(ctx, entryDoc{
		Value:     value,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("writing key %q: %w", key, err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collection).Doc(key).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("deleting key %q: %w", key, err)
	}
	return nil
}

func (s *FirestoreStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	// Document IDs sort lexicographically, so a prefix scan is a range
	// over [prefix, prefix+"").
	iter := s.client.Collection(s.collection).
		OrderBy(firestore.DocumentID, firestore.Asc).
		StartAt(prefix).
		EndAt(prefix + "").
		Documents(ctx)
	defer iter.Stop()

	var keys []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing keys with prefix %q: %w", prefix, err)
		}
		keys = append(keys, doc.Ref.ID)
	}
	return keys, nil
}

// Close releases the underlying Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
