package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/authbridge/internal/idp"
	"github.com/dgellow/authbridge/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ TokenStore = (*FirestoreStorage)(nil)
var _ Sweeper = (*FirestoreStorage)(nil)

// FirestoreStorage keeps tokens in a Firestore collection, one document per
// device and key. It suits several processes of one deployment sharing the
// last observed token.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
	namespace  string
}

// TokenDoc is the Firestore document holding one token
type TokenDoc struct {
	Namespace string    `firestore:"namespace"`
	Key       string    `firestore:"key"`
	Value     string    `firestore:"value"`
	ExpiresAt time.Time `firestore:"expires_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, projectID, database, collection, namespace string, opts ...option.ClientOption) (*FirestoreStorage, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database, opts...)
	} else {
		client, err = firestore.NewClient(ctx, projectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreStorage{
		client:     client,
		collection: collection,
		namespace:  namespace,
	}, nil
}

func (s *FirestoreStorage) docID(key string) string {
	return s.namespace + "_" + key
}

func (s *FirestoreStorage) SetToken(ctx context.Context, key string, tok idp.Token) error {
	stored := newStoredToken(tok)
	doc := TokenDoc{
		Namespace: s.namespace,
		Key:       key,
		Value:     stored.Value,
		ExpiresAt: stored.ExpiresAt,
		UpdatedAt: stored.UpdatedAt,
	}
	if _, err := s.client.Collection(s.collection).Doc(s.docID(key)).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to store token in Firestore: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) GetToken(ctx context.Context, key string) (idp.Token, error) {
	snap, err := s.client.Collection(s.collection).Doc(s.docID(key)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return idp.Token{}, ErrTokenNotFound
		}
		return idp.Token{}, fmt.Errorf("failed to get token from Firestore: %w", err)
	}

	var doc TokenDoc
	if err := snap.DataTo(&doc); err != nil {
		return idp.Token{}, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	stored := StoredToken{Value: doc.Value, ExpiresAt: doc.ExpiresAt, UpdatedAt: doc.UpdatedAt}
	if stored.expired(time.Now()) {
		return idp.Token{}, ErrTokenNotFound
	}
	return stored.Token(), nil
}

func (s *FirestoreStorage) DeleteToken(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collection).Doc(s.docID(key)).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete token from Firestore: %w", err)
	}
	return nil
}

// Sweep deletes this device's expired token documents
func (s *FirestoreStorage) Sweep(ctx context.Context) (int, error) {
	iter := s.client.Collection(s.collection).
		Where("namespace", "==", s.namespace).
		Where("expires_at", "<", time.Now().UTC()).
		Documents(ctx)
	defer iter.Stop()

	removed := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("error iterating Firestore documents: %w", err)
		}
		var doc TokenDoc
		if err := snap.DataTo(&doc); err == nil && doc.ExpiresAt.IsZero() {
			continue
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			log.LogWarnWithFields("storage", "Failed to delete expired token", map[string]any{
				"doc":   snap.Ref.ID,
				"error": err.Error(),
			})
			continue
		}
		removed++
	}
	return removed, nil
}

// Close closes the Firestore client
func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
