package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/tripcrew/tripcrew/features/archive/mongo/clients/mongo"
	"github.com/tripcrew/tripcrew/runtime/planner/archive"
)

// Store implements archive.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

var _ archive.Store = (*Store)(nil)

// NewStore builds a Mongo-backed turn archive using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Record implements archive.Store.
func (s *Store) Record(ctx context.Context, t *archive.Turn) error {
	return s.client.Record(ctx, t)
}

// List implements archive.Store.
func (s *Store) List(ctx context.Context, sessionID, cursor string, limit int) (archive.Page, error) {
	return s.client.List(ctx, sessionID, cursor, limit)
}

// Name returns the health check name of the underlying client.
func (s *Store) Name() string { return s.client.Name() }

// Ping checks connectivity to MongoDB.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }
