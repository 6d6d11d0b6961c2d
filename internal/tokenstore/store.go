// Package tokenstore persists the single OAuth token row used by the
// RestPoll-B provider, adapted from the original implementation's
// auth_store (a single-row SQLite table) onto the gateway's shared Mongo
// store.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/tradegate/internal/mongostore"
)

const singletonID = "upstox"

const defaultTTL = 24 * time.Hour

type tokenDoc struct {
	ID           string    `bson:"id"`
	AccessToken  string    `bson:"access_token"`
	RefreshToken string    `bson:"refresh_token,omitempty"`
	ExpiresAt    time.Time `bson:"expires_at"`
}

// Store is a Mongo-backed single-row OAuth token cache.
type Store struct {
	coll *mongo.Collection
}

// New constructs a Store over the given Mongo-backed store's database.
func New(store *mongostore.Store) *Store {
	return &Store{coll: store.DB().Collection("oauth_tokens")}
}

// SaveToken upserts the single token row. expiresIn of zero falls back to
// a 24-hour default, matching the original store's behavior when the
// broker's token response omits an explicit lifetime.
func (s *Store) SaveToken(ctx context.Context, accessToken, refreshToken string, expiresIn int64) error {
	ttl := defaultTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}

	doc := tokenDoc{
		ID:           singletonID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(ttl),
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.coll.ReplaceOne(ctx, bson.M{"id": singletonID}, doc, opts)
	if err != nil {
		return fmt.Errorf("tokenstore: save: %w", err)
	}
	return nil
}

// GetValidToken returns the cached token if it exists and has not expired.
func (s *Store) GetValidToken(ctx context.Context) (string, bool, error) {
	var doc tokenDoc
	err := s.coll.FindOne(ctx, bson.M{"id": singletonID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("tokenstore: get: %w", err)
	}
	if time.Now().After(doc.ExpiresAt) {
		return "", false, nil
	}
	return doc.AccessToken, true, nil
}
