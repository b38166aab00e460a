// Package identity resolves the opaque handshake token of a connection to a
// stable user id. Authentication itself happens outside this process; the
// core trusts whatever the token store says.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/c-pro/geche"
)

const DefaultTokenExpiry = 24 * time.Hour

var ErrUnknownToken = errors.New("unknown token")

// TokenStore is the durable side of the token registry.
type TokenStore interface {
	UpsertToken(userID, token string) error
	LookupToken(token string) (string, error)
}

type Service struct {
	store TokenStore
	cache geche.Geche[string, string]
}

func NewService(ctx context.Context, store TokenStore, tokenExpiry time.Duration) *Service {
	if tokenExpiry <= 0 {
		tokenExpiry = DefaultTokenExpiry
	}
	return &Service{
		store: store,
		cache: geche.NewMapTTLCache[string, string](ctx, tokenExpiry, time.Minute),
	}
}

// Identify returns the user id behind a token.
func (s *Service) Identify(token string) (string, error) {
	if token == "" {
		return "", ErrUnknownToken
	}
	if userID, err := s.cache.Get(token); err == nil {
		return userID, nil
	}
	userID, err := s.store.LookupToken(token)
	if err != nil {
		return "", ErrUnknownToken
	}
	s.cache.Set(token, userID)
	return userID, nil
}

// Issue creates and persists a fresh token for the user.
func (s *Service) Issue(userID string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(b)
	if err := s.store.UpsertToken(userID, token); err != nil {
		return "", err
	}
	s.cache.Set(token, userID)
	return token, nil
}
