package identity

import (
	"context"
	"errors"
	"testing"

	"aether/internal/models"
)

type mockTokenStore struct {
	tokens  map[string]string
	lookups int
}

func (m *mockTokenStore) UpsertToken(userID, token string) error {
	m.tokens[token] = userID
	return nil
}

func (m *mockTokenStore) LookupToken(token string) (string, error) {
	m.lookups++
	userID, ok := m.tokens[token]
	if !ok {
		return "", models.ErrNotFound
	}
	return userID, nil
}

func TestService(t *testing.T) {
	store := &mockTokenStore{tokens: make(map[string]string)}
	svc := NewService(context.Background(), store, 0)

	t.Run("Issue", func(t *testing.T) {
		token, err := svc.Issue("u1")
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if token == "" {
			t.Fatal("Issue returned empty token")
		}
		if store.tokens[token] != "u1" {
			t.Error("token not persisted")
		}

		userID, err := svc.Identify(token)
		if err != nil {
			t.Fatalf("Identify failed: %v", err)
		}
		if userID != "u1" {
			t.Errorf("expected u1, got %s", userID)
		}
		// Issue pre-warms the cache, so Identify never hit the store.
		if store.lookups != 0 {
			t.Errorf("expected 0 store lookups, got %d", store.lookups)
		}
	})

	t.Run("CacheMiss", func(t *testing.T) {
		store.tokens["external"] = "u2"

		userID, err := svc.Identify("external")
		if err != nil {
			t.Fatalf("Identify failed: %v", err)
		}
		if userID != "u2" {
			t.Errorf("expected u2, got %s", userID)
		}
		lookups := store.lookups

		// Second resolve comes from the cache.
		if _, err := svc.Identify("external"); err != nil {
			t.Fatal(err)
		}
		if store.lookups != lookups {
			t.Error("cached token hit the store again")
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if _, err := svc.Identify("bogus"); !errors.Is(err, ErrUnknownToken) {
			t.Errorf("expected ErrUnknownToken, got %v", err)
		}
		if _, err := svc.Identify(""); !errors.Is(err, ErrUnknownToken) {
			t.Errorf("expected ErrUnknownToken for empty token, got %v", err)
		}
	})
}
