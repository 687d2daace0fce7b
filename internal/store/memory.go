package store

import (
	"context"
	"errors"
	"sync"

	"remoteauth/pkg/oauth"
)

// MemoryStore is a Store that lives only as long as the process.
// Values are copied on the way in and out so callers cannot mutate stored records.
type MemoryStore struct {
	mu        sync.RWMutex
	tokens    map[string]oauth.TokenSet
	clients   map[string]oauth.ClientInformation
	verifiers map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:    make(map[string]oauth.TokenSet),
		clients:   make(map[string]oauth.ClientInformation),
		verifiers: make(map[string]string),
	}
}

func (s *MemoryStore) Tokens(_ context.Context, serverID string) (*oauth.TokenSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[serverID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) SaveTokens(_ context.Context, serverID string, tokens *oauth.TokenSet) error {
	if tokens == nil {
		return storageError("save", RecordTokens, errors.New("nil token set"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[serverID] = *tokens
	return nil
}

func (s *MemoryStore) DeleteTokens(_ context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, serverID)
	return nil
}

func (s *MemoryStore) ClientInformation(_ context.Context, serverID string) (*oauth.ClientInformation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[serverID]
	if !ok {
		return nil, nil
	}
	c.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	return &c, nil
}

func (s *MemoryStore) SaveClientInformation(_ context.Context, serverID string, info *oauth.ClientInformation) error {
	if info == nil {
		return storageError("save", RecordClient, errors.New("nil client information"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *info
	c.RedirectURIs = append([]string(nil), info.RedirectURIs...)
	s.clients[serverID] = c
	return nil
}

func (s *MemoryStore) DeleteClientInformation(_ context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, serverID)
	return nil
}

func (s *MemoryStore) CodeVerifier(_ context.Context, serverID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifiers[serverID], nil
}

func (s *MemoryStore) SaveCodeVerifier(_ context.Context, serverID string, verifier string) error {
	if verifier == "" {
		return storageError("save", RecordVerifier, errors.New("empty code verifier"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifiers[serverID] = verifier
	return nil
}

func (s *MemoryStore) DeleteCodeVerifier(_ context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verifiers, serverID)
	return nil
}
