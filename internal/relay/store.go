package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const storeFilename = "state.json"

// Store persists tokens to disk. Session state lives in the registry and
// is deliberately not persisted; a relay restart ends all sessions.
type Store struct {
	mu sync.RWMutex

	AccessTokens  map[string]AccessToken  `json:"access_tokens"`
	RefreshTokens map[string]RefreshToken `json:"refresh_tokens"`
	ClientTokens  map[string]ClientToken  `json:"client_tokens"`
}

// NewStore returns an initialized store.
func NewStore() *Store {
	return &Store{
		AccessTokens:  make(map[string]AccessToken),
		RefreshTokens: make(map[string]RefreshToken),
		ClientTokens:  make(map[string]ClientToken),
	}
}

// LoadStore reads persisted state if present.
func LoadStore(dir string) (*Store, error) {
	path := filepath.Join(dir, storeFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStore(), nil
		}
		return nil, err
	}
	return LoadStoreFromBytes(data)
}

// LoadStoreFromBytes unmarshals store data and ensures maps are initialized.
func LoadStoreFromBytes(data []byte) (*Store, error) {
	var s Store
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.AccessTokens == nil {
		s.AccessTokens = make(map[string]AccessToken)
	}
	if s.RefreshTokens == nil {
		s.RefreshTokens = make(map[string]RefreshToken)
	}
	if s.ClientTokens == nil {
		s.ClientTokens = make(map[string]ClientToken)
	}
	return &s, nil
}

// Save writes the store to disk.
func (s *Store) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	path := filepath.Join(dir, storeFilename)

	s.mu.RLock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// RevokeTokensForUsername removes access and refresh tokens for a user.
func (s *Store) RevokeTokensForUsername(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, access := range s.AccessTokens {
		if access.Username == username {
			delete(s.AccessTokens, token)
		}
	}
	for token, refresh := range s.RefreshTokens {
		if refresh.Username == username {
			delete(s.RefreshTokens, token)
		}
	}
}

// CreateClientToken mints a session-scoped client token.
func (s *Store) CreateClientToken(sessionID, clientID string, now time.Time) (ClientToken, error) {
	if s == nil {
		return ClientToken{}, fmt.Errorf("store is nil")
	}
	if sessionID == "" {
		return ClientToken{}, fmt.Errorf("session id is required")
	}
	value, err := randomToken(defaultTokenBytes)
	if err != nil {
		return ClientToken{}, err
	}
	token := ClientToken{
		Token:     value,
		SessionID: sessionID,
		ClientID:  clientID,
		CreatedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClientTokens == nil {
		s.ClientTokens = make(map[string]ClientToken)
	}
	s.ClientTokens[token.Token] = token
	return token, nil
}

// ValidateClientToken checks a client token against a session.
func (s *Store) ValidateClientToken(value, sessionID string) (ClientToken, error) {
	if s == nil {
		return ClientToken{}, fmt.Errorf("store is nil")
	}
	if value == "" {
		return ClientToken{}, ErrTokenNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.ClientTokens[value]
	if !ok || token.SessionID != sessionID {
		return ClientToken{}, ErrTokenNotFound
	}
	if token.IsRevoked() {
		return ClientToken{}, ErrTokenRevoked
	}
	return token, nil
}

// RevokeClientTokensForSession drops all client tokens of a session.
func (s *Store) RevokeClientTokensForSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for value, token := range s.ClientTokens {
		if token.SessionID == sessionID {
			delete(s.ClientTokens, value)
		}
	}
}
