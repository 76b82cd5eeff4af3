package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// UserStore holds host accounts in memory and persists them as a JSON file.
// The on-disk map is keyed by username; the key wins when an entry's own
// username field is blank.
type UserStore struct {
	mu       sync.RWMutex
	accounts map[string]User
}

type userStoreFile struct {
	Users map[string]User `json:"users"`
}

// NewUserStore returns an empty account store.
func NewUserStore() *UserStore {
	return &UserStore{accounts: make(map[string]User)}
}

// LoadUserStore reads accounts from path. A missing file yields an empty
// store so a fresh server can start before any account exists.
func LoadUserStore(path string) (*UserStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewUserStore(), nil
		}
		return nil, err
	}
	return LoadUserStoreFromBytes(data)
}

// LoadUserStoreFromBytes parses account store JSON.
func LoadUserStoreFromBytes(data []byte) (*UserStore, error) {
	var file userStoreFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	store := NewUserStore()
	store.ReplaceUsers(file.Users)
	return store, nil
}

// Save writes the store to path via a temp file and rename, so a crashed
// write never leaves a half-written accounts file behind.
func (s *UserStore) Save(path string) error {
	if s == nil {
		return fmt.Errorf("user store is nil")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	s.mu.RLock()
	data, err := json.MarshalIndent(userStoreFile{Users: s.accounts}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ReplaceUsers swaps in a new account map wholesale.
func (s *UserStore) ReplaceUsers(users map[string]User) {
	if s == nil {
		return
	}
	next := make(map[string]User, len(users))
	for username, user := range users {
		if user.Username == "" {
			user.Username = username
		}
		next[username] = user
	}
	s.mu.Lock()
	s.accounts = next
	s.mu.Unlock()
}

// ReloadFromDisk replaces the in-memory accounts with the file's contents.
func (s *UserStore) ReloadFromDisk(path string) error {
	if s == nil {
		return fmt.Errorf("user store is nil")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file userStoreFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	s.ReplaceUsers(file.Users)
	return nil
}

// Get retrieves an account by username.
func (s *UserStore) Get(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.accounts[username]
	return user, ok
}

// Upsert inserts or updates an account.
func (s *UserStore) Upsert(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accounts == nil {
		s.accounts = make(map[string]User)
	}
	s.accounts[user.Username] = user
}

// Delete removes an account by username and reports whether it existed.
func (s *UserStore) Delete(username string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.accounts[username]
	if ok {
		delete(s.accounts, username)
	}
	return user, ok
}

// List returns all accounts sorted by username.
func (s *UserStore) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.accounts))
	for _, user := range s.accounts {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users
}
