package permission

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store persists custom permission profiles to disk. Built-in profiles are
// served from code and never written.
type Store struct {
	mu sync.RWMutex

	Profiles map[string]Profile `json:"profiles"`
}

// NewStore returns an initialized profile store.
func NewStore() *Store {
	return &Store{Profiles: make(map[string]Profile)}
}

// LoadStore reads profiles from the provided file path.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStore(), nil
		}
		return nil, err
	}
	return LoadStoreFromBytes(data)
}

// LoadStoreFromBytes parses profile store data.
func LoadStoreFromBytes(data []byte) (*Store, error) {
	var store Store
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, err
	}
	if store.Profiles == nil {
		store.Profiles = make(map[string]Profile)
	}
	return &store, nil
}

// Save writes the profile store to disk.
func (s *Store) Save(path string) error {
	if s == nil {
		return fmt.Errorf("profile store is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	s.mu.RLock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Get returns a profile by id, consulting built-ins first.
func (s *Store) Get(id string) (Profile, bool) {
	for _, builtin := range BuiltInProfiles() {
		if builtin.ID == id {
			return builtin.Clone(), true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.Profiles[id]
	if !ok {
		return Profile{}, false
	}
	return profile.Clone(), true
}

// List returns built-in profiles plus the owner's custom profiles, sorted
// built-ins first then by name.
func (s *Store) List(owner string) []Profile {
	out := BuiltInProfiles()
	s.mu.RLock()
	for _, profile := range s.Profiles {
		if profile.Owner == owner {
			out = append(out, profile.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsBuiltIn != out[j].IsBuiltIn {
			return out[i].IsBuiltIn
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Create adds a custom profile cloned from base. The name must be non-empty
// and unique within the owner's profiles.
func (s *Store) Create(name, owner string, base Profile, now time.Time) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Profiles {
		if existing.Owner == owner && strings.EqualFold(existing.Name, name) {
			return Profile{}, ErrInvalidName
		}
	}
	profile, err := NewCustomProfile(name, owner, base, now)
	if err != nil {
		return Profile{}, err
	}
	s.Profiles[profile.ID] = profile
	return profile.Clone(), nil
}

// Update replaces a custom profile. Built-ins reject mutation.
func (s *Store) Update(profile Profile) (Profile, error) {
	for _, builtin := range BuiltInProfiles() {
		if builtin.ID == profile.ID {
			return Profile{}, ErrImmutableProfile
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.Profiles[profile.ID]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	profile.Owner = existing.Owner
	profile.IsBuiltIn = false
	profile.CreatedAt = existing.CreatedAt
	s.Profiles[profile.ID] = profile.Clone()
	return profile.Clone(), nil
}

// Delete removes a custom profile. The inUse check runs under the store lock
// so a concurrent session create cannot race the delete.
func (s *Store) Delete(id string, inUse func(profileID string) bool) error {
	for _, builtin := range BuiltInProfiles() {
		if builtin.ID == id {
			return ErrImmutableProfile
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Profiles[id]; !ok {
		return ErrProfileNotFound
	}
	if inUse != nil && inUse(id) {
		return ErrProfileInUse
	}
	delete(s.Profiles, id)
	return nil
}
