package relay

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateUserValidatesUsername(t *testing.T) {
	store := NewUserStore()

	if _, err := CreateUser(store, "   ", "pw", time.Now().UTC()); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("blank username err = %v, want ErrUsernameRequired", err)
	}

	invalid := []string{
		"Bad Name",
		"SHOUTING",
		"-leading-dash",
		"tab\tname",
		"håkan",
		strings.Repeat("a", maxUsername+1),
	}
	for _, name := range invalid {
		if _, err := CreateUser(store, name, "pw", time.Now().UTC()); !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("CreateUser(%q) err = %v, want ErrInvalidUsername", name, err)
		}
	}

	result, err := CreateUser(store, "ops-team_01", "", time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if len(result.Password) != passwordLength {
		t.Fatalf("generated password length = %d, want %d", len(result.Password), passwordLength)
	}
	for _, c := range result.Password {
		if !strings.ContainsRune(passwordAlphabet, c) {
			t.Fatalf("password contains %q outside the alphabet", c)
		}
	}
	if result.TOTPSecret == "" || result.TOTPURL == "" {
		t.Fatalf("result = %+v, want TOTP enrollment", result)
	}

	if _, err := CreateUser(store, "ops-team_01", "", time.Now().UTC()); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate err = %v, want ErrUserExists", err)
	}
}

func TestUserStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "users.json")

	missing, err := LoadUserStore(path)
	if err != nil {
		t.Fatalf("LoadUserStore missing file: %v", err)
	}
	if got := missing.List(); len(got) != 0 {
		t.Fatalf("missing file listed %d users, want 0", len(got))
	}

	store := NewUserStore()
	created, err := CreateUser(store, "zulu", "pw-one", time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := CreateUser(store, "alpha", "pw-two", time.Now().UTC()); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadUserStore(path)
	if err != nil {
		t.Fatalf("LoadUserStore: %v", err)
	}
	users := loaded.List()
	if len(users) != 2 || users[0].Username != "alpha" || users[1].Username != "zulu" {
		t.Fatalf("loaded users = %+v, want alpha then zulu", users)
	}
	user, ok := loaded.Get("zulu")
	if !ok || user.PasswordHash != created.User.PasswordHash || user.TOTPSecret != created.User.TOTPSecret {
		t.Fatalf("loaded zulu = %+v, want %+v", user, created.User)
	}
}

func TestUserStoreBackfillsUsernameFromKey(t *testing.T) {
	data := []byte(`{"users": {"keyed": {"password_hash": "x"}}}`)
	store, err := LoadUserStoreFromBytes(data)
	if err != nil {
		t.Fatalf("LoadUserStoreFromBytes: %v", err)
	}
	user, ok := store.Get("keyed")
	if !ok || user.Username != "keyed" {
		t.Fatalf("user = %+v, want username backfilled from map key", user)
	}
}

func TestUserReloadLoopPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")

	authoring := NewUserStore()
	if _, err := CreateUser(authoring, "first", "pw", time.Now().UTC()); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := authoring.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	serving, err := LoadUserStore(path)
	if err != nil {
		t.Fatalf("LoadUserStore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := startUserReloadLoop(ctx, path, serving, nil, 5*time.Millisecond); err != nil {
		t.Fatalf("startUserReloadLoop: %v", err)
	}

	if _, err := CreateUser(authoring, "second", "pw", time.Now().UTC()); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := authoring.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := serving.Get("second"); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("reload loop never picked up the new account")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
