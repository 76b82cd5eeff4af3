package relay

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserExists indicates a duplicate username.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound indicates a missing user.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameRequired indicates a missing username.
	ErrUsernameRequired = errors.New("username is required")
	// ErrInvalidUsername indicates a username outside the allowed charset.
	ErrInvalidUsername = errors.New("username may only contain lowercase letters, digits, dot, dash and underscore")
)

const (
	totpIssuer  = "VNCConnect"
	maxUsername = 64

	// Ambiguous glyphs (0/O, 1/l/I) are left out since generated
	// passwords are read off a terminal and typed into a browser.
	passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	passwordLength   = 20
)

// UserCreateResult is returned when creating a host account.
type UserCreateResult struct {
	User       User
	Password   string
	TOTPSecret string
	TOTPURL    string
}

// UserTOTPResult contains a rotated TOTP secret.
type UserTOTPResult struct {
	User       User
	TOTPSecret string
	TOTPURL    string
}

// UserPasswordResult contains a changed password.
type UserPasswordResult struct {
	User     User
	Password string
}

// normalizeUsername trims and validates a username. Usernames double as
// session host ids, so the charset is kept URL and log safe.
func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrUsernameRequired
	}
	if len(username) > maxUsername {
		return "", ErrInvalidUsername
	}
	for i := 0; i < len(username); i++ {
		c := username[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '_':
			if i == 0 {
				return "", ErrInvalidUsername
			}
		default:
			return "", ErrInvalidUsername
		}
	}
	return username, nil
}

func generatePassword() (string, error) {
	out := make([]byte, passwordLength)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// resolvePassword returns the given password, or a generated one when the
// caller left it blank, together with its bcrypt hash.
func resolvePassword(password string) (string, string, error) {
	if strings.TrimSpace(password) == "" {
		generated, err := generatePassword()
		if err != nil {
			return "", "", err
		}
		password = generated
	}
	hash, err := hashPassword(password)
	if err != nil {
		return "", "", err
	}
	return password, hash, nil
}

func enrollTOTP(username string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: username,
	})
	if err != nil {
		return "", "", err
	}
	secret = strings.TrimSpace(key.Secret())
	if secret == "" {
		return "", "", fmt.Errorf("totp secret missing")
	}
	return secret, key.URL(), nil
}

// CreateUser adds a new host account. An empty password means generate one;
// the TOTP secret is always freshly enrolled.
func CreateUser(store *UserStore, username, password string, now time.Time) (UserCreateResult, error) {
	if store == nil {
		return UserCreateResult{}, errors.New("user store is nil")
	}
	username, err := normalizeUsername(username)
	if err != nil {
		return UserCreateResult{}, err
	}
	if _, exists := store.Get(username); exists {
		return UserCreateResult{}, ErrUserExists
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	password, hash, err := resolvePassword(password)
	if err != nil {
		return UserCreateResult{}, err
	}
	secret, url, err := enrollTOTP(username)
	if err != nil {
		return UserCreateResult{}, err
	}
	user := User{
		Username:     username,
		PasswordHash: hash,
		TOTPSecret:   secret,
		CreatedAt:    now,
	}
	store.Upsert(user)
	return UserCreateResult{
		User:       user,
		Password:   password,
		TOTPSecret: secret,
		TOTPURL:    url,
	}, nil
}

// RotateUserTOTP enrolls a fresh TOTP secret for an existing account,
// invalidating the previous authenticator.
func RotateUserTOTP(store *UserStore, username string) (UserTOTPResult, error) {
	if store == nil {
		return UserTOTPResult{}, errors.New("user store is nil")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return UserTOTPResult{}, ErrUsernameRequired
	}
	user, ok := store.Get(username)
	if !ok {
		return UserTOTPResult{}, ErrUserNotFound
	}
	secret, url, err := enrollTOTP(username)
	if err != nil {
		return UserTOTPResult{}, err
	}
	user.TOTPSecret = secret
	store.Upsert(user)
	return UserTOTPResult{
		User:       user,
		TOTPSecret: secret,
		TOTPURL:    url,
	}, nil
}

// ChangeUserPassword rehashes a new password for an account, generating one
// when the caller leaves it empty.
func ChangeUserPassword(store *UserStore, username, password string) (UserPasswordResult, error) {
	if store == nil {
		return UserPasswordResult{}, errors.New("user store is nil")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return UserPasswordResult{}, ErrUsernameRequired
	}
	user, ok := store.Get(username)
	if !ok {
		return UserPasswordResult{}, ErrUserNotFound
	}
	password, hash, err := resolvePassword(password)
	if err != nil {
		return UserPasswordResult{}, err
	}
	user.PasswordHash = hash
	store.Upsert(user)
	return UserPasswordResult{User: user, Password: password}, nil
}

// DeleteUser removes a host account by username.
func DeleteUser(store *UserStore, username string) (User, error) {
	if store == nil {
		return User{}, errors.New("user store is nil")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, ErrUsernameRequired
	}
	user, ok := store.Delete(username)
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
