package relay

import (
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when authentication fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator validates host login credentials.
type Authenticator struct {
	Users *UserStore
}

// NewAuthenticator returns an Authenticator.
func NewAuthenticator(users *UserStore) *Authenticator {
	return &Authenticator{Users: users}
}

// Validate checks username/password/TOTP.
func (a *Authenticator) Validate(username, password, code string, now time.Time) (User, error) {
	if a.Users == nil {
		return User{}, ErrInvalidCredentials
	}
	user, ok := a.Users.Get(username)
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	valid, err := totp.ValidateCustom(code, user.TOTPSecret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}
