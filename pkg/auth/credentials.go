package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"mindnexus/internal/models"
	"mindnexus/pkg/config"
)

// ErrInvalidCredentials is returned for both unknown usernames and wrong
// passwords so the login surface never reveals which field was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

type entry struct {
	password     string
	passwordHash string
	role         models.Role
}

// CredentialStore validates username/password pairs against the static
// table from the config file. Entries with a bcrypt hash are preferred;
// plaintext entries are kept for parity with the original deployment and
// compared in constant time.
type CredentialStore struct {
	users map[string]entry
}

func NewCredentialStore(users []config.UserEntry) *CredentialStore {
	table := make(map[string]entry, len(users))
	for _, u := range users {
		table[u.Username] = entry{
			password:     u.Password,
			passwordHash: u.PasswordHash,
			role:         models.Role(u.Role),
		}
	}
	return &CredentialStore{users: table}
}

func (s *CredentialStore) Authenticate(username, password string) (models.User, error) {
	e, ok := s.users[username]
	if !ok {
		// Burn a comparison anyway so unknown users cost the same as
		// known ones.
		subtle.ConstantTimeCompare([]byte(password), []byte(password))
		return models.User{}, ErrInvalidCredentials
	}

	if e.passwordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(e.passwordHash), []byte(password)) != nil {
			return models.User{}, ErrInvalidCredentials
		}
	} else if subtle.ConstantTimeCompare([]byte(e.password), []byte(password)) != 1 {
		return models.User{}, ErrInvalidCredentials
	}

	return models.User{Username: username, Role: e.role}, nil
}

// HashPassword produces a bcrypt hash suitable for the password_hash config
// field.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
