// Package credentials loads the account file and checks passwords.
package credentials

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"

	"github.com/pario-ai/tutor/pkg/models"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Store is a read-only username -> account map.
type Store struct {
	users map[string]models.User
}

// Load reads a JSON credential file. Each value is either the password
// string or an object {"password": ..., "institution": ...}.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return Parse(data)
}

// Parse builds a Store from the JSON contents of a credential file.
func Parse(data []byte) (*Store, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse credentials: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("parse credentials: top level must be an object")
	}

	s := &Store{users: make(map[string]models.User)}
	var parseErr error
	root.ForEach(func(key, value gjson.Result) bool {
		u := models.User{Username: key.String(), Institution: models.DefaultInstitution}
		switch {
		case value.Type == gjson.String:
			u.Password = value.String()
		case value.IsObject():
			pw := value.Get("password")
			if pw.Type != gjson.String {
				parseErr = fmt.Errorf("parse credentials: user %q has no password", u.Username)
				return false
			}
			u.Password = pw.String()
			if inst := strings.TrimSpace(value.Get("institution").String()); inst != "" {
				u.Institution = inst
			}
		default:
			parseErr = fmt.Errorf("parse credentials: user %q: unsupported value", u.Username)
			return false
		}
		if u.Username == "" {
			parseErr = fmt.Errorf("parse credentials: empty username")
			return false
		}
		s.users[u.Username] = u
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return s, nil
}

// Authenticate returns the account when password matches.
func (s *Store) Authenticate(username, password string) (models.User, error) {
	u, ok := s.users[username]
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if !passwordMatches(u.Password, password) {
		return models.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Lookup returns the account for username.
func (s *Store) Lookup(username string) (models.User, bool) {
	u, ok := s.users[username]
	return u, ok
}

// Usernames returns all known usernames, sorted.
func (s *Store) Usernames() []string {
	names := make([]string, 0, len(s.users))
	for n := range s.users {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of accounts.
func (s *Store) Len() int {
	return len(s.users)
}

func passwordMatches(stored, given string) bool {
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
