package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pario-ai/tutor/pkg/models"
)

func TestParseMixedShapes(t *testing.T) {
	s, err := Parse([]byte(`{
		"alice": "p1",
		"bob": {"password": "p2", "institution": "lycee-hugo"},
		"carol": {"password": "p3"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"alice", "bob", "carol"}, s.Usernames())

	alice, ok := s.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, models.DefaultInstitution, alice.Institution)

	bob, _ := s.Lookup("bob")
	assert.Equal(t, "lycee-hugo", bob.Institution)

	carol, _ := s.Lookup("carol")
	assert.Equal(t, models.DefaultInstitution, carol.Institution)
}

func TestAuthenticate(t *testing.T) {
	s, err := Parse([]byte(`{"alice":"p1"}`))
	require.NoError(t, err)

	u, err := s.Authenticate("alice", "p1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = s.Authenticate("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate("mallory", "p1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	s, err := Parse([]byte(`{"dan":{"password":"` + string(hash) + `","institution":"college"}}`))
	require.NoError(t, err)

	u, err := s.Authenticate("dan", "secret")
	require.NoError(t, err)
	assert.Equal(t, "college", u.Institution)

	_, err = s.Authenticate("dan", string(hash))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseRejectsBadInput(t *testing.T) {
	for name, in := range map[string]string{
		"not json":    `{alice:`,
		"array":       `["alice"]`,
		"no password": `{"alice":{"institution":"x"}}`,
		"number":      `{"alice":42}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"alice":"p1"}`), 0600))

	s, err := Load(path)
	require.NoError(t, err)
	_, err = s.Authenticate("alice", "p1")
	assert.NoError(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
