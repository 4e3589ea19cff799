// Package credentials owns the admin login records kept in the settings
// store: the store-wide salt, the bootstrap administrator and password
// changes.
package credentials

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pavelaron/pi-extender/internal/auth/hash"
	"github.com/pavelaron/pi-extender/internal/store"
)

const (
	SaltKey         = store.KeySalt
	SaltLength      = 10
	DefaultUsername = "admin"
	DefaultPassword = "changeme"
)

const saltAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	ErrInvalidUsername = errors.New("credentials: invalid username")
	ErrEmptyPassword   = errors.New("credentials: empty password")
)

var reserved = map[string]struct{}{
	store.KeySalt:           {},
	store.KeySourceSSID:     {},
	store.KeySourcePassword: {},
	store.KeyAPSSID:         {},
	store.KeyAPPassword:     {},
	store.KeyAPInterface:    {},
}

// ValidUsername rejects empty names and names that would collide with
// settings keys.
func ValidUsername(u string) bool {
	if strings.TrimSpace(u) == "" || strings.HasPrefix(u, "keys::") {
		return false
	}
	_, taken := reserved[u]
	return !taken
}

type Service struct {
	store store.Store
	log   zerolog.Logger
}

func New(s store.Store, log zerolog.Logger) *Service {
	return &Service{store: s, log: log.With().Str("component", "credentials").Logger()}
}

// Salt returns the persisted salt, creating and flushing one on first use.
// Two first-time callers racing may each write a salt; the last write wins.
func (s *Service) Salt() (string, error) {
	v, ok, err := store.GetString(s.store, SaltKey)
	if err != nil {
		return "", err
	}
	if ok {
		return v, nil
	}
	salt, err := GenerateSalt()
	if err != nil {
		return "", err
	}
	if err := s.store.Set(SaltKey, []byte(salt)); err != nil {
		return "", err
	}
	if err := s.store.Flush(); err != nil {
		return "", err
	}
	s.log.Info().Msg("generated credential salt")
	return salt, nil
}

// GenerateSalt returns SaltLength random alphanumeric characters.
func GenerateSalt() (string, error) {
	b := make([]byte, SaltLength)
	limit := big.NewInt(int64(len(saltAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate salt: %w", err)
		}
		b[i] = saltAlphabet[n.Int64()]
	}
	return string(b), nil
}

func HashPassword(password, salt string) (string, error) {
	return hash.HashPassword(password, []byte(salt))
}

// Authenticate checks username/password against the stored record.
//
// When username has no record the default administrator is bootstrapped
// under DefaultUsername (not under username) if that record is missing.
// An existing admin record is never reset to the default password.
// The result is false, without error, when username still has no record.
//
// Records that do not match the current salt and parameters byte for byte
// are verified against the salt and parameters encoded in them.
func (s *Service) Authenticate(username, password string) (bool, error) {
	if !ValidUsername(username) {
		return false, nil
	}
	salt, err := s.Salt()
	if err != nil {
		return false, err
	}
	has, err := s.store.Has(username)
	if err != nil {
		return false, err
	}
	if !has {
		if err := s.bootstrapAdmin(salt); err != nil {
			return false, err
		}
	}
	stored, ok, err := store.GetString(s.store, username)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Debug().Str("user", username).Msg("login for unknown user")
		return false, nil
	}
	got, err := HashPassword(password, salt)
	if err != nil {
		return false, err
	}
	if hash.Equal(stored, got) {
		return true, nil
	}
	return hash.VerifyPassword(stored, password), nil
}

func (s *Service) bootstrapAdmin(salt string) error {
	exists, err := s.store.Has(DefaultUsername)
	if err != nil || exists {
		return err
	}
	h, err := HashPassword(DefaultPassword, salt)
	if err != nil {
		return err
	}
	if err := s.store.Set(DefaultUsername, []byte(h)); err != nil {
		return err
	}
	if err := s.store.Flush(); err != nil {
		return err
	}
	s.log.Warn().Str("user", DefaultUsername).Msg("bootstrapped default administrator; change its password")
	return nil
}

// SetCredential stores password for username. When the signed-in account
// (current) is renamed, its old record is rewritten with the new hash too,
// so the previous password stops working under either name.
func (s *Service) SetCredential(current, username, password string) error {
	if !ValidUsername(username) {
		return ErrInvalidUsername
	}
	if password == "" {
		return ErrEmptyPassword
	}
	salt, err := s.Salt()
	if err != nil {
		return err
	}
	h, err := HashPassword(password, salt)
	if err != nil {
		return err
	}
	var b store.Batch
	b.SetString(username, h)
	if current != "" && current != username && ValidUsername(current) {
		b.SetString(current, h)
	}
	if err := s.store.Apply(&b); err != nil {
		return err
	}
	if err := s.store.Flush(); err != nil {
		return err
	}
	s.log.Info().Str("user", username).Msg("credential updated")
	return nil
}
