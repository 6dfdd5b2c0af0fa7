// Package credstore persists the single admin credential set: one
// PBKDF2 password hash and one HMAC secret key, in a small JSON file
// beside the site root.
package credstore

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/nanocms/nanocms/internal/xerrors"
)

// DefaultPassword is the bootstrap password written on first run. It is a
// convenience for the operator's first login, not a security boundary;
// the server logs a warning until it is changed.
const DefaultPassword = "admin"

const (
	iterations = 100_000
	saltLen    = 16
	keyLen     = sha256.Size
	secretLen  = 32
)

// Credentials is the on-disk shape of the credential file.
type Credentials struct {
	PasswordHash string `json:"password_hash"`
	SecretKey    string `json:"secret_key"` // hex-encoded
}

// Store owns the credential file and an in-memory copy of its contents.
// All access goes through the mutex: login verification and password
// changes can race from concurrent request handlers.
type Store struct {
	path string

	mu    sync.Mutex
	creds Credentials
}

// Open loads the credential file at path, synthesizing and persisting a
// default credential set when the file is absent or unreadable.
// bootstrapped reports whether defaults were written.
func Open(path string) (s *Store, bootstrapped bool, err error) {
	s = &Store{path: path}

	b, readErr := os.ReadFile(path)
	if readErr == nil {
		var c Credentials
		if json.Unmarshal(b, &c) == nil && c.PasswordHash != "" && validSecret(c.SecretKey) {
			s.creds = c
			return s, false, nil
		}
	}

	c, err := defaults()
	if err != nil {
		return nil, false, err
	}
	s.creds = c
	if err := s.persist(c); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// validSecret requires a decodable, non-empty hex key. A garbage secret
// would otherwise leave the session signer with an empty HMAC key,
// which mints and verifies forgeable tokens.
func validSecret(secretHex string) bool {
	key, err := hex.DecodeString(secretHex)
	return err == nil && len(key) > 0
}

func defaults() (Credentials, error) {
	hash, err := Hash(DefaultPassword)
	if err != nil {
		return Credentials{}, err
	}
	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return Credentials{}, xerrors.Wrap(err, "generating secret key")
	}
	return Credentials{
		PasswordHash: hash,
		SecretKey:    hex.EncodeToString(secret),
	}, nil
}

// Hash derives a password hash with a fresh random salt, encoded as
// hex(salt) ":" hex(derived key).
func Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", xerrors.Wrap(err, "generating salt")
	}
	key := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// Verify re-derives candidate with the stored salt and compares in
// constant time. Any malformed stored value yields false, never an error.
func Verify(stored, candidate string) bool {
	saltHex, hashHex, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := hex.DecodeString(hashHex)
	if err != nil || len(want) == 0 {
		return false
	}
	got := pbkdf2.Key([]byte(candidate), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// VerifyPassword checks candidate against the stored admin password.
func (s *Store) VerifyPassword(candidate string) bool {
	s.mu.Lock()
	stored := s.creds.PasswordHash
	s.mu.Unlock()
	// derivation happens outside the lock; it is deliberately slow
	return Verify(stored, candidate)
}

// SetPassword rehashes and persists the new password. The secret key is
// kept, so outstanding session tokens remain valid.
func (s *Store) SetPassword(newPassword string) error {
	hash, err := Hash(newPassword)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.creds
	next.PasswordHash = hash
	if err := s.persist(next); err != nil {
		return err
	}
	s.creds = next
	return nil
}

// Secret returns the decoded HMAC secret key. Open guarantees the
// stored value decodes.
func (s *Store) Secret() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, err := hex.DecodeString(s.creds.SecretKey)
	if err != nil {
		return nil
	}
	return key
}

// Path returns the credential file location, for the sandbox denylist.
func (s *Store) Path() string { return s.path }

// persist writes the file via temp-then-rename so a crash mid-write
// cannot leave a corrupt credential file behind. Callers hold s.mu.
func (s *Store) persist(c Credentials) error {
	b, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return xerrors.Wrap(err, "encoding credentials")
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".nanocms-*.json")
	if err != nil {
		return xerrors.Wrap(err, "creating credential temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return xerrors.Wrap(err, "writing credential temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrap(err, "closing credential temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrap(err, "replacing credential file")
	}
	return nil
}
