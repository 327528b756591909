package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/harbor/internal/harborerr"
)

const masterKeyLen = 32 // AES-256

// CredentialKind distinguishes how a stored secret is used.
type CredentialKind string

const (
	CredentialAPIKey      CredentialKind = "api_key"
	CredentialPassword    CredentialKind = "password"
	CredentialOAuthToken  CredentialKind = "oauth_token"
)

// SecretStore encrypts Credential values at rest with AES-256-GCM under a
// master key persisted at keyPath, and indexes them by (serverID, key) in a
// SQLite table shared with the Catalog's database. Generates the master key
// on first use.
type SecretStore struct {
	mu        sync.RWMutex
	masterKey []byte
	db        *sql.DB
}

// OpenSecretStore loads (or generates) the master key at keyPath and opens
// the credential table in the database at dbPath.
func OpenSecretStore(dbPath, keyPath string) (*SecretStore, error) {
	key, err := loadOrGenerateMasterKey(keyPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "create secret store directory")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "open secret store database")
	}

	s := &SecretStore{masterKey: key, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func loadOrGenerateMasterKey(keyPath string) ([]byte, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		if len(data) != masterKeyLen {
			return nil, harborerr.Newf(harborerr.Internal, "master key at %s has invalid length %d (expected %d)", keyPath, len(data), masterKeyLen)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, harborerr.Wrap(harborerr.Internal, err, "read master key")
	}

	key := make([]byte, masterKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "generate master key")
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "create key directory")
	}
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "write master key")
	}
	return key, nil
}

// Close closes the underlying database handle.
func (s *SecretStore) Close() error {
	return s.db.Close()
}

func (s *SecretStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			server_id  TEXT NOT NULL,
			key        TEXT NOT NULL,
			kind       TEXT NOT NULL DEFAULT 'api_key',
			value      BLOB NOT NULL,
			expires_at TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (server_id, key)
		)
	`)
	if err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "migrate credentials")
	}
	return nil
}

func (s *SecretStore) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "create GCM")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "generate nonce")
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *SecretStore) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "create GCM")
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, harborerr.New(harborerr.Internal, "ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "decrypt credential")
	}
	return plaintext, nil
}

// PutCredential encrypts and stores value under (serverID, key), replacing
// any existing entry.
func (s *SecretStore) PutCredential(serverID, key string, kind CredentialKind, value string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ciphertext, err := s.encrypt([]byte(value))
	if err != nil {
		return err
	}

	var expiresStr string
	if !expiresAt.IsZero() {
		expiresStr = expiresAt.Format(time.RFC3339)
	}

	_, err = s.db.Exec(`
		INSERT INTO credentials (server_id, key, kind, value, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(server_id, key) DO UPDATE SET
			kind = excluded.kind, value = excluded.value, expires_at = excluded.expires_at
	`, serverID, key, string(kind), ciphertext, expiresStr)
	if err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "store credential")
	}
	return nil
}

// GetCredential decrypts and returns the stored value for (serverID, key).
// The second return is false when no credential is stored or it has
// expired.
func (s *SecretStore) GetCredential(serverID, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT value, expires_at FROM credentials WHERE server_id = ? AND key = ?`, serverID, key)
	var ciphertext []byte
	var expiresStr string
	if err := row.Scan(&ciphertext, &expiresStr); err != nil {
		return "", false
	}
	if expiresStr != "" {
		if expiresAt, err := time.Parse(time.RFC3339, expiresStr); err == nil && time.Now().After(expiresAt) {
			return "", false
		}
	}

	plaintext, err := s.decrypt(ciphertext)
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}

// DeleteCredential removes the (serverID, key) entry, if any.
func (s *SecretStore) DeleteCredential(serverID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM credentials WHERE server_id = ? AND key = ?`, serverID, key)
	if err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "delete credential")
	}
	return nil
}

// DeleteServerCredentials removes every credential for serverID, called on
// server uninstall per the Installed Server/Credential ownership invariant.
func (s *SecretStore) DeleteServerCredentials(serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM credentials WHERE server_id = ?`, serverID)
	if err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "delete server credentials")
	}
	return nil
}

// --- llmmanager.SecretStore adapter ---
//
// The LLM Manager keys credentials only by a provider id (its CredentialRef
// string), with no separate key name. The adapter LLMCredentials returns maps that
// single-string interface onto the (serverID, key) schema above by using a
// fixed key name under the provider id as the "server".

const llmCredentialKey = "api_key"

// LLMCredentials returns a llmmanager.SecretStore view of this store, so a
// single encrypted table backs both MCP server credentials and LLM provider
// API keys.
func (s *SecretStore) LLMCredentials() llmCredentialAdapter {
	return llmCredentialAdapter{store: s}
}

type llmCredentialAdapter struct {
	store *SecretStore
}

func (a llmCredentialAdapter) Get(ref string) (string, bool) {
	return a.store.GetCredential(ref, llmCredentialKey)
}

func (a llmCredentialAdapter) Set(ref, value string) error {
	return a.store.PutCredential(ref, llmCredentialKey, CredentialAPIKey, value, time.Time{})
}

func (a llmCredentialAdapter) Delete(ref string) error {
	return a.store.DeleteCredential(ref, llmCredentialKey)
}
