// Package apikeys implements the API-key store (C5): group→key
// membership with an encrypted secret column and a keyed-hash index so
// authentication is a single indexed lookup rather than a table scan of
// decrypts.
package apikeys

import (
	"fmt"

	"github.com/google/uuid"

	"fnrelay.dev/ferr"
	"fnrelay.dev/security"
	"fnrelay.dev/store"
)

const (
	keysBucket   = "api_keys"
	hashesBucket = "api_key_hashes"
)

// Key is the API key record described by §3.
type Key struct {
	ID              string `json:"id"`
	GroupID         string `json:"group_id"`
	DisplayName     string `json:"display_name"`
	EncryptedSecret string `json:"encrypted_secret"`
	Hash            string `json:"hash"`
	Description     string `json:"description"`
}

// Store persists API keys indexed both by id and by the keyed hash of
// their plaintext secret.
type Store struct {
	db     *store.DB
	engine *security.Engine
	hasher *security.Hasher
}

// New opens the api-key buckets, creating them on first use.
func New(db *store.DB, engine *security.Engine, hasher *security.Hasher) (*Store, error) {
	if err := db.CreateBucket(keysBucket); err != nil {
		return nil, err
	}
	if err := db.CreateBucket(hashesBucket); err != nil {
		return nil, err
	}
	return &Store{db: db, engine: engine, hasher: hasher}, nil
}

// Create encrypts secret, computes its keyed hash, and persists a new row.
func (s *Store) Create(groupID, displayName, secret, description string) (*Key, error) {
	ciphertext, err := s.engine.Encrypt([]byte(secret))
	if err != nil {
		return nil, err
	}
	key := &Key{
		ID:              uuid.NewString(),
		GroupID:         groupID,
		DisplayName:     displayName,
		EncryptedSecret: string(ciphertext),
		Hash:            s.hasher.Hash(secret),
		Description:     description,
	}
	if err := s.db.PutJSON(keysBucket, key.ID, key); err != nil {
		return nil, err
	}
	if err := s.db.PutJSON(hashesBucket, key.Hash, key.ID); err != nil {
		return nil, err
	}
	return key, nil
}

// GetByID returns the key row with the given id.
func (s *Store) GetByID(id string) (*Key, error) {
	var key Key
	if err := s.db.GetJSON(keysBucket, id, &key); err != nil {
		return nil, mapNotFound(err)
	}
	return &key, nil
}

// GetByHash looks up a key by the keyed hash of its plaintext secret — the
// single indexed read authentication uses, independent of table size or
// the key's position within it.
func (s *Store) GetByHash(hash string) (*Key, error) {
	var id string
	if err := s.db.GetJSON(hashesBucket, hash, &id); err != nil {
		return nil, mapNotFound(err)
	}
	return s.GetByID(id)
}

// Authenticate hashes the plaintext secret and returns the matching key,
// or ErrNotFound if no key has that hash.
func (s *Store) Authenticate(secret string) (*Key, error) {
	return s.GetByHash(s.hasher.Hash(secret))
}

// AuthenticateGroup satisfies router.KeyAuthenticator for §4.5 step 5:
// it authenticates the secret and reports the owning key's group id.
func (s *Store) AuthenticateGroup(secret string) (string, error) {
	key, err := s.Authenticate(secret)
	if err != nil {
		return "", err
	}
	return key.GroupID, nil
}

// List returns all persisted keys.
func (s *Store) List() ([]*Key, error) {
	var keys []*Key
	err := s.db.ForEachJSON(keysBucket, func() interface{} { return &Key{} }, func(_ string, value interface{}) error {
		keys = append(keys, value.(*Key))
		return nil
	})
	return keys, err
}

// Delete removes a key by id, including its hash index entry.
func (s *Store) Delete(id string) error {
	key, err := s.GetByID(id)
	if err != nil {
		return err
	}
	if err := s.db.Delete(hashesBucket, key.Hash); err != nil {
		return err
	}
	return s.db.Delete(keysBucket, id)
}

// Rewrite re-encrypts the stored secret under the engine's current key,
// used by C11 to rotate rows whose ciphertext is still at the phased-out
// version. The hash is unaffected since it never depends on key version.
func (s *Store) Rewrite(key *Key) error {
	plaintext, err := s.engine.Decrypt([]byte(key.EncryptedSecret))
	if err != nil {
		return err
	}
	ciphertext, err := s.engine.Encrypt(plaintext)
	if err != nil {
		return err
	}
	key.EncryptedSecret = string(ciphertext)
	return s.db.PutJSON(keysBucket, key.ID, key)
}

// Name identifies this table to C11's static ciphertext-table registry.
func (s *Store) Name() string { return "api_keys" }

// PhasedOutBatch returns up to limit key ids whose encrypted secret is
// still at the engine's phased-out version, satisfying rotation.Table.
func (s *Store) PhasedOutBatch(limit int) ([]string, error) {
	keys, err := s.List()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, key := range keys {
		if s.engine.IsEncryptedWithPhasedOut([]byte(key.EncryptedSecret)) {
			ids = append(ids, key.ID)
			if len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

// RewriteByID re-encrypts one key's secret under the engine's current key,
// satisfying rotation.Table.
func (s *Store) RewriteByID(id string) error {
	key, err := s.GetByID(id)
	if err != nil {
		return err
	}
	return s.Rewrite(key)
}

func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ferr.ErrNotFound, err)
}
