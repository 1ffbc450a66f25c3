// Package settings implements the settings store (C4): a key→string map
// over a typed allowlist of recognized names, with optional per-key
// encryption and a live log-level refresh. It is modeled the way the
// teacher's embedded-store packages layer a typed API over a single bbolt
// bucket.
package settings

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/viper"

	"fnrelay.dev/config"
	"fnrelay.dev/ferr"
	"fnrelay.dev/security"
	"fnrelay.dev/store"
)

const bucketName = "settings"

// Store is the settings table described by §3/§4.11. Unpersisted names
// fall back to defaults resolved by a viper instance seeded from
// config.SettingDefaults and overridable by FNRELAY_-prefixed environment
// variables. A value persisted through Set takes precedence over both.
type Store struct {
	db       *store.DB
	engine   *security.Engine
	defaults *viper.Viper
	mu       sync.Mutex
}

// New opens the settings bucket, creating it on first use.
func New(db *store.DB, engine *security.Engine) (*Store, error) {
	if err := db.CreateBucket(bucketName); err != nil {
		return nil, err
	}
	return &Store{db: db, engine: engine, defaults: config.NewViper()}, nil
}

// record is the on-disk shape for one setting row.
type record struct {
	Value string `json:"value"`
}

// Get returns the current value for name, falling back to its typed
// default when no override has been persisted. Returns ErrUnknownSetting
// when name is not in the recognized allowlist.
func (s *Store) Get(name string) (string, error) {
	if _, ok := config.SettingDefaults[name]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSetting, name)
	}

	var rec record
	err := s.db.GetJSON(bucketName, name, &rec)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return s.defaults.GetString(name), nil
		}
		return "", err
	}

	if !config.EncryptedSettingNames[name] {
		return rec.Value, nil
	}
	plaintext, err := s.engine.Decrypt([]byte(rec.Value))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ferr.ErrDecryption, err)
	}
	return string(plaintext), nil
}

// Set persists value for name, transparently encrypting it first when name
// is marked encrypted in the allowlist.
func (s *Store) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := config.SettingDefaults[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, name)
	}

	stored := value
	if config.EncryptedSettingNames[name] {
		ciphertext, err := s.engine.Encrypt([]byte(value))
		if err != nil {
			return err
		}
		stored = string(ciphertext)
	}
	return s.db.PutJSON(bucketName, name, record{Value: stored})
}

// EncryptedNames returns every allowlisted name marked encrypted, whether
// or not it has a persisted value; C11 uses it to enumerate rows that may
// need rotation.
func (s *Store) EncryptedNames() []string {
	var names []string
	for name, encrypted := range config.EncryptedSettingNames {
		if encrypted {
			names = append(names, name)
		}
	}
	return names
}

// RewriteName re-encrypts the persisted value for name (if any) under the
// engine's current key. A no-op when name has no persisted override.
func (s *Store) RewriteName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec record
	err := s.db.GetJSON(bucketName, name, &rec)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	plaintext, err := s.engine.Decrypt([]byte(rec.Value))
	if err != nil {
		return err
	}
	ciphertext, err := s.engine.Encrypt(plaintext)
	if err != nil {
		return err
	}
	rec.Value = string(ciphertext)
	return s.db.PutJSON(bucketName, name, rec)
}

// Name identifies this table to C11's static ciphertext-table registry.
func (s *Store) Name() string { return "settings" }

// PhasedOutBatch returns up to limit persisted encrypted-setting names
// still encrypted with the engine's phased-out key, satisfying
// rotation.Table for C11's REWRITING loop.
func (s *Store) PhasedOutBatch(limit int) ([]string, error) {
	var names []string
	for _, name := range s.EncryptedNames() {
		var rec record
		err := s.db.GetJSON(bucketName, name, &rec)
		if err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		if s.engine.IsEncryptedWithPhasedOut([]byte(rec.Value)) {
			names = append(names, name)
			if len(names) >= limit {
				break
			}
		}
	}
	return names, nil
}

// RewriteByID re-encrypts the named setting under the engine's current
// key, satisfying rotation.Table.
func (s *Store) RewriteByID(id string) error {
	return s.RewriteName(id)
}

// ErrUnknownSetting is returned for names outside the recognized allowlist.
var ErrUnknownSetting = fmt.Errorf("unknown setting name")
