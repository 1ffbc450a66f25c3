// Package secrets implements the secrets store (C6): scoped name→value
// pairs, encrypted at rest, read through a scoped accessor filtered to
// the "global" scope plus the scope of the route currently executing.
package secrets

import (
	"fmt"

	"github.com/google/uuid"

	"fnrelay.dev/ferr"
	"fnrelay.dev/security"
	"fnrelay.dev/store"
)

const bucket = "secrets"

// GlobalScope is the scope visible to every route.
const GlobalScope = "global"

// RouteScope builds the scope identifier for a single route's secrets.
func RouteScope(routeID string) string {
	return "route:" + routeID
}

// Secret is one scoped name→value row.
type Secret struct {
	ID              string `json:"id"`
	Scope           string `json:"scope"`
	Name            string `json:"name"`
	EncryptedValue  string `json:"encrypted_value"`
}

// Store persists secrets keyed by id, encrypting values transparently.
type Store struct {
	db     *store.DB
	engine *security.Engine
}

// New opens the secrets bucket, creating it on first use.
func New(db *store.DB, engine *security.Engine) (*Store, error) {
	if err := db.CreateBucket(bucket); err != nil {
		return nil, err
	}
	return &Store{db: db, engine: engine}, nil
}

// Set creates or overwrites the secret at (scope, name).
func (s *Store) Set(scope, name, value string) (*Secret, error) {
	existing, err := s.findByScopeName(scope, name)
	if err != nil && err != errNotFound {
		return nil, err
	}

	ciphertext, err := s.engine.Encrypt([]byte(value))
	if err != nil {
		return nil, err
	}

	secret := &Secret{
		ID:             name,
		Scope:          scope,
		Name:           name,
		EncryptedValue: string(ciphertext),
	}
	if existing != nil {
		secret.ID = existing.ID
	} else {
		secret.ID = uuid.NewString()
	}
	if err := s.db.PutJSON(bucket, secret.ID, secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// Get decrypts and returns the value at (scope, name).
func (s *Store) Get(scope, name string) (string, error) {
	secret, err := s.findByScopeName(scope, name)
	if err != nil {
		if err == errNotFound {
			return "", fmt.Errorf("%w: %s/%s", ferr.ErrNotFound, scope, name)
		}
		return "", err
	}
	plaintext, err := s.engine.Decrypt([]byte(secret.EncryptedValue))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ferr.ErrDecryption, err)
	}
	return string(plaintext), nil
}

// Delete removes the secret at (scope, name).
func (s *Store) Delete(scope, name string) error {
	secret, err := s.findByScopeName(scope, name)
	if err != nil {
		if err == errNotFound {
			return nil
		}
		return err
	}
	return s.db.Delete(bucket, secret.ID)
}

// Accessor is the scoped secrets accessor C8 builds per request (§4.5 step
// 7), filtered to the global scope plus one route scope.
type Accessor struct {
	store   *Store
	routeID string
}

// ForRoute builds the scoped accessor a request's execution context uses:
// visible names are those at GlobalScope or route:routeID.
func (s *Store) ForRoute(routeID string) *Accessor {
	return &Accessor{store: s, routeID: routeID}
}

// Get resolves name, preferring the route-scoped value over the global one.
func (a *Accessor) Get(name string) (string, error) {
	if value, err := a.store.Get(RouteScope(a.routeID), name); err == nil {
		return value, nil
	}
	return a.store.Get(GlobalScope, name)
}

// List returns every secret visible to this accessor's scope.
func (a *Accessor) List() ([]*Secret, error) {
	return a.store.listByScopes(GlobalScope, RouteScope(a.routeID))
}

// ListAll returns every persisted secret, used by C11 to find rows still
// encrypted with the phased-out key.
func (s *Store) ListAll() ([]*Secret, error) {
	var all []*Secret
	err := s.db.ForEachJSON(bucket, func() interface{} { return &Secret{} }, func(_ string, value interface{}) error {
		all = append(all, value.(*Secret))
		return nil
	})
	return all, err
}

// Rewrite re-encrypts one secret's value under the engine's current key.
func (s *Store) Rewrite(secret *Secret) error {
	plaintext, err := s.engine.Decrypt([]byte(secret.EncryptedValue))
	if err != nil {
		return err
	}
	ciphertext, err := s.engine.Encrypt(plaintext)
	if err != nil {
		return err
	}
	secret.EncryptedValue = string(ciphertext)
	return s.db.PutJSON(bucket, secret.ID, secret)
}

func (s *Store) findByScopeName(scope, name string) (*Secret, error) {
	var found *Secret
	err := s.db.ForEachJSON(bucket, func() interface{} { return &Secret{} }, func(_ string, value interface{}) error {
		secret := value.(*Secret)
		if secret.Scope == scope && secret.Name == name {
			found = secret
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errNotFound
	}
	return found, nil
}

func (s *Store) listByScopes(scopes ...string) ([]*Secret, error) {
	wanted := make(map[string]bool, len(scopes))
	for _, scope := range scopes {
		wanted[scope] = true
	}
	var found []*Secret
	err := s.db.ForEachJSON(bucket, func() interface{} { return &Secret{} }, func(_ string, value interface{}) error {
		secret := value.(*Secret)
		if wanted[secret.Scope] {
			found = append(found, secret)
		}
		return nil
	})
	return found, err
}

// Name identifies this table to C11's static ciphertext-table registry.
func (s *Store) Name() string { return "secrets" }

// PhasedOutBatch returns up to limit secret ids whose value is still
// encrypted with the engine's phased-out key, satisfying rotation.Table.
func (s *Store) PhasedOutBatch(limit int) ([]string, error) {
	all, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, secret := range all {
		if s.engine.IsEncryptedWithPhasedOut([]byte(secret.EncryptedValue)) {
			ids = append(ids, secret.ID)
			if len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

// RewriteByID re-encrypts one secret's value under the engine's current
// key, satisfying rotation.Table.
func (s *Store) RewriteByID(id string) error {
	var secret Secret
	if err := s.db.GetJSON(bucket, id, &secret); err != nil {
		if err == store.ErrKeyNotFound {
			return nil
		}
		return err
	}
	return s.Rewrite(&secret)
}

// errNotFound is an internal sentinel distinguishing "no row" from a
// storage error inside findByScopeName; callers see ferr.ErrNotFound.
var errNotFound = fmt.Errorf("secret not found")
