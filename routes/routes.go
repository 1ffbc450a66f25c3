// Package routes implements the persistent route table described in §4.4:
// route rows plus an in-memory dirty flag and rebuild mutex, so the
// function router (package router) can rebuild its dispatch tree from
// storage only when something actually changed.
package routes

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"fnrelay.dev/ferr"
	"fnrelay.dev/store"
)

const bucketName = "routes"

// CORSConfig mirrors the optional per-route CORS configuration named in §3.
type CORSConfig struct {
	AllowOrigins []string `json:"allow_origins"`
	AllowMethods []string `json:"allow_methods"`
	AllowHeaders []string `json:"allow_headers"`
}

// Route is a persistent row as described in §3's "Route record".
type Route struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	HandlerPath string      `json:"handler_path"`
	Pattern     string      `json:"pattern"`
	Methods     []string    `json:"methods"`
	KeyGroups   []string    `json:"key_groups,omitempty"`
	CORS        *CORSConfig `json:"cors,omitempty"`
	Enabled     bool        `json:"enabled"`
}

// Store is the route registry (C7): storage plus the dirty flag and
// rebuild mutex that let C8 rebuild its dispatch tree cheaply.
type Store struct {
	db *store.DB

	rebuildMu sync.Mutex
	dirty     int32
}

// New opens the routes bucket. The dirty flag starts true so the first
// call to RebuildIfNeeded always builds the tree, per §4.4 state.
func New(db *store.DB) (*Store, error) {
	if err := db.CreateBucket(bucketName); err != nil {
		return nil, err
	}
	return &Store{db: db, dirty: 1}, nil
}

// GetAll returns every row, enabled or not. Unlocked: storage supports
// concurrent readers.
func (s *Store) GetAll() ([]*Route, error) {
	var all []*Route
	err := s.db.ForEachJSON(bucketName, func() interface{} { return &Route{} }, func(_ string, value interface{}) error {
		all = append(all, value.(*Route))
		return nil
	})
	return all, err
}

// GetByID returns a single row by id.
func (s *Store) GetByID(id string) (*Route, error) {
	var r Route
	if err := s.db.GetJSON(bucketName, id, &r); err != nil {
		return nil, mapNotFound(err)
	}
	return &r, nil
}

// GetByName returns a single row by its unique name.
func (s *Store) GetByName(name string) (*Route, error) {
	all, err := s.GetAll()
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, ferr.ErrNotFound
}

// Add validates uniqueness and inserts a new row, per §4.4's write API.
func (s *Store) Add(r *Route) (*Route, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	all, err := s.GetAll()
	if err != nil {
		return nil, err
	}
	if err := validateUnique(all, r, ""); err != nil {
		return nil, err
	}

	r.ID = uuid.New().String()
	if err := s.db.PutJSON(bucketName, r.ID, r); err != nil {
		return nil, err
	}
	atomic.StoreInt32(&s.dirty, 1)
	return r, nil
}

// Update replaces an existing row by id, re-validating uniqueness against
// every other row.
func (s *Store) Update(id string, updated *Route) (*Route, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	if _, err := s.GetByID(id); err != nil {
		return nil, err
	}

	all, err := s.GetAll()
	if err != nil {
		return nil, err
	}
	if err := validateUnique(all, updated, id); err != nil {
		return nil, err
	}

	updated.ID = id
	if err := s.db.PutJSON(bucketName, id, updated); err != nil {
		return nil, err
	}
	atomic.StoreInt32(&s.dirty, 1)
	return updated, nil
}

// Remove deletes a row by id.
func (s *Store) Remove(id string) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	if _, err := s.GetByID(id); err != nil {
		return err
	}
	if err := s.db.Delete(bucketName, id); err != nil {
		return err
	}
	atomic.StoreInt32(&s.dirty, 1)
	return nil
}

// SetEnabled flips a row's enabled flag without touching anything else.
func (s *Store) SetEnabled(id string, enabled bool) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	r, err := s.GetByID(id)
	if err != nil {
		return err
	}
	r.Enabled = enabled
	if err := s.db.PutJSON(bucketName, id, r); err != nil {
		return err
	}
	atomic.StoreInt32(&s.dirty, 1)
	return nil
}

// RebuildIfNeeded implements §4.4's rebuild coordination: a fast,
// lock-free return when the tree is already current, otherwise a
// mutex-guarded rebuild that shares the same lock as every write so no
// write can start mid-rebuild and no rebuild can start mid-write.
func (s *Store) RebuildIfNeeded(builder func([]*Route) error) error {
	if atomic.LoadInt32(&s.dirty) == 0 {
		return nil
	}
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	if atomic.LoadInt32(&s.dirty) == 0 {
		return nil
	}
	all, err := s.GetAll()
	if err != nil {
		return err
	}
	if err := builder(all); err != nil {
		return err
	}
	atomic.StoreInt32(&s.dirty, 0)
	return nil
}

func validateUnique(all []*Route, candidate *Route, excludeID string) error {
	normalized := NormalizePattern(candidate.Pattern)
	for _, existing := range all {
		if existing.ID == excludeID {
			continue
		}
		if existing.Name == candidate.Name {
			return fmt.Errorf("%w: %s", ferr.ErrDuplicateRoute, candidate.Name)
		}
		existingNormalized := NormalizePattern(existing.Pattern)
		for _, method := range candidate.Methods {
			for _, existingMethod := range existing.Methods {
				if method == existingMethod && normalized == existingNormalized {
					return fmt.Errorf("%w: %s %s", ferr.ErrOverlappingRoute, method, candidate.Pattern)
				}
			}
		}
	}
	return nil
}

var paramSegment = regexp.MustCompile(`^:[^{}/]+(\{(.*)\})?$`)

// NormalizePattern turns every `:name` or `:name{regex}` path parameter
// into `*` or `*{regex}` respectively, leaving literal segments verbatim,
// so two patterns that differ only in parameter names collide as §4.4
// requires.
func NormalizePattern(pattern string) string {
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if m := paramSegment.FindStringSubmatch(seg); m != nil {
			if m[2] != "" {
				segments[i] = "*{" + m[2] + "}"
			} else {
				segments[i] = "*"
			}
		}
	}
	return strings.Join(segments, "/")
}

func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	return ferr.ErrNotFound
}
