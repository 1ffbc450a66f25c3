package routes

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fnrelay.dev/ferr"
	"fnrelay.dev/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "routes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestNormalizePattern(t *testing.T) {
	require.Equal(t, "/users/*/posts", NormalizePattern("/users/:id/posts"))
	require.Equal(t, "/users/*{[0-9]+}", NormalizePattern("/users/:id{[0-9]+}"))
	require.Equal(t, "/users/*/posts", NormalizePattern("/users/:userID/posts"))
}

func TestStore_AddAndGet(t *testing.T) {
	s := newTestStore(t)
	r, err := s.Add(&Route{Name: "hello", Pattern: "/hello", Methods: []string{"GET"}, Enabled: true})
	require.NoError(t, err)
	require.NotEmpty(t, r.ID)

	got, err := s.GetByID(r.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Name)

	byName, err := s.GetByName("hello")
	require.NoError(t, err)
	require.Equal(t, r.ID, byName.ID)
}

func TestStore_AddRejectsDuplicateName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(&Route{Name: "hello", Pattern: "/hello", Methods: []string{"GET"}})
	require.NoError(t, err)

	_, err = s.Add(&Route{Name: "hello", Pattern: "/other", Methods: []string{"GET"}})
	require.ErrorIs(t, err, ferr.ErrDuplicateRoute)
}

func TestStore_AddRejectsOverlappingPattern(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(&Route{Name: "one", Pattern: "/users/:id", Methods: []string{"GET"}})
	require.NoError(t, err)

	_, err = s.Add(&Route{Name: "two", Pattern: "/users/:userID", Methods: []string{"GET"}})
	require.ErrorIs(t, err, ferr.ErrOverlappingRoute)
}

func TestStore_AddAllowsSamePatternDifferentMethod(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(&Route{Name: "get-user", Pattern: "/users/:id", Methods: []string{"GET"}})
	require.NoError(t, err)

	_, err = s.Add(&Route{Name: "delete-user", Pattern: "/users/:id", Methods: []string{"DELETE"}})
	require.NoError(t, err)
}

func TestStore_RemoveAndSetEnabled(t *testing.T) {
	s := newTestStore(t)
	r, err := s.Add(&Route{Name: "hello", Pattern: "/hello", Methods: []string{"GET"}, Enabled: true})
	require.NoError(t, err)

	require.NoError(t, s.SetEnabled(r.ID, false))
	got, err := s.GetByID(r.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled)

	require.NoError(t, s.Remove(r.ID))
	_, err = s.GetByID(r.ID)
	require.ErrorIs(t, err, ferr.ErrNotFound)
}

func TestStore_RebuildIfNeeded(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	builder := func(all []*Route) error {
		calls++
		return nil
	}

	require.NoError(t, s.RebuildIfNeeded(builder))
	require.Equal(t, 1, calls)

	// Not dirty anymore: no further call.
	require.NoError(t, s.RebuildIfNeeded(builder))
	require.Equal(t, 1, calls)

	_, err := s.Add(&Route{Name: "hello", Pattern: "/hello", Methods: []string{"GET"}})
	require.NoError(t, err)

	require.NoError(t, s.RebuildIfNeeded(builder))
	require.Equal(t, 2, calls)
}
