package secrets

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fnrelay.dev/security"
	"fnrelay.dev/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "secrets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kf, err := security.LoadOrInitialize(filepath.Join(t.TempDir(), "keyfile.json"))
	require.NoError(t, err)
	engine, err := kf.Engine()
	require.NoError(t, err)

	s, err := New(db, engine)
	require.NoError(t, err)
	return s
}

func TestStore_SetThenGet(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Set(GlobalScope, "API_TOKEN", "abc123")
	require.NoError(t, err)

	value, err := s.Get(GlobalScope, "API_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "abc123", value)
}

func TestStore_SetOverwritesExisting(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Set(GlobalScope, "API_TOKEN", "first")
	require.NoError(t, err)
	_, err = s.Set(GlobalScope, "API_TOKEN", "second")
	require.NoError(t, err)

	value, err := s.Get(GlobalScope, "API_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "second", value)

	all, err := s.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_GetMissingReturnsError(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(GlobalScope, "MISSING")
	assert.Error(t, err)
}

func TestAccessor_PrefersRouteScopeOverGlobal(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Set(GlobalScope, "KEY", "global-value")
	require.NoError(t, err)
	_, err = s.Set(RouteScope("route-1"), "KEY", "route-value")
	require.NoError(t, err)

	accessor := s.ForRoute("route-1")
	value, err := accessor.Get("KEY")
	require.NoError(t, err)
	assert.Equal(t, "route-value", value)

	other := s.ForRoute("route-2")
	value, err = other.Get("KEY")
	require.NoError(t, err)
	assert.Equal(t, "global-value", value)
}

func TestAccessor_List(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Set(GlobalScope, "A", "1")
	require.NoError(t, err)
	_, err = s.Set(RouteScope("route-1"), "B", "2")
	require.NoError(t, err)
	_, err = s.Set(RouteScope("route-2"), "C", "3")
	require.NoError(t, err)

	accessor := s.ForRoute("route-1")
	found, err := accessor.List()
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Set(GlobalScope, "KEY", "value")
	require.NoError(t, err)
	require.NoError(t, s.Delete(GlobalScope, "KEY"))

	_, err = s.Get(GlobalScope, "KEY")
	assert.Error(t, err)
}
