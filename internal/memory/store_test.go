package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/roshambo/internal/types"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	fileBackend, err := NewFileBackend(filepath.Join(t.TempDir(), "memory"))
	require.NoError(t, err)

	sqliteBackend, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "roshambo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteBackend.Close() })

	return map[string]Backend{
		"map":    NewMapBackend(),
		"file":   fileBackend,
		"sqlite": sqliteBackend,
	}
}

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := backend.Get(ctx, "p1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, backend.Put(ctx, "p2", []byte(`{"playCount":2}`)))
			require.NoError(t, backend.Put(ctx, "p1", []byte(`{"playCount":1}`)))
			require.NoError(t, backend.Put(ctx, "p1", []byte(`{"playCount":3}`)))

			data, err := backend.Get(ctx, "p1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"playCount":3}`, string(data))

			keys, err := backend.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"p1", "p2"}, keys)

			require.NoError(t, backend.Delete(ctx, "p1"))
			assert.ErrorIs(t, backend.Delete(ctx, "p1"), ErrNotFound)
			_, err = backend.Get(ctx, "p1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreRoundTripsFullRecord(t *testing.T) {
	city := "Lisbon"
	playedAt := time.Date(2026, 5, 4, 10, 30, 15, 0, time.UTC)
	want := types.PlayerMemory{
		PlayCount:          7,
		LastEnding:         types.EndingEscaped,
		PermissionsGranted: []types.PermissionType{types.PermissionGeolocation, types.PermissionNotification},
		PermissionsDenied:  []types.PermissionType{types.PermissionMicrophone, types.PermissionCamera},
		KnownCity:          &city,
		LastPlayedAt:       &playedAt,
		AbandonmentCount:   3,
	}

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			NewStore(backend, "p1", nil).Save(want)

			got := NewStore(backend, "p1", nil).Load()
			assert.Equal(t, want, got)
			require.NotNil(t, got.LastPlayedAt)
			assert.True(t, playedAt.Equal(*got.LastPlayedAt))
		})
	}
}

func TestSQLiteMigrationsApplyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roshambo.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Put(context.Background(), "p1", []byte(`{}`)))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	keys, err := second.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, keys)
}

func TestFileBackendRejectsTraversal(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, backend.Put(context.Background(), "../escape", []byte(`{}`)))
	_, err = backend.Get(context.Background(), "")
	assert.Error(t, err)
}

func TestStoreLoadDefaultsWhenEmpty(t *testing.T) {
	store := NewStore(NewMapBackend(), "p1", nil)

	memory := store.Load()
	assert.Equal(t, types.DefaultPlayerMemory(), memory)
	assert.NotNil(t, memory.PermissionsGranted)
	assert.NotNil(t, memory.PermissionsDenied)
}

func TestStoreLoadCorruptYieldsDefaults(t *testing.T) {
	backend := NewMapBackend()
	require.NoError(t, backend.Put(context.Background(), "p1", []byte(`{{{not json`)))

	store := NewStore(backend, "p1", nil)
	assert.Equal(t, types.DefaultPlayerMemory(), store.Load())
}

func TestStoreLoadMergesPartialRecord(t *testing.T) {
	backend := NewMapBackend()
	require.NoError(t, backend.Put(context.Background(), "p1", []byte(`{"playCount":4,"permissionsGranted":["camera","camera","bogus"]}`)))

	memory := NewStore(backend, "p1", nil).Load()
	assert.Equal(t, 4, memory.PlayCount)
	assert.Equal(t, []types.PermissionType{types.PermissionCamera}, memory.PermissionsGranted)
	assert.Empty(t, memory.PermissionsDenied)
	assert.NotNil(t, memory.PermissionsDenied)
	assert.Equal(t, types.EndingNone, memory.LastEnding)
	assert.Nil(t, memory.KnownCity)
}

func TestStoreUpdatePersists(t *testing.T) {
	backend := NewMapBackend()
	store := NewStore(backend, "p1", nil)

	updated := store.Update(func(m *types.PlayerMemory) {
		m.AbandonmentCount++
	})
	assert.Equal(t, 1, updated.AbandonmentCount)

	store.Update(func(m *types.PlayerMemory) {
		m.AbandonmentCount++
	})
	assert.Equal(t, 2, NewStore(backend, "p1", nil).Load().AbandonmentCount)
}

func TestStoreClear(t *testing.T) {
	store := NewStore(NewMapBackend(), "p1", nil)
	store.Save(types.PlayerMemory{PlayCount: 3})
	assert.Equal(t, 3, store.Load().PlayCount)

	store.Clear()
	assert.Equal(t, types.DefaultPlayerMemory(), store.Load())

	// clearing twice is fine
	store.Clear()
}

type failingBackend struct {
	MapBackend
}

func (*failingBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("quota exceeded")
}

func (*failingBackend) Put(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

func TestStoreSwallowsBackendFailures(t *testing.T) {
	store := NewStore(&failingBackend{}, "p1", nil)

	assert.NotPanics(t, func() {
		store.Save(types.PlayerMemory{PlayCount: 1})
		memory := store.Update(func(m *types.PlayerMemory) { m.PlayCount = 9 })
		assert.Equal(t, 9, memory.PlayCount)
	})
	assert.Equal(t, types.DefaultPlayerMemory(), store.Load())
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "memory")
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	NewStore(backend, "p1", nil).Save(types.PlayerMemory{PlayCount: 2, LastEnding: types.EndingBroken})

	_, err = os.Stat(filepath.Join(dir, "p1.json"))
	require.NoError(t, err)

	reopened, err := NewFileBackend(dir)
	require.NoError(t, err)
	memory := NewStore(reopened, "p1", nil).Load()
	assert.Equal(t, 2, memory.PlayCount)
	assert.Equal(t, types.EndingBroken, memory.LastEnding)
}

func TestMergeSession(t *testing.T) {
	memory := types.DefaultPlayerMemory()
	memory.PlayCount = 1
	memory.PermissionsGranted = []types.PermissionType{types.PermissionNotification}
	memory.PermissionsDenied = []types.PermissionType{types.PermissionCamera, types.PermissionMicrophone}

	history := []types.PermissionHistoryEntry{
		{Type: types.PermissionNotification, Status: types.PermissionDenied},
		{Type: types.PermissionCamera, Status: types.PermissionGranted},
		{Type: types.PermissionGeolocation, Status: types.PermissionGranted, Data: "Lisbon"},
		{Type: types.PermissionCamera, Status: types.PermissionGranted},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	MergeSession(&memory, history, types.EndingEscaped, now)

	assert.Equal(t, 2, memory.PlayCount)
	assert.Equal(t, types.EndingEscaped, memory.LastEnding)
	require.NotNil(t, memory.LastPlayedAt)
	assert.True(t, now.Equal(*memory.LastPlayedAt))
	assert.Equal(t, "Lisbon", memory.City())
	assert.ElementsMatch(t, []types.PermissionType{types.PermissionCamera, types.PermissionGeolocation}, memory.PermissionsGranted)
	assert.ElementsMatch(t, []types.PermissionType{types.PermissionMicrophone, types.PermissionNotification}, memory.PermissionsDenied)
}

func TestMergeSessionKeepsCityWithoutGeoData(t *testing.T) {
	memory := types.DefaultPlayerMemory()
	city := "Porto"
	memory.KnownCity = &city

	MergeSession(&memory, []types.PermissionHistoryEntry{
		{Type: types.PermissionGeolocation, Status: types.PermissionDenied},
	}, types.EndingBroken, time.Now())

	assert.Equal(t, "Porto", memory.City())
	assert.Equal(t, []types.PermissionType{types.PermissionGeolocation}, memory.PermissionsDenied)
}

func TestOpenDrivers(t *testing.T) {
	backend, err := Open("memory", "", "")
	require.NoError(t, err)
	assert.IsType(t, &MapBackend{}, backend)

	backend, err = Open("file", "", filepath.Join(t.TempDir(), "m"))
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	_, err = Open("redis", "", "")
	assert.Error(t, err)
}
