package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/scan"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGet(t *testing.T) {
	store := openTestStore(t)

	p := &Profile{
		Name: "receipts",
		Options: scan.Options{
			Source:     scan.SourceFeeder,
			Resolution: 200,
			ColorMode:  scan.ColorModeGrayscale,
		},
	}
	require.NoError(t, store.Save(p))
	assert.False(t, p.UpdatedAt.IsZero(), "UpdatedAt not stamped on save")

	got, err := store.Get("receipts")
	require.NoError(t, err)
	assert.Equal(t, scan.SourceFeeder, got.Options.Source)
	assert.Equal(t, 200, got.Options.Resolution)
	assert.Equal(t, scan.ColorModeGrayscale, got.Options.ColorMode)
}

func TestSaveOverwrites(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save(&Profile{Name: "x", Options: scan.Options{Resolution: 100}}))
	require.NoError(t, store.Save(&Profile{Name: "x", Options: scan.Options{Resolution: 600}}))

	got, err := store.Get("x")
	require.NoError(t, err)
	assert.Equal(t, 600, got.Options.Resolution)

	profiles, err := store.List()
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func TestSaveEmptyName(t *testing.T) {
	store := openTestStore(t)
	assert.Error(t, store.Save(&Profile{}))
}

func TestGetNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdered(t *testing.T) {
	store := openTestStore(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, store.Save(&Profile{Name: name}))
	}

	profiles, err := store.List()
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	// bbolt iterates in key order.
	names := []string{profiles[0].Name, profiles[1].Name, profiles[2].Name}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save(&Profile{Name: "gone"}))
	require.NoError(t, store.Delete("gone"))

	_, err := store.Get("gone")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing profile is not an error.
	assert.NoError(t, store.Delete("never-existed"))
}

func TestDefaultProfile(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetDefault()
	assert.ErrorIs(t, err, ErrNoDefault)

	require.NoError(t, store.Save(&Profile{Name: "everyday", Options: scan.Options{Resolution: 300}}))
	require.NoError(t, store.SetDefault("everyday"))

	got, err := store.GetDefault()
	require.NoError(t, err)
	assert.Equal(t, "everyday", got.Name)
	assert.Equal(t, 300, got.Options.Resolution)

	// Only saved profiles can be the default.
	assert.ErrorIs(t, store.SetDefault("missing"), ErrNotFound)

	// Deleting the default clears the designation.
	require.NoError(t, store.Delete("everyday"))
	_, err = store.GetDefault()
	assert.ErrorIs(t, err, ErrNoDefault)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(&Profile{Name: "durable", Options: scan.Options{Resolution: 400}}))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("durable")
	require.NoError(t, err)
	assert.Equal(t, 400, got.Options.Resolution)
}
