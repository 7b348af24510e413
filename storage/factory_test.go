package storage

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

func mustLocation(t *testing.T, uri string) interfaces.StorageBackendLocation {
	t.Helper()
	location, err := interfaces.NewStorageBackendLocation(uri)
	require.NoError(t, err, "location %q should parse", uri)
	return location
}

func TestFactoryMemoryBackend(t *testing.T) {
	factory := NewFactory(slog.Default())

	backend, err := factory.StorageBackendFor(mustLocation(t, "memory://primary"))
	require.NoError(t, err)
	assert.Equal(t, "memory-primary", backend.Name())
	assert.True(t, backend.Available(context.Background()))
}

func TestFactoryFileBackend(t *testing.T) {
	factory := NewFactory(slog.Default())
	dir := t.TempDir()

	backend, err := factory.StorageBackendFor(mustLocation(t, "file://"+dir))
	require.NoError(t, err)

	data := []byte("fragment envelope")
	id, err := backend.Store(context.Background(), data, interfaces.FragmentType)
	require.NoError(t, err)

	fetched, err := backend.Fetch(context.Background(), id, interfaces.FragmentType)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)
}

func TestFactoryUnsupportedScheme(t *testing.T) {
	_, err := interfaces.NewStorageBackendLocation("gopher://example.com/fragments")
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI, "unsupported schemes are rejected at parse time")
}

func TestFactoryVaultURIRequiresMountAndPath(t *testing.T) {
	factory := NewFactory(slog.Default())

	_, err := factory.StorageBackendFor(mustLocation(t, "vault://token@vault.example.com:8200/secret"))
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI, "vault URI without a data path is invalid")
}

func TestFactoryMultiBackend(t *testing.T) {
	factory := NewFactory(slog.Default())

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
		mustLocation(t, "memory://one"),
		mustLocation(t, "memory://two"),
	})
	require.NoError(t, err)

	data := []byte("replicated envelope")
	id, err := multi.Store(context.Background(), data, interfaces.FragmentType)
	require.NoError(t, err)

	fetched, err := multi.Fetch(context.Background(), id, interfaces.FragmentType)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)

	assert.Contains(t, multi.LocationURI(), "memory://one")
	assert.Contains(t, multi.LocationURI(), "memory://two")
}

func TestFactoryMultiBackendNoValidLocations(t *testing.T) {
	factory := NewFactory(slog.Default())

	_, err := factory.CreateMultiBackend(nil)
	require.Error(t, err, "multi-backend with no members is useless and must fail")
}
