package storage

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// MockStorageBackend implements interfaces.StorageBackend for testing.
type MockStorageBackend struct {
	mock.Mock
	name string
}

func (m *MockStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	args := m.Called(ctx, id, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	args := m.Called(ctx, data, contentType)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}

func (m *MockStorageBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStorageBackend) Name() string {
	return m.name
}

func (m *MockStorageBackend) LocationURI() string {
	return "mock://" + m.name
}

func TestMultiStorageBackendAvailable(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{
			name:     "all backends available",
			backends: []bool{true, true, true},
			expected: true,
		},
		{
			name:     "one backend available",
			backends: []bool{false, true, false},
			expected: true,
		},
		{
			name:     "no backends available",
			backends: []bool{false, false, false},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.StorageBackend
			for i, available := range tt.backends {
				backend := &MockStorageBackend{name: string(rune('a' + i))}
				backend.On("Available", mock.Anything).Return(available)
				backends = append(backends, backend)
			}

			multi := NewMultiStorageBackend(backends, slog.Default())
			assert.Equal(t, tt.expected, multi.Available(context.Background()), "multi availability should follow members")
		})
	}
}

func TestMultiStorageBackendFetchFallback(t *testing.T) {
	data := []byte("sealed fragment envelope")
	id := interfaces.ComputeID(data)

	broken := &MockStorageBackend{name: "broken"}
	broken.On("Available", mock.Anything).Return(true)
	broken.On("Fetch", mock.Anything, id, interfaces.FragmentType).Return(nil, errors.New("disk error"))

	offline := &MockStorageBackend{name: "offline"}
	offline.On("Available", mock.Anything).Return(false)

	healthy := &MockStorageBackend{name: "healthy"}
	healthy.On("Available", mock.Anything).Return(true)
	healthy.On("Fetch", mock.Anything, id, interfaces.FragmentType).Return(data, nil)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{broken, offline, healthy}, slog.Default())

	fetched, err := multi.Fetch(context.Background(), id, interfaces.FragmentType)
	require.NoError(t, err, "fetch should fall back past failing backends")
	assert.Equal(t, data, fetched)

	broken.AssertExpectations(t)
	healthy.AssertExpectations(t)
	offline.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
}

func TestMultiStorageBackendFetchAllFail(t *testing.T) {
	id := interfaces.ComputeID([]byte("missing"))

	backend := &MockStorageBackend{name: "empty"}
	backend.On("Available", mock.Anything).Return(true)
	backend.On("Fetch", mock.Anything, id, interfaces.ArchiveType).Return(nil, interfaces.ErrContentNotFound)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{backend}, slog.Default())

	_, err := multi.Fetch(context.Background(), id, interfaces.ArchiveType)
	require.Error(t, err, "fetch with no holding backend must fail")
}

func TestMultiStorageBackendStoreAllAvailable(t *testing.T) {
	data := []byte("replicated envelope")
	id := interfaces.ComputeID(data)

	first := &MockStorageBackend{name: "first"}
	first.On("Available", mock.Anything).Return(true)
	first.On("Store", mock.Anything, data, interfaces.FragmentType).Return(id, nil)

	second := &MockStorageBackend{name: "second"}
	second.On("Available", mock.Anything).Return(true)
	second.On("Store", mock.Anything, data, interfaces.FragmentType).Return(id, nil)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{first, second}, slog.Default())

	storedID, err := multi.Store(context.Background(), data, interfaces.FragmentType)
	require.NoError(t, err)
	assert.True(t, id.Equal(storedID), "returned content ID should match the data hash")

	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestMultiStorageBackendStorePartialFailure(t *testing.T) {
	data := []byte("partially replicated envelope")
	id := interfaces.ComputeID(data)

	failing := &MockStorageBackend{name: "failing"}
	failing.On("Available", mock.Anything).Return(true)
	failing.On("Store", mock.Anything, data, interfaces.FragmentType).Return(interfaces.ContentID{}, errors.New("quota exceeded"))

	working := &MockStorageBackend{name: "working"}
	working.On("Available", mock.Anything).Return(true)
	working.On("Store", mock.Anything, data, interfaces.FragmentType).Return(id, nil)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{failing, working}, slog.Default())

	storedID, err := multi.Store(context.Background(), data, interfaces.FragmentType)
	require.NoError(t, err, "store should succeed when at least one backend accepts")
	assert.True(t, id.Equal(storedID))
}

func TestMultiStorageBackendStoreAllFail(t *testing.T) {
	data := []byte("doomed envelope")

	backend := &MockStorageBackend{name: "full"}
	backend.On("Available", mock.Anything).Return(false)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{backend}, slog.Default())

	_, err := multi.Store(context.Background(), data, interfaces.FragmentType)
	require.Error(t, err, "store with no available backend must fail")
}

func TestMemoryBackendRoundtrip(t *testing.T) {
	backend := NewMemoryBackend("test", slog.Default())
	data := []byte("envelope bytes")

	id, err := backend.Store(context.Background(), data, interfaces.FragmentType)
	require.NoError(t, err)

	fetched, err := backend.Fetch(context.Background(), id, interfaces.FragmentType)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)

	// Namespaces are separate: the same ID is absent under the archive type.
	_, err = backend.Fetch(context.Background(), id, interfaces.ArchiveType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestFileBackendRoundtrip(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), slog.Default())
	require.NoError(t, err)

	data := []byte("archived request")
	id, err := backend.Store(context.Background(), data, interfaces.ArchiveType)
	require.NoError(t, err)

	fetched, err := backend.Fetch(context.Background(), id, interfaces.ArchiveType)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)

	_, err = backend.Fetch(context.Background(), interfaces.ComputeID([]byte("never stored")), interfaces.ArchiveType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}
