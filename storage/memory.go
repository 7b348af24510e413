package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// MemoryBackend implements a storage backend held entirely in process
// memory. Content does not survive restarts; it exists for tests and for
// ephemeral single-run tooling.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	label       string
	log         *slog.Logger
	locationURI string
}

// NewMemoryBackend creates an empty in-memory storage backend. The label
// distinguishes multiple instances in logs and URIs.
func NewMemoryBackend(label string, log *slog.Logger) *MemoryBackend {
	if label == "" {
		label = "default"
	}
	return &MemoryBackend{
		blobs:       make(map[string][]byte),
		label:       label,
		log:         log,
		locationURI: fmt.Sprintf("memory://%s", label),
	}
}

// Fetch retrieves data by its content identifier and type. Returns
// ErrContentNotFound if nothing was stored under the identifier.
func (b *MemoryBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	b.mu.RLock()
	data, ok := b.blobs[blobKey(id, contentType)]
	b.mu.RUnlock()

	if !ok {
		return nil, interfaces.ErrContentNotFound
	}

	// Copy out so callers cannot mutate the stored blob.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Store saves data and returns its content identifier, the SHA-256 hash
// of the data.
func (b *MemoryBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	stored := make([]byte, len(data))
	copy(stored, data)

	b.mu.Lock()
	b.blobs[blobKey(id, contentType)] = stored
	b.mu.Unlock()

	b.log.Debug("Stored content in memory",
		slog.String("contentID", id.String()),
		slog.Int("size", len(data)))

	return id, nil
}

// Available always reports true; memory is always reachable.
func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *MemoryBackend) Name() string {
	return fmt.Sprintf("memory-%s", b.label)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *MemoryBackend) LocationURI() string {
	return b.locationURI
}

func blobKey(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return contentType.String() + "/" + id.String()
}
