package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps blobs in a map. It backs tests and local
// development; production uses S3Store.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	baseURL string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		baseURL: baseURL,
	}
}

func (m *MemoryStore) Put(ctx context.Context, name string, content io.Reader, size int64) (*Object, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	key := path.Join("uploads", uuid.New().String(), name)

	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()

	return &Object{
		URL:      m.baseURL + "/" + key,
		Pathname: key,
		Size:     int64(len(data)),
	}, nil
}

func (m *MemoryStore) Head(ctx context.Context, pathname string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[pathname]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return &Object{
		URL:      m.baseURL + "/" + pathname,
		Pathname: pathname,
		Size:     int64(len(data)),
	}, nil
}

func (m *MemoryStore) Delete(ctx context.Context, pathname string) error {
	m.mu.Lock()
	delete(m.objects, pathname)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DownloadURL(ctx context.Context, pathname string) (string, error) {
	return m.baseURL + "/" + pathname, nil
}

// Get returns the stored bytes for a pathname. Test helper.
func (m *MemoryStore) Get(pathname string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[pathname]
	return data, ok
}

// Len returns the number of stored objects. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
