package contentstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"dvault/internal/dv"
)

// MemoryStore is an in-memory implementation of dv.ContentStore.
// It is useful for testing and safe for concurrent use.
type MemoryStore struct {
	algo    HashAlgorithm
	baseURL string

	mu      sync.RWMutex
	content map[string][]byte // address -> content
}

var _ dv.ContentStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. baseURL prefixes URL results;
// when empty, URLs use the memory:// scheme.
func NewMemoryStore(algo HashAlgorithm, baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://"
	}
	return &MemoryStore{
		algo:    algo,
		baseURL: baseURL,
		content: make(map[string][]byte),
	}
}

// Put stores the content read from r. Storing the same bytes twice is harmless.
func (m *MemoryStore) Put(ctx context.Context, r io.Reader, size int64, name string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	if err := checkSize(size, int64(len(data))); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cid := m.algo.Address(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[cid] = data
	return cid, nil
}

func (m *MemoryStore) Resolve(ctx context.Context, cid string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.content[cid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, cid)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) URL(cid string) string {
	if m.baseURL == "memory://" {
		return m.baseURL + cid
	}
	return joinURL(m.baseURL, cid)
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}
