package testutil

import (
	"context"
	"io"
	"sync"

	"dvault/internal/dv"
)

// FlakyStore wraps a dv.ContentStore, counting calls and optionally failing them.
type FlakyStore struct {
	dv.ContentStore

	mu         sync.Mutex
	putErr     error
	resolveErr error
	puts       int
	resolves   int
}

func NewFlakyStore(s dv.ContentStore) *FlakyStore {
	return &FlakyStore{ContentStore: s}
}

// FailPut makes every Put fail with err. A nil err restores normal behavior.
func (s *FlakyStore) FailPut(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// FailResolve makes every Resolve fail with err.
func (s *FlakyStore) FailResolve(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveErr = err
}

// Puts returns the number of Put calls, failed ones included.
func (s *FlakyStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// Resolves returns the number of Resolve calls, failed ones included.
func (s *FlakyStore) Resolves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolves
}

func (s *FlakyStore) Put(ctx context.Context, r io.Reader, size int64, name string) (string, error) {
	s.mu.Lock()
	s.puts++
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.ContentStore.Put(ctx, r, size, name)
}

func (s *FlakyStore) Resolve(ctx context.Context, cid string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.resolves++
	err := s.resolveErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.ContentStore.Resolve(ctx, cid)
}
