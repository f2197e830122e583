package contentstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"dvault/internal/dv"
)

// FileSystemStore is a filesystem-based implementation of dv.ContentStore.
// Content is stored under its address, fanned out by the first two characters:
//
//	<root>/
//	  ab/
//	    ab34...     (content file, named by its digest)
type FileSystemStore struct {
	root    string
	algo    HashAlgorithm
	baseURL string
}

var _ dv.ContentStore = (*FileSystemStore)(nil)

// NewFileSystemStore creates a store rooted at the given path.
// baseURL prefixes URL results; when empty, file:// URLs are returned.
func NewFileSystemStore(root string, algo HashAlgorithm, baseURL string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	return &FileSystemStore{root: root, algo: algo, baseURL: baseURL}, nil
}

// Put streams r into a temp file while hashing it, then moves the file to its
// address. Content that is already present is left untouched.
func (s *FileSystemStore) Put(ctx context.Context, r io.Reader, size int64, name string) (string, error) {
	tmpFile, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	hr := newHashingReader(r, s.algo)
	if _, err := io.Copy(tmpFile, hr); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := checkSize(size, hr.n); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cid := hr.address()
	destPath := s.path(cid)
	if _, err := os.Stat(destPath); err == nil {
		return cid, nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create content directory: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return cid, nil
}

func (s *FileSystemStore) Resolve(ctx context.Context, cid string) (io.ReadCloser, error) {
	if !validAddress(cid) {
		return nil, fmt.Errorf("%w: malformed address %q", ErrContentNotFound, cid)
	}
	f, err := os.Open(s.path(cid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrContentNotFound, cid)
		}
		return nil, fmt.Errorf("failed to open content: %w", err)
	}
	return f, nil
}

func (s *FileSystemStore) URL(cid string) string {
	if s.baseURL != "" {
		return joinURL(s.baseURL, cid)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(s.path(cid))}
	return u.String()
}

// ValidateSetup verifies that the store root is an accessible directory.
func (s *FileSystemStore) ValidateSetup() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("content root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("content root is not a directory: %s", s.root)
	}
	return nil
}

func (s *FileSystemStore) path(cid string) string {
	if len(cid) < 2 {
		return filepath.Join(s.root, cid)
	}
	return filepath.Join(s.root, cid[:2], cid)
}
