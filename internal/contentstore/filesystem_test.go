package contentstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dvault/internal/testutil"
)

func TestNewFileSystemStore(t *testing.T) {
	t.Run("creates root directory", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "content")

		s, err := NewFileSystemStore(root, SHA256, "")
		if err != nil {
			t.Fatalf("NewFileSystemStore() error = %v", err)
		}
		if err := s.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemStore(t.TempDir(), SHA256, ""); err != nil {
			t.Fatalf("NewFileSystemStore() error = %v", err)
		}
	})
}

func TestFileSystemStore_Put(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		size    int64
		wantErr bool
	}{
		{name: "store content successfully", data: "hello world", size: 11},
		{name: "size mismatch", data: "hello", size: 100, wantErr: true},
		{name: "empty content", data: "", size: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewFileSystemStore(t.TempDir(), SHA256, "")
			if err != nil {
				t.Fatalf("NewFileSystemStore() error = %v", err)
			}

			cid, err := s.Put(context.Background(), strings.NewReader(tt.data), tt.size, "a.txt")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Put() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				entries, _ := os.ReadDir(s.root)
				if len(entries) != 0 {
					t.Errorf("failed Put left %d entries behind", len(entries))
				}
				return
			}

			if want := testutil.SHA256Hex([]byte(tt.data)); cid != want {
				t.Errorf("Put() cid = %q, want %q", cid, want)
			}
			data, err := os.ReadFile(filepath.Join(s.root, cid[:2], cid))
			if err != nil {
				t.Fatalf("failed to read content file: %v", err)
			}
			if string(data) != tt.data {
				t.Errorf("content = %q, want %q", string(data), tt.data)
			}
		})
	}
}

func TestFileSystemStore_Put_Idempotent(t *testing.T) {
	s, err := NewFileSystemStore(t.TempDir(), BLAKE3, "")
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	data := "hello world"

	first, err := s.Put(context.Background(), strings.NewReader(data), int64(len(data)), "a.txt")
	if err != nil {
		t.Fatalf("first Put() error = %v", err)
	}
	second, err := s.Put(context.Background(), strings.NewReader(data), int64(len(data)), "b.txt")
	if err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	if first != second {
		t.Errorf("same content got two addresses: %q and %q", first, second)
	}
	if first != BLAKE3.Address([]byte(data)) {
		t.Errorf("Put() cid = %q, want blake3 digest", first)
	}
}

func TestFileSystemStore_Resolve(t *testing.T) {
	s, err := NewFileSystemStore(t.TempDir(), SHA256, "")
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	cid, err := s.Put(context.Background(), strings.NewReader("payload"), 7, "p.bin")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	t.Run("existing content", func(t *testing.T) {
		rc, err := s.Resolve(context.Background(), cid)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if string(got) != "payload" {
			t.Errorf("Resolve() content = %q, want %q", got, "payload")
		}
	})

	t.Run("missing content", func(t *testing.T) {
		_, err := s.Resolve(context.Background(), testutil.SHA256Hex([]byte("other")))
		if !errors.Is(err, ErrContentNotFound) {
			t.Errorf("Resolve() error = %v, want ErrContentNotFound", err)
		}
	})

	t.Run("malformed address", func(t *testing.T) {
		_, err := s.Resolve(context.Background(), "../secret")
		if !errors.Is(err, ErrContentNotFound) {
			t.Errorf("Resolve() error = %v, want ErrContentNotFound", err)
		}
	})
}

func TestFileSystemStore_URL(t *testing.T) {
	root := t.TempDir()
	cid := strings.Repeat("ab", 32)

	s, _ := NewFileSystemStore(root, SHA256, "")
	if got := s.URL(cid); !strings.HasPrefix(got, "file://") || !strings.HasSuffix(got, "/ab/"+cid) {
		t.Errorf("URL() = %q, want file:// URL ending in /ab/%s", got, cid)
	}

	s, _ = NewFileSystemStore(root, SHA256, "https://cdn.example.com/blobs/")
	if got, want := s.URL(cid), "https://cdn.example.com/blobs/"+cid; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}
