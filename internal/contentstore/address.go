// Package contentstore provides dv.ContentStore backends: in-memory, local
// filesystem, S3-compatible object storage and IPFS pinning through Pinata.
package contentstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrContentNotFound is returned by Resolve for an address the store does not hold.
var ErrContentNotFound = errors.New("content not found")

// HashAlgorithm names the digest used to address content in local stores.
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
	BLAKE3 HashAlgorithm = "blake3"
)

// ParseHashAlgorithm converts a config value. Empty means SHA256.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch HashAlgorithm(strings.ToLower(s)) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm: %s", s)
	}
}

func (a HashAlgorithm) newHash() hash.Hash {
	if a == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Address returns the content address of data: the lowercase hex digest.
func (a HashAlgorithm) Address(data []byte) string {
	h := a.newHash()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// validAddress reports whether cid looks like an address this algorithm produces.
// Both digests are 32 bytes.
func validAddress(cid string) bool {
	if len(cid) != 64 {
		return false
	}
	_, err := hex.DecodeString(cid)
	return err == nil && strings.ToLower(cid) == cid
}

// hashingReader hashes and counts everything read through it.
type hashingReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func newHashingReader(r io.Reader, algo HashAlgorithm) *hashingReader {
	return &hashingReader{r: r, h: algo.newHash()}
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.n += int64(n)
	}
	return n, err
}

func (hr *hashingReader) address() string {
	return hex.EncodeToString(hr.h.Sum(nil))
}

// checkSize fails when the bytes read differ from the declared size.
func checkSize(expected, got int64) error {
	if expected != got {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expected, got)
	}
	return nil
}

// joinURL appends cid to base with exactly one slash between them.
func joinURL(base, cid string) string {
	return strings.TrimRight(base, "/") + "/" + cid
}
