package contentstore

import (
	"io"
	"strings"
	"testing"

	"dvault/internal/testutil"
)

func TestHashAlgorithm_Address(t *testing.T) {
	data := []byte("hello world")

	if got, want := SHA256.Address(data), testutil.SHA256Hex(data); got != want {
		t.Errorf("SHA256.Address() = %q, want %q", got, want)
	}

	b3 := BLAKE3.Address(data)
	if len(b3) != 64 {
		t.Errorf("BLAKE3.Address() length = %d, want 64", len(b3))
	}
	if b3 == SHA256.Address(data) {
		t.Error("BLAKE3 and SHA256 addresses should differ")
	}
	if !validAddress(b3) {
		t.Errorf("validAddress(%q) = false", b3)
	}
}

func TestHashingReader(t *testing.T) {
	for _, algo := range []HashAlgorithm{SHA256, BLAKE3} {
		t.Run(string(algo), func(t *testing.T) {
			hr := newHashingReader(strings.NewReader("streamed content"), algo)
			if _, err := io.Copy(io.Discard, hr); err != nil {
				t.Fatalf("Copy() error = %v", err)
			}
			if hr.n != int64(len("streamed content")) {
				t.Errorf("n = %d, want %d", hr.n, len("streamed content"))
			}
			if got, want := hr.address(), algo.Address([]byte("streamed content")); got != want {
				t.Errorf("address() = %q, want %q", got, want)
			}
		})
	}
}

func TestParseHashAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    HashAlgorithm
		wantErr bool
	}{
		{"", SHA256, false},
		{"sha256", SHA256, false},
		{"BLAKE3", BLAKE3, false},
		{"md5", "", true},
	}
	for _, tt := range tests {
		got, err := ParseHashAlgorithm(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHashAlgorithm(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseHashAlgorithm(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		cid  string
		want bool
	}{
		{strings.Repeat("a", 64), true},
		{strings.Repeat("A", 64), false},
		{strings.Repeat("a", 63), false},
		{"../../etc/passwd", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := validAddress(tt.cid); got != tt.want {
			t.Errorf("validAddress(%q) = %v, want %v", tt.cid, got, tt.want)
		}
	}
}
