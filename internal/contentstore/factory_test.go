package contentstore

import (
	"context"
	"testing"

	"dvault/internal/config"
	"dvault/internal/testutil"
)

func TestNewContentStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ContentStoreConfig
		wantErr bool
	}{
		{
			name: "memory store",
			cfg:  config.ContentStoreConfig{Type: "memory"},
		},
		{
			name: "memory store with blake3",
			cfg:  config.ContentStoreConfig{Type: "memory", Hash: "blake3"},
		},
		{
			name: "filesystem store",
			cfg:  config.ContentStoreConfig{Type: "filesystem", Root: t.TempDir()},
		},
		{
			name:    "filesystem store without root",
			cfg:     config.ContentStoreConfig{Type: "filesystem"},
			wantErr: true,
		},
		{
			name:    "s3 store without bucket",
			cfg:     config.ContentStoreConfig{Type: "s3"},
			wantErr: true,
		},
		{
			name: "pinata store",
			cfg:  config.ContentStoreConfig{Type: "pinata", PinataJWT: "opaque-key"},
		},
		{
			name:    "pinata store without token",
			cfg:     config.ContentStoreConfig{Type: "pinata"},
			wantErr: true,
		},
		{
			name:    "unknown hash",
			cfg:     config.ContentStoreConfig{Type: "memory", Hash: "md5"},
			wantErr: true,
		},
		{
			name:    "unknown store type",
			cfg:     config.ContentStoreConfig{Type: "tape"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewContentStoreFromConfig(context.Background(), tt.cfg, testutil.FixedClock())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewContentStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewContentStoreFromConfig() returned nil store")
			}
		})
	}
}
