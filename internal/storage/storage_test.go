package storage

import (
	"path/filepath"
	"testing"

	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
	"github.com/tjfontaine/interaction-scorer/internal/storage/badgerstore"
	"github.com/tjfontaine/interaction-scorer/internal/storage/memory"
	"github.com/tjfontaine/interaction-scorer/internal/storage/sqldb"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.StorageConfig
		check func(t *testing.T, got any)
	}{
		{
			name: "sqlite",
			cfg:  config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "s.db")}},
			check: func(t *testing.T, got any) {
				if _, ok := got.(*sqldb.Store); !ok {
					t.Errorf("got %T, want *sqldb.Store", got)
				}
				if _, ok := got.(Snapshotter); !ok {
					t.Error("sqlite store should support snapshots")
				}
			},
		},
		{
			name: "memory",
			cfg:  config.StorageConfig{Type: "memory"},
			check: func(t *testing.T, got any) {
				if _, ok := got.(*memory.Store); !ok {
					t.Errorf("got %T, want *memory.Store", got)
				}
			},
		},
		{
			name: "badger in memory",
			cfg:  config.StorageConfig{Type: "badger", Badger: config.BadgerConfig{InMemory: true}},
			check: func(t *testing.T, got any) {
				if _, ok := got.(*badgerstore.Store); !ok {
					t.Errorf("got %T, want *badgerstore.Store", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(tt.cfg, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer store.Close()
			tt.check(t, store)
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(config.StorageConfig{Type: "postgres"}, nil); err == nil {
		t.Error("postgres without dsn should fail")
	}
	if _, err := Open(config.StorageConfig{Type: "cassandra"}, nil); err == nil {
		t.Error("unknown type should fail")
	}
}
