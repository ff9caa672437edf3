package badgerstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/storage/storagetest"
)

func TestBadgerStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) ports.Store {
		s, err := Open(Config{InMemory: true}, nil)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		return s
	})
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	i := storagetest.Materialized(t, s, "billing", "ClaimApi", "submit", storagetest.BaseTime)
	score := domain.NewScore(i.CorrelationID, 0.9, storagetest.BaseTime.Add(time.Second), domain.ModeNormal)
	if err := s.AppendScore(context.Background(), score); err != nil {
		t.Fatalf("AppendScore() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(Config{Dir: dir}, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetInteraction(context.Background(), i.CorrelationID)
	if err != nil {
		t.Fatalf("GetInteraction() error = %v", err)
	}
	if len(got.Scores) != 1 || got.Scores[0].Value != 0.9 {
		t.Errorf("Scores = %+v, want the persisted score", got.Scores)
	}
}

func TestBadgerStoreSnapshot(t *testing.T) {
	s, err := Open(Config{InMemory: true}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	storagetest.Materialized(t, s, "billing", "ClaimApi", "submit", storagetest.BaseTime)

	path := filepath.Join(t.TempDir(), "snapshot.badger")
	if err := s.Snapshot(context.Background(), path); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() == 0 {
		t.Error("snapshot is empty")
	}
}
