package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
)

func writeConfig(t *testing.T, path, level string) {
	t.Helper()
	content := "storage:\n  type: memory\nlogging:\n  level: " + level + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestNewProvider_EmptyPath(t *testing.T) {
	if _, err := NewProvider("", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestProvider_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "debug")

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer p.Close()

	if p.Current() != nil {
		t.Fatal("Current() before Load should be nil")
	}
	cfg, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Storage.Type != "memory" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if p.Current() != cfg {
		t.Error("Current() should return the loaded config")
	}
}

func TestProvider_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "info")

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer p.Close()
	if _, err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(c *config.Config) { changes <- c }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeConfig(t, path, "warn")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Logging.Level == "warn" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
