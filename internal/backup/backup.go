// Package backup snapshots the interaction store and uploads the snapshot to
// a directory, S3, or GCS.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
	"github.com/tjfontaine/interaction-scorer/internal/storage"
)

// NewSink creates the sink selected by cfg.Sink.
func NewSink(ctx context.Context, cfg config.BackupConfig) (ports.BackupSink, error) {
	switch cfg.Sink {
	case "", "file":
		return NewFileSink(cfg.Dir)
	case "s3":
		return NewS3Sink(ctx, S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case "gcs":
		return newGCSSink(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown backup sink %q", cfg.Sink)
	}
}

// Name returns the object name of a snapshot taken at t.
func Name(t time.Time) string {
	return "interactions-" + t.UTC().Format("20060102T150405Z") + ".snapshot"
}

// Run snapshots store into a temporary file and uploads it to sink under
// name. It returns the location reported by the sink.
func Run(ctx context.Context, store any, sink ports.BackupSink, name string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	snap, ok := store.(storage.Snapshotter)
	if !ok {
		return "", fmt.Errorf("store %T does not support snapshots", store)
	}

	dir, err := os.MkdirTemp("", "interaction-backup-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	start := time.Now()
	if err := snap.Snapshot(ctx, path); err != nil {
		return "", err
	}

	location, err := sink.Put(ctx, name, path)
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}
	logger.Info("backup written",
		slog.String("location", location),
		slog.Duration("duration", time.Since(start)))
	return location, nil
}

// FileSink copies snapshots into a local directory.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup.dir is required for the file sink")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Put copies the file at path to dir/name and returns the destination path.
func (s *FileSink) Put(ctx context.Context, name, path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dest := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dest, nil
}
