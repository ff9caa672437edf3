package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
	"github.com/tjfontaine/interaction-scorer/internal/storage"
	"github.com/tjfontaine/interaction-scorer/internal/storage/memory"
	"github.com/tjfontaine/interaction-scorer/internal/storage/storagetest"
)

func TestName(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 4, 5, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "interactions-20260301T090405Z.snapshot", Name(at))
}

func TestRun_FileSink(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(config.StorageConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "interactions.db")},
	}, nil)
	require.NoError(t, err)
	defer store.Close()
	storagetest.Materialized(t, store, "billing", "ClaimApi", "submit", storagetest.BaseTime)

	dir := filepath.Join(t.TempDir(), "backups")
	sink, err := NewSink(ctx, config.BackupConfig{Sink: "file", Dir: dir})
	require.NoError(t, err)

	location, err := Run(ctx, store, sink, "snap.db", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "snap.db"), location)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary upload files must not remain")

	// Opening the snapshot in WAL mode adds -wal and -shm files, so restore a
	// copy outside the sink directory.
	data, err := os.ReadFile(location)
	require.NoError(t, err)
	restoredPath := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(restoredPath, data, 0o600))

	restored, err := storage.Open(config.StorageConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: restoredPath},
	}, nil)
	require.NoError(t, err)
	defer restored.Close()
	sources, err := restored.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 1)

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "restoring must not touch the sink directory")
}

func TestRun_StoreWithoutSnapshots(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	_, err = Run(context.Background(), memory.New(), sink, "snap", nil)
	assert.ErrorContains(t, err, "does not support snapshots")
}

func TestNewSink(t *testing.T) {
	_, err := NewSink(context.Background(), config.BackupConfig{Sink: "tape"})
	assert.Error(t, err)

	_, err = NewSink(context.Background(), config.BackupConfig{Sink: "file"})
	assert.Error(t, err, "file sink needs a directory")

	_, err = NewSink(context.Background(), config.BackupConfig{Sink: "s3"})
	assert.Error(t, err, "s3 sink needs a bucket")
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink_Put(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap")
	require.NoError(t, os.WriteFile(path, []byte("snapshot-bytes"), 0o600))

	fake := &fakeS3{}
	sink := &S3Sink{client: fake, bucket: "backups", prefix: "scorer/"}

	location, err := sink.Put(context.Background(), "snap", path)
	require.NoError(t, err)
	assert.Equal(t, "s3://backups/scorer/snap", location)
	assert.Equal(t, "backups", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "scorer/snap", aws.ToString(fake.input.Key))
	assert.Equal(t, int64(len("snapshot-bytes")), aws.ToInt64(fake.input.ContentLength))
	assert.Equal(t, "snapshot-bytes", string(fake.body))

	fake.err = errors.New("access denied")
	_, err = sink.Put(context.Background(), "snap", path)
	assert.ErrorContains(t, err, "access denied")
}
