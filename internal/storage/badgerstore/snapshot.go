package badgerstore

import (
	"bufio"
	"context"
	"fmt"
	"os"
)

// Snapshot writes a full badger backup stream to path.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := s.db.Backup(w, 0); err != nil {
		f.Close()
		return fmt.Errorf("failed to back up badger: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return f.Close()
}
