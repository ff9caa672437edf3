package sqldb

import (
	"context"
	"fmt"
)

// Snapshot writes a consistent copy of a SQLite database to path. Other
// dialects are backed up with their own tooling.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	if s.dialect.Name() != "sqlite" {
		return fmt.Errorf("snapshot is not supported for %s", s.dialect.Name())
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("failed to snapshot database to %s: %w", path, err)
	}
	return nil
}
