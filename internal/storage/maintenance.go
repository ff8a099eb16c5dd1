package storage

import (
	"context"
	"fmt"
	"os"
)

func (s *SQLite) WALSizeBytes() int64 {
	fi, err := os.Stat(s.path + "-wal")
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (s *SQLite) DBSizeBytes() int64 {
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// CheckpointIfWALExceeds restarts the WAL once it grows past thresholdBytes.
// The queue record is rewritten on every enqueue and dequeue, so the WAL grows
// quickly under steady traffic.
func (s *SQLite) CheckpointIfWALExceeds(ctx context.Context, thresholdBytes int64) (bool, error) {
	if s.WALSizeBytes() <= thresholdBytes {
		return false, nil
	}
	if _, err := s.writer.ExecContext(ctx, "PRAGMA wal_checkpoint(RESTART)"); err != nil {
		return false, fmt.Errorf("wal restart checkpoint: %w", err)
	}
	_, _ = s.writer.ExecContext(ctx, "PRAGMA incremental_vacuum(1000)")
	return true, nil
}
