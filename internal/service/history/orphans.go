package history

import (
	"context"
	"fmt"
	"time"

	"fridgeclinic/internal/models"
)

const maxOrphanError = 512

// RecordOrphan remembers a remote file whose deletion failed. Recording the
// same name again bumps its attempt counter.
func (s *Service) RecordOrphan(ctx context.Context, name string, cause error) error {
	if name == "" {
		return fmt.Errorf("orphan name required")
	}
	msg := ""
	if cause != nil {
		msg = truncate(cause.Error(), maxOrphanError)
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE remote_file_orphans SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE name = ?`,
		msg, now, name,
	)
	if err != nil {
		return fmt.Errorf("update orphan: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO remote_file_orphans (name, attempts, last_error, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		name, 1, msg, now, now,
	); err != nil {
		return fmt.Errorf("insert orphan: %w", err)
	}
	return nil
}

// ListOrphans returns pending orphans, oldest first.
func (s *Service) ListOrphans(ctx context.Context, limit int) ([]models.RemoteFileOrphan, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, attempts, last_error, created_at, updated_at FROM remote_file_orphans ORDER BY created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	var orphans []models.RemoteFileOrphan
	for rows.Next() {
		var (
			o       models.RemoteFileOrphan
			lastErr *string
		)
		if err := rows.Scan(&o.Name, &o.Attempts, &lastErr, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		if lastErr != nil {
			o.LastError = *lastErr
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

func (s *Service) DeleteOrphan(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM remote_file_orphans WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete orphan: %w", err)
	}
	return nil
}

func (s *Service) orphanAge(o models.RemoteFileOrphan) time.Duration {
	return s.now().Sub(o.CreatedAt)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
