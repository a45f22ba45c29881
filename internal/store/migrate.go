package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS unmapped_errors (
		vendor TEXT NOT NULL,
		code TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '',
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		occurrences INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (vendor, code)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_unmapped_errors_last_seen ON unmapped_errors(last_seen);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	return nil
}
