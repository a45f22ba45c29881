package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/exchangelink/exchangelink/internal/exchange"
)

const maxStoredPayload = 8192

var _ exchange.UnmappedRecorder = (*Store)(nil)

// UnmappedEntry is one ledger row: a vendor code seen without a mapping.
type UnmappedEntry struct {
	Vendor      string    `json:"vendor"`
	Code        string    `json:"code"`
	StatusCode  int       `json:"status_code"`
	Message     string    `json:"message"`
	Payload     string    `json:"payload,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Occurrences int       `json:"occurrences"`
}

// UnmappedQuery selects ledger rows. Exactly one selector is used, checked in
// the order All, Vendor (optionally narrowed by Code), Prefix.
type UnmappedQuery struct {
	All    bool
	Vendor string
	Code   string
	Prefix string
}

func (q UnmappedQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Vendor) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	if strings.TrimSpace(q.Code) != "" {
		return errors.New("--code requires --vendor")
	}
	return errors.New("must specify --all, --vendor, or --prefix")
}

func (q UnmappedQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if vendor := strings.ToLower(strings.TrimSpace(q.Vendor)); vendor != "" {
		if code := strings.TrimSpace(q.Code); code != "" {
			return "WHERE vendor = ? AND code = ?", []any{vendor, code}, nil
		}
		return "WHERE vendor = ?", []any{vendor}, nil
	}
	return "WHERE code LIKE ?", []any{strings.TrimSpace(q.Prefix) + "%"}, nil
}

// RecordUnmapped upserts one occurrence, keeping the latest message and
// payload and counting repeats.
func (s *Store) RecordUnmapped(ctx context.Context, rec exchange.UnmappedError) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	vendor := strings.ToLower(strings.TrimSpace(rec.Vendor))
	if vendor == "" {
		return errors.New("unmapped error vendor is required")
	}
	seen := rec.SeenAt
	if seen.IsZero() {
		seen = time.Now().UTC()
	}
	payload := rec.Payload
	if len(payload) > maxStoredPayload {
		payload = payload[:maxStoredPayload]
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO unmapped_errors (vendor, code, status_code, message, payload, first_seen, last_seen, occurrences)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(vendor, code) DO UPDATE SET
			status_code = excluded.status_code,
			message = excluded.message,
			payload = excluded.payload,
			last_seen = excluded.last_seen,
			occurrences = unmapped_errors.occurrences + 1
	`, vendor, rec.Code, rec.StatusCode, rec.Message, string(payload), seen.UnixMilli(), seen.UnixMilli())
	if err != nil {
		return fmt.Errorf("record unmapped error: %w", err)
	}
	return nil
}

// ListUnmapped returns matching rows ordered by vendor and code.
func (s *Store) ListUnmapped(ctx context.Context, q UnmappedQuery) ([]UnmappedEntry, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT vendor, code, status_code, message, payload, first_seen, last_seen, occurrences
		FROM unmapped_errors
		%s
		ORDER BY vendor, code
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list unmapped errors: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []UnmappedEntry{}
	for rows.Next() {
		var (
			entry     UnmappedEntry
			firstSeen int64
			lastSeen  int64
		)
		if err := rows.Scan(&entry.Vendor, &entry.Code, &entry.StatusCode, &entry.Message,
			&entry.Payload, &firstSeen, &lastSeen, &entry.Occurrences); err != nil {
			return nil, fmt.Errorf("scan unmapped errors: %w", err)
		}
		entry.FirstSeen = time.UnixMilli(firstSeen).UTC()
		entry.LastSeen = time.UnixMilli(lastSeen).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unmapped errors: %w", err)
	}
	return entries, nil
}

// CountUnmapped counts matching rows.
func (s *Store) CountUnmapped(ctx context.Context, q UnmappedQuery) (int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM unmapped_errors %s`, where), args...)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count unmapped errors: %w", err)
	}
	return count, nil
}

// ResetUnmapped deletes matching rows and returns how many were removed.
func (s *Store) ResetUnmapped(ctx context.Context, q UnmappedQuery) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM unmapped_errors %s`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset unmapped errors: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset unmapped errors: %w", err)
	}
	return affected, nil
}
