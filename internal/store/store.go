// Package store persists the unmapped vendor error ledger in libsql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/exchangelink/exchangelink/internal/config"
)

const (
	driverLibsql = "libsql"
	memoryDSN    = ":memory:"
)

var errNotInitialized = errors.New("store is not initialized")

// Store wraps the database connection.
type Store struct {
	DB     *sql.DB
	driver string
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = driverLibsql
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if driver != driverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	// :memory: databases are per-connection.
	if dsn == memoryDSN {
		db.SetMaxOpenConns(1)
	}

	s := &Store{DB: db, driver: driver}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Driver returns the configured store driver.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Ping checks the connection; the admin readiness probe calls it.
func (s *Store) Ping(ctx context.Context) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping libsql store: %w", err)
	}
	return nil
}

func (s *Store) ready(ctx context.Context) (context.Context, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, nil
}

// buildLibsqlDSN resolves the store config into a libsql DSN. A remote URL
// wins over a path; local paths get their parent directory created.
func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if remote := strings.TrimSpace(cfg.URL); remote != "" {
		return withAuthToken(remote, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return "", errors.New("store path or url is required")
	case path == memoryDSN, strings.HasPrefix(path, "libsql:"):
		return path, nil
	case strings.HasPrefix(path, "file:"):
		u, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("invalid store path: %w", err)
		}
		local := u.Path
		if local == "" {
			local = u.Opaque
		}
		return path, ensureParentDir(strings.TrimPrefix(local, "//"))
	default:
		return "file:" + filepath.Clean(path), ensureParentDir(path)
	}
}

func withAuthToken(remote, token string) (string, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	if token = strings.TrimSpace(token); token == "" {
		return remote, nil
	}
	q := u.Query()
	if q.Get("authToken") != "" {
		return remote, nil
	}
	q.Set("authToken", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if strings.TrimSpace(path) == "" || dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
