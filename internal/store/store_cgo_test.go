//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/exchangelink/exchangelink/internal/config"
	"github.com/exchangelink/exchangelink/internal/exchange"
)

func openMemoryStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenMemoryStore(t *testing.T) {
	s := openMemoryStore(t)
	require.Equal(t, "libsql", s.Driver())
	require.NoError(t, s.Migrate(context.Background()))
}

func TestUnmappedLedger(t *testing.T) {
	ctx := context.Background()
	s := openMemoryStore(t)
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordUnmapped(ctx, exchange.UnmappedError{
		Vendor: "Binance", Code: "-2015", StatusCode: 401,
		Message: "Invalid API-key", Payload: []byte(`{"code":-2015}`), SeenAt: first,
	}))
	require.NoError(t, s.RecordUnmapped(ctx, exchange.UnmappedError{
		Vendor: "binance", Code: "-2015", StatusCode: 401,
		Message: "Invalid API-key, IP", SeenAt: first.Add(time.Minute),
	}))
	require.NoError(t, s.RecordUnmapped(ctx, exchange.UnmappedError{
		Vendor: "latoken", Code: "SERVICE_UNAVAILABLE", StatusCode: 400, SeenAt: first,
	}))

	entries, err := s.ListUnmapped(ctx, UnmappedQuery{Vendor: "binance"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 2, entries[0].Occurrences)
	require.Equal(t, "Invalid API-key, IP", entries[0].Message)
	require.Equal(t, first, entries[0].FirstSeen)
	require.Equal(t, first.Add(time.Minute), entries[0].LastSeen)

	count, err := s.CountUnmapped(ctx, UnmappedQuery{All: true})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	removed, err := s.ResetUnmapped(ctx, UnmappedQuery{Prefix: "SERVICE"})
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	count, err = s.CountUnmapped(ctx, UnmappedQuery{All: true})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.Error(t, s.RecordUnmapped(ctx, exchange.UnmappedError{Code: "x"}))
}
