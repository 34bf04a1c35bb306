// Package persistence durably records the mapper's id/transfer table and
// offers an append-only trade/transfer ledger (RecordTrade). No engine
// component calls RecordTrade, so executed trades and transfers are not
// written to the ledger.
// It wraps internal/database the same way the rest of the engine wraps
// infrastructure: through a narrow, typed surface rather than exposing
// *sql.DB to callers.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/nullstate/arb/internal/database"
	"github.com/nullstate/arb/internal/mapper"
)

// Store persists mapper snapshots and ledger entries. It follows the
// multi-database-file convention the rest of the engine's storage layer
// uses: one file per concern, each migrated from its own schema, rather
// than one shared file with mixed-purpose tables.
type Store struct {
	snapshots *database.DB
	ledger    *database.DB
}

// Open opens (creating if necessary) snapshot.db and ledger.db inside
// dataDir and applies their schemas.
func Open(dataDir string) (*Store, error) {
	snapshots, err := database.New(database.Config{Path: filepath.Join(dataDir, "snapshot.db"), Profile: database.ProfileStandard, Name: "snapshot"})
	if err != nil {
		return nil, fmt.Errorf("persistence: open snapshot db: %w", err)
	}
	if err := snapshots.Migrate(); err != nil {
		snapshots.Close()
		return nil, fmt.Errorf("persistence: migrate snapshot db: %w", err)
	}

	ledger, err := database.New(database.Config{Path: filepath.Join(dataDir, "ledger.db"), Profile: database.ProfileLedger, Name: "ledger"})
	if err != nil {
		snapshots.Close()
		return nil, fmt.Errorf("persistence: open ledger db: %w", err)
	}
	if err := ledger.Migrate(); err != nil {
		snapshots.Close()
		ledger.Close()
		return nil, fmt.Errorf("persistence: migrate ledger db: %w", err)
	}

	return &Store{snapshots: snapshots, ledger: ledger}, nil
}

// Close closes both underlying databases.
func (s *Store) Close() error {
	err1 := s.snapshots.Close()
	err2 := s.ledger.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// SaveSnapshot marshals m's current state and upserts it as the single
// snapshot row.
func (s *Store) SaveSnapshot(ctx context.Context, m *mapper.Mapper) (int, error) {
	blob, err := m.MarshalSnapshot()
	if err != nil {
		return 0, fmt.Errorf("persistence: marshal snapshot: %w", err)
	}
	_, err = s.snapshots.ExecContext(ctx, `
		INSERT INTO mapper_snapshot (id, blob, created_at) VALUES (1, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET blob = excluded.blob, created_at = excluded.created_at
	`, blob)
	if err != nil {
		return 0, fmt.Errorf("persistence: save snapshot: %w", err)
	}
	return len(blob), nil
}

// LoadSnapshot restores m from the single snapshot row, if one exists.
// found is false (with a nil error) when no snapshot has been saved yet.
func (s *Store) LoadSnapshot(ctx context.Context, m *mapper.Mapper) (found bool, err error) {
	var blob []byte
	err = s.snapshots.QueryRowContext(ctx, `SELECT blob FROM mapper_snapshot WHERE id = 1`).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("persistence: load snapshot: %w", err)
	}
	if err := m.RestoreSnapshot(blob); err != nil {
		return false, fmt.Errorf("persistence: restore snapshot: %w", err)
	}
	return true, nil
}

// LedgerKind distinguishes a ledger row's dispatch type.
type LedgerKind string

const (
	LedgerTrade    LedgerKind = "trade"
	LedgerTransfer LedgerKind = "transfer"
)

// RecordTrade appends one trade-ledger row. Ledger writes are best-effort:
// a failure is returned to the caller to log, never to roll back the
// already-executed trade or transfer it describes.
func (s *Store) RecordTrade(ctx context.Context, exchange string, kind LedgerKind, coinID int64, amount float64, detail string) error {
	_, err := s.ledger.ExecContext(ctx, `
		INSERT INTO trade_ledger (ts, exchange, kind, coin_id, amount, detail)
		VALUES (datetime('now'), ?, ?, ?, ?, ?)
	`, exchange, string(kind), coinID, amount, detail)
	if err != nil {
		return fmt.Errorf("persistence: record ledger entry: %w", err)
	}
	return nil
}

// LedgerEntry is one row read back from the trade ledger.
type LedgerEntry struct {
	ID       int64
	Time     string
	Exchange string
	Kind     LedgerKind
	CoinID   int64
	Amount   float64
	Detail   string
}

// RecentLedger returns the most recent limit ledger entries, newest first.
func (s *Store) RecentLedger(ctx context.Context, limit int) ([]LedgerEntry, error) {
	rows, err := s.ledger.QueryContext(ctx, `
		SELECT id, ts, exchange, kind, coin_id, amount, detail
		FROM trade_ledger ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("persistence: query ledger: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.Time, &e.Exchange, &kind, &e.CoinID, &e.Amount, &e.Detail); err != nil {
			return nil, fmt.Errorf("persistence: scan ledger row: %w", err)
		}
		e.Kind = LedgerKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
