package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for the mint ledger and mint locks.
// Verification results are never stored; ownership is always read from the chain.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS mints (
  tx_hash       TEXT PRIMARY KEY,
  contract      TEXT NOT NULL,
  token_id      TEXT,
  minter        TEXT NOT NULL,
  course        TEXT,
  block_number  INTEGER NOT NULL DEFAULT 0,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS mints_token ON mints (contract, token_id);

CREATE TABLE IF NOT EXISTS cursors (
  source_id   TEXT PRIMARY KEY,
  height      INTEGER NOT NULL,
  hash        TEXT NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mint_locks (
  key         TEXT PRIMARY KEY,
  expires_at  TIMESTAMP NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Mint is one confirmed mint transaction. TokenID is empty when no Transfer event was decoded.
type Mint struct {
	TxHash      string
	Contract    string
	TokenID     string
	Minter      string
	Course      string
	BlockNumber uint64
	CreatedAt   time.Time
}

// InsertMint records a confirmed mint. A row for the same tx hash, such as one found by the
// scanner first, keeps its chain fields and takes the course and timestamp of this call.
func (s *Store) InsertMint(ctx context.Context, m Mint) error {
	if m.TxHash == "" || m.Contract == "" || m.Minter == "" {
		return errors.New("tx_hash, contract and minter are required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO mints (tx_hash, contract, token_id, minter, course, block_number, created_at)
VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
ON CONFLICT(tx_hash) DO UPDATE SET
	course = excluded.course,
	created_at = excluded.created_at,
	token_id = COALESCE(mints.token_id, excluded.token_id);
`, m.TxHash, m.Contract, nullString(m.TokenID), m.Minter, m.Course, m.BlockNumber, nullTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert mint: %w", err)
	}
	return nil
}

// RecordMint inserts m unless its tx hash is already in the ledger. It reports whether a row was added.
func (s *Store) RecordMint(ctx context.Context, m Mint) (bool, error) {
	if m.TxHash == "" || m.Contract == "" || m.Minter == "" {
		return false, errors.New("tx_hash, contract and minter are required")
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO mints (tx_hash, contract, token_id, minter, course, block_number, created_at)
VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
ON CONFLICT(tx_hash) DO NOTHING;
`, m.TxHash, m.Contract, nullString(m.TokenID), m.Minter, m.Course, m.BlockNumber, nullTime(m.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("record mint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record mint: %w", err)
	}
	return n > 0, nil
}

// ListMints returns recorded mints, newest first. limit <= 0 returns all rows.
func (s *Store) ListMints(ctx context.Context, limit int) ([]Mint, error) {
	query := `
SELECT tx_hash, contract, COALESCE(token_id, ''), minter, COALESCE(course, ''), block_number, created_at
FROM mints ORDER BY created_at DESC, tx_hash`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("list mints: %w", err)
	}
	defer rows.Close()

	var out []Mint
	for rows.Next() {
		var m Mint
		if err := rows.Scan(&m.TxHash, &m.Contract, &m.TokenID, &m.Minter, &m.Course, &m.BlockNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mint: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list mints: %w", err)
	}
	return out, nil
}

// MintedContracts returns the distinct contract addresses found in the ledger.
func (s *Store) MintedContracts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT contract FROM mints ORDER BY contract;`)
	if err != nil {
		return nil, fmt.Errorf("minted contracts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MintContractFor returns the contract recorded for tokenID, if the ledger knows it.
func (s *Store) MintContractFor(ctx context.Context, tokenID string) (contract string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT contract FROM mints WHERE token_id = ? ORDER BY created_at DESC LIMIT 1;
`, tokenID)
	switch err = row.Scan(&contract); err {
	case nil:
		return contract, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("mint contract: %w", err)
	}
}

// UpsertCursor stores the last synced height and block hash for sourceID.
func (s *Store) UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error {
	if sourceID == "" {
		return errors.New("sourceID required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (source_id, height, hash, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(source_id) DO UPDATE SET
  height=excluded.height,
  hash=excluded.hash,
  updated_at=CURRENT_TIMESTAMP;
`, sourceID, height, hash)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor returns the last synced height and hash for sourceID.
func (s *Store) GetCursor(ctx context.Context, sourceID string) (height uint64, hash string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT height, hash FROM cursors WHERE source_id = ?;
`, sourceID)
	switch err = row.Scan(&height, &hash); err {
	case nil:
		return height, hash, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
}

// AcquireMintLock takes key until now+ttl. It returns false while an unexpired lock is held;
// an expired lock is replaced.
func (s *Store) AcquireMintLock(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("key required")
	}
	acquired := false
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var expires time.Time
		err := tx.QueryRowContext(ctx, `SELECT expires_at FROM mint_locks WHERE key = ?;`, key).Scan(&expires)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return fmt.Errorf("check mint lock: %w", err)
		case expires.After(now.UTC()):
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO mint_locks (key, expires_at)
VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET expires_at=excluded.expires_at;
`, key, now.Add(ttl).UTC()); err != nil {
			return fmt.Errorf("mark mint lock: %w", err)
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseMintLock drops key so the caller may mint again.
func (s *Store) ReleaseMintLock(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mint_locks WHERE key = ?;`, key); err != nil {
		return fmt.Errorf("release mint lock: %w", err)
	}
	return nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
