package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "evron/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	sweepEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, sweepEvery: 200}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// maybeSweep drops expired lists every sweepEvery operations. Expiry is
// deferred deletion, so precision is not required here.
func (s *sqliteStore) maybeSweep() {
	if s.opCount.Add(1)%s.sweepEvery != 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM list_items WHERE list_key IN
		 (SELECT list_key FROM list_expiry WHERE expires_at <= ?)`, now)
	if err == nil {
		_, err = s.db.ExecContext(ctx, `DELETE FROM list_expiry WHERE expires_at <= ?`, now)
	}
	if err != nil {
		s.log.Warn("expiry sweep failed", logx.Err(err))
	}
}

// expired reports whether key is past its deferred-deletion time.
// Reads must not serve items from an expired list even before the sweep runs.
func (s *sqliteStore) expired(ctx context.Context, key string) (bool, error) {
	var at int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM list_expiry WHERE list_key = ?`, key).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return at <= time.Now().Unix(), nil
}

func (s *sqliteStore) ListGet(ctx context.Context, key string, offset, limit int) ([]json.RawMessage, PageInfo, error) {
	defer s.maybeSweep()
	if offset < 0 {
		offset = 0
	}
	if gone, err := s.expired(ctx, key); err != nil {
		return nil, PageInfo{}, err
	} else if gone {
		return nil, PageInfo{}, nil
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM list_items WHERE list_key = ?`, key).Scan(&total); err != nil {
		return nil, PageInfo{}, err
	}
	info := PageInfo{Length: total}
	if total == 0 || offset >= total {
		return nil, info, nil
	}
	if limit <= 0 {
		limit = total
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT item FROM list_items WHERE list_key = ? ORDER BY pos ASC LIMIT ? OFFSET ?`,
		key, limit, offset)
	if err != nil {
		return nil, PageInfo{}, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, PageInfo{}, err
		}
		out = append(out, json.RawMessage(item))
	}
	return out, info, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// findPos returns the position and raw record of the first match, scanning in
// list order. Lookups are by indexed field in practice (id), but the contract
// is an arbitrary predicate, so this is a scan.
func (s *sqliteStore) findPos(ctx context.Context, q querier, key string, match Match) (int64, json.RawMessage, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT pos, item FROM list_items WHERE list_key = ? ORDER BY pos ASC`, key)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pos int64
		var item string
		if err := rows.Scan(&pos, &item); err != nil {
			return 0, nil, err
		}
		raw := json.RawMessage(item)
		if match(raw) {
			return pos, raw, nil
		}
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	return 0, nil, ErrNotFound
}

func (s *sqliteStore) ListFind(ctx context.Context, key string, match Match) (json.RawMessage, error) {
	defer s.maybeSweep()
	if gone, err := s.expired(ctx, key); err != nil {
		return nil, err
	} else if gone {
		return nil, ErrNotFound
	}
	_, raw, err := s.findPos(ctx, s.db, key, match)
	return raw, err
}

func (s *sqliteStore) ListUnshift(ctx context.Context, key string, item json.RawMessage) error {
	defer s.maybeSweep()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Head insert: one below the current minimum position.
	var head sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MIN(pos) FROM list_items WHERE list_key = ?`, key).Scan(&head); err != nil {
		return err
	}
	pos := int64(0)
	if head.Valid {
		pos = head.Int64 - 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO list_items(list_key, pos, item) VALUES(?,?,?)`,
		key, pos, string(item)); err != nil {
		return err
	}
	// Writing to a list cancels any pending expiry for it.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM list_expiry WHERE list_key = ?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListFindUpdate(ctx context.Context, key string, match Match, patch map[string]any) error {
	defer s.maybeSweep()
	// Find-then-update must be atomic at this boundary; callers rely on it.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pos, raw, err := s.findPos(ctx, tx, key, match)
	if err != nil {
		return err
	}
	merged, err := applyPatch(raw, patch)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE list_items SET item = ? WHERE list_key = ? AND pos = ?`,
		string(merged), key, pos); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListFindDelete(ctx context.Context, key string, match Match) (json.RawMessage, error) {
	defer s.maybeSweep()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pos, raw, err := s.findPos(ctx, tx, key, match)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM list_items WHERE list_key = ? AND pos = ?`, key, pos); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *sqliteStore) Expire(ctx context.Context, key string, at time.Time) error {
	defer s.maybeSweep()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO list_expiry(list_key, expires_at) VALUES(?,?)
		 ON CONFLICT(list_key) DO UPDATE SET expires_at=excluded.expires_at`,
		key, at.Unix())
	return err
}
