package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/finledger-dev/finledger/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS seen_transactions (
	fingerprint TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	first_seen  TEXT NOT NULL
)`

// SQLiteStore keeps seen fingerprints in a SQLite database. Write
// transactions begin IMMEDIATE so concurrent ingests serialize on the
// database lock instead of failing on upgrade.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening dedup database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening dedup database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing dedup schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Has(ctx context.Context, fp model.Fingerprint) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM seen_transactions WHERE fingerprint = ?`, string(fp)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking fingerprint: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkSeen(ctx context.Context, fp model.Fingerprint, source string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_transactions (fingerprint, source, first_seen) VALUES (?, ?, ?) ON CONFLICT(fingerprint) DO NOTHING`,
		string(fp), source, nowFunc().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("marking fingerprint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking fingerprint: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Claim(ctx context.Context, fps []model.Fingerprint, source string, commit CommitFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning claim: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO seen_transactions (fingerprint, source, first_seen) VALUES (?, ?, ?) ON CONFLICT(fingerprint) DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing claim: %w", err)
	}
	defer stmt.Close()

	now := nowFunc().Format(time.RFC3339Nano)
	var claimed []model.Fingerprint
	for _, fp := range fps {
		res, err := stmt.ExecContext(ctx, string(fp), source, now)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("claiming fingerprint %s: %w", fp.Short(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("claiming fingerprint %s: %w", fp.Short(), err)
		}
		if n == 1 {
			claimed = append(claimed, fp)
		}
	}

	if err := commit(claimed); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("claim error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing claim: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, fp model.Fingerprint) (model.SeenRecord, bool, error) {
	var source, firstSeen string
	err := s.db.QueryRowContext(ctx,
		`SELECT source, first_seen FROM seen_transactions WHERE fingerprint = ?`, string(fp)).Scan(&source, &firstSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SeenRecord{}, false, nil
	}
	if err != nil {
		return model.SeenRecord{}, false, fmt.Errorf("reading fingerprint: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, firstSeen)
	if err != nil {
		return model.SeenRecord{}, false, fmt.Errorf("parsing first_seen %q: %w", firstSeen, err)
	}
	return model.SeenRecord{Fingerprint: fp, Source: source, FirstSeen: ts}, true, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting fingerprints: %w", err)
	}
	return n, nil
}
