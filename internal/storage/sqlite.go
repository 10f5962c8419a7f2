package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"castbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// tsLayout is fixed-width so that text ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
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

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
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

func (s *sqliteStore) RecordDelivery(ctx context.Context, d Delivery) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if d.At.IsZero() {
		d.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(run_id, cycle, at, dialog_id, title, class, outcome, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		d.RunID, d.Cycle, d.At.UTC().Format(tsLayout), d.DialogID, d.Title, d.Class,
		string(d.Outcome), nullStr(d.Error), d.TookMS,
	)
	return err
}

func (s *sqliteStore) RecordRun(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, started_at, ended_at, state, reason, delay_sec, interval_sec, cycles, sent, failed, skipped, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   ended_at=excluded.ended_at, state=excluded.state, reason=excluded.reason,
		   cycles=excluded.cycles, sent=excluded.sent, failed=excluded.failed,
		   skipped=excluded.skipped, err=excluded.err`,
		r.ID, r.StartedAt.UTC().Format(tsLayout), r.EndedAt.UTC().Format(tsLayout),
		r.State, nullStr(r.Reason), r.DelaySec, r.IntervalSec, r.Cycles, r.Sent, r.Failed, r.Skipped,
		nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, state, reason, delay_sec, interval_sec, cycles, sent, failed, skipped, err
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r               Run
			started, ended  string
			reason, errText sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &ended, &r.State, &reason, &r.DelaySec, &r.IntervalSec,
			&r.Cycles, &r.Sent, &r.Failed, &r.Skipped, &errText); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(tsLayout, started)
		r.EndedAt, _ = time.Parse(tsLayout, ended)
		r.Reason = reason.String
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
