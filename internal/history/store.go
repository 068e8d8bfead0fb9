// Package history remembers where each script was last playing so playback
// can resume near it.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a script has no recorded position.
var ErrNotFound = errors.New("no recorded position")

// Position is the last segment started for a script.
type Position struct {
	Key       string
	Index     int
	UpdatedAt time.Time
}

// Store is a SQLite-backed position log.
type Store struct {
	db     *sql.DB
	logger *log.Logger
	clock  func() time.Time
}

// Open creates or opens the database at path.
func Open(ctx context.Context, path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The owner and the UI write from different goroutines.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, logger: logger.WithPrefix("history"), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS positions (
    script_key TEXT PRIMARY KEY,
    segment_index INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_updated ON positions(updated_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// SavePosition records index as the latest position for key.
func (s *Store) SavePosition(ctx context.Context, key string, index int) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions(script_key, segment_index, updated_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(script_key) DO UPDATE SET segment_index=excluded.segment_index, updated_at=excluded.updated_at`,
		key, index, s.clock().UnixMilli())
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// LoadPosition returns the last position for key or ErrNotFound.
func (s *Store) LoadPosition(ctx context.Context, key string) (Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT script_key, segment_index, updated_at FROM positions WHERE script_key = ?`, key)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, ErrNotFound
	}
	if err != nil {
		return Position{}, fmt.Errorf("load position: %w", err)
	}
	return p, nil
}

// Recent lists up to limit positions, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Position, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT script_key, segment_index, updated_at FROM positions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Forget removes the position for key.
func (s *Store) Forget(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE script_key = ?`, key)
	return err
}

// Prune drops positions not updated within maxAge and returns how many.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.clock().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune positions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("Pruned positions", "count", n)
	}
	return n, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(sc scanner) (Position, error) {
	var p Position
	var updated int64
	if err := sc.Scan(&p.Key, &p.Index, &updated); err != nil {
		return Position{}, err
	}
	p.UpdatedAt = time.UnixMilli(updated)
	return p, nil
}

// ResumeIndex picks where to restart a script of n segments: the segment
// that was playing, or the start when the script has since shrunk.
func ResumeIndex(p Position, n int) int {
	if p.Index < 0 || p.Index >= n {
		return 0
	}
	return p.Index
}
