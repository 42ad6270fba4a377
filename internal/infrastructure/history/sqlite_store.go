package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/ports"
)

// SQLiteStore persists history in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteStore creates (or opens) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// modernc serialises writers per connection.
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db, path: path}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history db: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		timestamp TEXT,
		prompt TEXT,
		model TEXT,
		outcome TEXT,
		attempts INTEGER,
		dsl TEXT,
		artifact_path TEXT,
		error TEXT,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS runs_timestamp ON runs(timestamp);`)
	return err
}

// timeLayout has a fixed width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const selectColumns = "SELECT run_id, timestamp, prompt, model, outcome, attempts, dsl, artifact_path, error, duration_ms FROM runs"

// Save inserts a record, replacing any earlier one with the same run id.
func (s *SQLiteStore) Save(ctx context.Context, record domain.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(run_id, timestamp, prompt, model, outcome, attempts, dsl, artifact_path, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunID,
		record.Timestamp.UTC().Format(timeLayout),
		record.Prompt,
		record.Model,
		string(record.Outcome),
		record.Attempts,
		record.DSL,
		record.ArtifactPath,
		record.Error,
		record.DurationMS,
	)
	return err
}

// Records returns history entries (limit/search optional).
func (s *SQLiteStore) Records(ctx context.Context, limit int, search string) ([]domain.HistoryRecord, error) {
	builder := strings.Builder{}
	builder.WriteString(selectColumns)
	var args []interface{}
	if search != "" {
		builder.WriteString(" WHERE prompt LIKE ? OR dsl LIKE ?")
		args = append(args, "%"+search+"%", "%"+search+"%")
	}
	builder.WriteString(" ORDER BY timestamp DESC")
	if limit > 0 {
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Find looks a run up by id.
func (s *SQLiteStore) Find(ctx context.Context, runID string) (domain.HistoryRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE run_id = ?", runID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HistoryRecord{}, false, nil
	}
	if err != nil {
		return domain.HistoryRecord{}, false, err
	}
	return rec, true, nil
}

// Clear deletes all history entries.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs")
	return err
}

// PruneOlderThan deletes entries older than days.
func (s *SQLiteStore) PruneOlderThan(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(timeLayout)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE timestamp < ?", cutoff)
	return err
}

// Path returns the sqlite database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (domain.HistoryRecord, error) {
	var rec domain.HistoryRecord
	var ts, outcome string
	if err := row.Scan(&rec.RunID, &ts, &rec.Prompt, &rec.Model, &outcome, &rec.Attempts,
		&rec.DSL, &rec.ArtifactPath, &rec.Error, &rec.DurationMS); err != nil {
		return rec, err
	}
	if t, err := time.ParseInLocation(timeLayout, ts, time.UTC); err == nil {
		rec.Timestamp = t
	}
	rec.Outcome = domain.Outcome(outcome)
	return rec, nil
}

var _ ports.HistoryRepository = (*SQLiteStore)(nil)
