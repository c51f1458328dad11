package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ca-srg/lastmsg/internal/types"
)

// Outcome labels how a recorded search ended.
type Outcome string

const (
	OutcomeFound      Outcome = "found"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeFailed     Outcome = "failed"
)

// Sources lists every backend a search can be recorded against.
var Sources = []types.Source{types.SourceSlack, types.SourceArchive, types.SourceS3}

// Key identifies one row of the cumulative totals.
type Key struct {
	Source  types.Source
	Outcome Outcome
}

// Store manages SQLite persistence for search counts.
type Store struct {
	db *sql.DB
}

// NewStoreWithPath creates a Store with the database at dbPath.
// The parent directory and database file are created if they don't exist.
func NewStoreWithPath(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create stats directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS search_counts (
			source TEXT NOT NULL,
			outcome TEXT NOT NULL,
			date TEXT NOT NULL,
			count INTEGER DEFAULT 0,
			PRIMARY KEY (source, outcome, date)
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &Store{db: db}, nil
}

// Date formats t the way counts are bucketed.
func Date(t time.Time) string {
	return t.Format("2006-01-02")
}

// Increment increments today's count for the given source and outcome.
func (s *Store) Increment(source types.Source, outcome Outcome) error {
	today := Date(time.Now())

	upsertSQL := `
		INSERT INTO search_counts (source, outcome, date, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(source, outcome, date) DO UPDATE SET count = count + 1;
	`
	if _, err := s.db.Exec(upsertSQL, string(source), string(outcome), today); err != nil {
		return fmt.Errorf("failed to increment count: %w", err)
	}

	return nil
}

// GetTotalBySource returns the cumulative count for a source across all outcomes and dates.
func (s *Store) GetTotalBySource(source types.Source) (int64, error) {
	var total int64
	row := s.db.QueryRow(
		"SELECT COALESCE(SUM(count), 0) FROM search_counts WHERE source = ?",
		string(source),
	)
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to get total for source %s: %w", source, err)
	}
	return total, nil
}

// GetAllTotals returns cumulative counts keyed by source and outcome.
func (s *Store) GetAllTotals() (map[Key]int64, error) {
	result := make(map[Key]int64)

	rows, err := s.db.Query(
		"SELECT source, outcome, COALESCE(SUM(count), 0) FROM search_counts GROUP BY source, outcome",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var source, outcome string
		var total int64
		if err := rows.Scan(&source, &outcome, &total); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result[Key{Source: types.Source(source), Outcome: Outcome(outcome)}] = total
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// GetCountByDate returns the count for a source and outcome on a date (YYYY-MM-DD).
func (s *Store) GetCountByDate(source types.Source, outcome Outcome, date string) (int64, error) {
	var count int64
	row := s.db.QueryRow(
		"SELECT COALESCE(count, 0) FROM search_counts WHERE source = ? AND outcome = ? AND date = ?",
		string(source), string(outcome), date,
	)
	if err := row.Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get count: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
