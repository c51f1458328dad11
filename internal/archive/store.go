package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ca-srg/lastmsg/internal/types"
	_ "modernc.org/sqlite"
)

// User is a directory entry kept alongside archived messages so that searches can be
// addressed by name or email instead of by ID.
type User struct {
	ID          string
	ContainerID string
	Name        string
	DisplayName string
	RealName    string
	Email       string
}

// Store manages SQLite persistence for archived workspaces.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive database at dbPath, creating its directory first.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store, err := NewStoreWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithDB creates a Store with an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	statements := []struct {
		name string
		sql  string
	}{
		{"containers table", `
			CREATE TABLE IF NOT EXISTS containers (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT ''
			);`},
		{"channels table", `
			CREATE TABLE IF NOT EXISTS channels (
				id TEXT PRIMARY KEY,
				container_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT ''
			);`},
		{"users table", `
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				container_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL DEFAULT '',
				display_name TEXT NOT NULL DEFAULT '',
				real_name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL DEFAULT ''
			);`},
		{"messages table", `
			CREATE TABLE IF NOT EXISTS messages (
				channel_id TEXT NOT NULL,
				id TEXT NOT NULL,
				author_id TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				text TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (channel_id, id)
			);`},
		{"channel index", `
			CREATE INDEX IF NOT EXISTS idx_channels_container
			ON channels(container_id);`},
		{"message index", `
			CREATE INDEX IF NOT EXISTS idx_messages_channel_created
			ON messages(channel_id, created_at DESC, id DESC);`},
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}
	return nil
}

// SaveContainer inserts or renames a container.
func (s *Store) SaveContainer(ctx context.Context, c types.Container) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO containers (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name;
	`, c.ID, c.Name)
	if err != nil {
		return fmt.Errorf("failed to save container %s: %w", c.ID, err)
	}
	return nil
}

// SaveChannels inserts or updates channels.
func (s *Store) SaveChannels(ctx context.Context, channels []types.Channel) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO channels (id, container_id, name) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				container_id = excluded.container_id,
				name = excluded.name;
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare channel upsert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, ch := range channels {
			if _, err := stmt.ExecContext(ctx, ch.ID, ch.ContainerID, ch.Name); err != nil {
				return fmt.Errorf("failed to save channel %s: %w", ch.ID, err)
			}
		}
		return nil
	})
}

// SaveUsers inserts or updates directory entries.
func (s *Store) SaveUsers(ctx context.Context, users []User) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO users (id, container_id, name, display_name, real_name, email)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				container_id = excluded.container_id,
				name = excluded.name,
				display_name = excluded.display_name,
				real_name = excluded.real_name,
				email = excluded.email;
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare user upsert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, u := range users {
			if _, err := stmt.ExecContext(ctx, u.ID, u.ContainerID, u.Name, u.DisplayName, u.RealName, u.Email); err != nil {
				return fmt.Errorf("failed to save user %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

// SaveMessages inserts or updates messages. Messages are keyed by channel and ID, so
// re-importing the same history is harmless.
func (s *Store) SaveMessages(ctx context.Context, messages []types.Message) (int, error) {
	saved := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (channel_id, id, author_id, created_at, text)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(channel_id, id) DO UPDATE SET
				author_id = excluded.author_id,
				created_at = excluded.created_at,
				text = excluded.text;
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare message upsert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, m := range messages {
			if m.ChannelID == "" || m.ID == "" {
				return fmt.Errorf("message %q in channel %q is missing its key", m.ID, m.ChannelID)
			}
			if _, err := stmt.ExecContext(ctx, m.ChannelID, m.ID, m.AuthorID, m.CreatedAt.UnixNano(), m.Text); err != nil {
				return fmt.Errorf("failed to save message %s/%s: %w", m.ChannelID, m.ID, err)
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// Page returns up to limit messages of channelID strictly older than beforeID, newest
// first. An empty beforeID returns the newest page.
func (s *Store) Page(ctx context.Context, channelID, beforeID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if beforeID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT channel_id, id, author_id, created_at, text
			FROM messages
			WHERE channel_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, channelID, limit)
	} else {
		var before int64
		row := s.db.QueryRowContext(ctx, `SELECT created_at FROM messages WHERE channel_id = ? AND id = ?`, channelID, beforeID)
		if scanErr := row.Scan(&before); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return nil, fmt.Errorf("message %s not found in channel %s", beforeID, channelID)
			}
			return nil, fmt.Errorf("failed to look up message %s: %w", beforeID, scanErr)
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT channel_id, id, author_id, created_at, text
			FROM messages
			WHERE channel_id = ? AND (created_at < ? OR (created_at = ? AND id < ?))
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, channelID, before, before, beforeID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var page []types.Message
	for rows.Next() {
		var (
			m         types.Message
			createdAt int64
		)
		if err := rows.Scan(&m.ChannelID, &m.ID, &m.AuthorID, &createdAt, &m.Text); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return page, nil
}

// Containers returns every archived container ordered by ID.
func (s *Store) Containers(ctx context.Context) ([]types.Container, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM containers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query containers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Container
	for rows.Next() {
		var c types.Container
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Channels returns the channels of containerID ordered by ID.
func (s *Store) Channels(ctx context.Context, containerID string) ([]types.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, container_id, name FROM channels WHERE container_id = ? ORDER BY id
	`, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Channel
	for rows.Next() {
		var ch types.Channel
		if err := rows.Scan(&ch.ID, &ch.ContainerID, &ch.Name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Counts reports the number of archived containers, channels, users and messages.
type Counts struct {
	Containers int64
	Channels   int64
	Users      int64
	Messages   int64
}

// Counts returns row counts for every archived entity.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM containers),
			(SELECT COUNT(*) FROM channels),
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM messages)
	`)
	if err := row.Scan(&c.Containers, &c.Channels, &c.Users, &c.Messages); err != nil {
		return Counts{}, fmt.Errorf("failed to count rows: %w", err)
	}
	return c, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
