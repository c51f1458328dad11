package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ca-srg/lastmsg/internal/latest"
	"github.com/ca-srg/lastmsg/internal/types"
)

// Source serves an archive database to the latest-message search.
type Source struct {
	store    *Store
	pageSize int

	mu     sync.RWMutex
	newest map[string][]types.Message
}

var _ latest.Backend = (*Source)(nil)

// NewSource wraps store. pageSize bounds every page read.
func NewSource(store *Store, pageSize int) *Source {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Source{
		store:    store,
		pageSize: pageSize,
		newest:   make(map[string][]types.Message),
	}
}

// CurrentPage returns the newest page read for channel during this process, if any.
func (s *Source) CurrentPage(channel types.Channel) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newest[channel.ID]
}

// FetchOlder returns the page strictly older than beforeID, or the newest page.
func (s *Source) FetchOlder(ctx context.Context, channel types.Channel, beforeID string) ([]types.Message, error) {
	page, err := s.store.Page(ctx, channel.ID, beforeID, s.pageSize)
	if err != nil {
		return nil, err
	}
	if beforeID == "" {
		s.mu.Lock()
		s.newest[channel.ID] = page
		s.mu.Unlock()
	}
	return page, nil
}

// ResolveUser matches identifier against user IDs, names, display names, real names and
// emails, case-insensitively. An ID with archived messages but no directory entry still
// resolves to itself.
func (s *Source) ResolveUser(ctx context.Context, identifier string) (string, error) {
	ref := strings.TrimPrefix(strings.TrimSpace(identifier), "@")
	if ref == "" {
		return "", latest.ErrNotFound
	}

	var id string
	err := s.store.db.QueryRowContext(ctx, `
		SELECT id FROM users
		WHERE id = ?
			OR name = ? COLLATE NOCASE
			OR display_name = ? COLLATE NOCASE
			OR real_name = ? COLLATE NOCASE
			OR email = ? COLLATE NOCASE
		ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END, id
		LIMIT 1
	`, ref, ref, ref, ref, ref, ref).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up user %q: %w", ref, err)
	}

	err = s.store.db.QueryRowContext(ctx, `SELECT author_id FROM messages WHERE author_id = ? LIMIT 1`, ref).Scan(&id)
	if err == nil {
		return id, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", latest.ErrNotFound
	}
	return "", fmt.Errorf("failed to look up author %q: %w", ref, err)
}

// ResolveContainer matches identifier against container IDs and names. An empty
// identifier resolves when the archive holds exactly one container.
func (s *Source) ResolveContainer(ctx context.Context, identifier string) (types.Container, error) {
	containers, err := s.store.Containers(ctx)
	if err != nil {
		return types.Container{}, err
	}

	ref := strings.TrimSpace(identifier)
	if ref == "" {
		if len(containers) == 1 {
			return containers[0], nil
		}
		return types.Container{}, fmt.Errorf("archive holds %d containers, name one: %w", len(containers), latest.ErrNotFound)
	}

	for _, c := range containers {
		if c.ID == ref {
			return c, nil
		}
	}
	for _, c := range containers {
		if strings.EqualFold(c.Name, ref) {
			return c, nil
		}
	}
	return types.Container{}, latest.ErrNotFound
}

// ListChannels returns every archived channel of container.
func (s *Source) ListChannels(ctx context.Context, container types.Container) ([]types.Channel, error) {
	return s.store.Channels(ctx, container.ID)
}
