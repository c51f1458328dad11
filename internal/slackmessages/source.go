package slackmessages

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ca-srg/lastmsg/internal/latest"
	"github.com/ca-srg/lastmsg/internal/types"
	"github.com/slack-go/slack"
)

const defaultPageSize = 100

// Source serves a Slack workspace to the latest-message search. It remembers the newest
// page of every channel it has fetched so that repeated searches start from it.
type Source struct {
	fetcher  *MessageFetcher
	pageSize int

	mu     sync.RWMutex
	newest map[string][]types.Message
}

var _ latest.Backend = (*Source)(nil)

// NewSource wraps fetcher. pageSize bounds every conversations.history request.
func NewSource(fetcher *MessageFetcher, pageSize int) *Source {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Source{
		fetcher:  fetcher,
		pageSize: pageSize,
		newest:   make(map[string][]types.Message),
	}
}

// CurrentPage returns the cached newest page of channel, or nil when none was fetched yet.
func (s *Source) CurrentPage(channel types.Channel) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newest[channel.ID]
}

// FetchOlder returns the page of messages strictly older than beforeID, newest first.
// An empty beforeID fetches the newest page and caches it.
func (s *Source) FetchOlder(ctx context.Context, channel types.Channel, beforeID string) ([]types.Message, error) {
	raw, err := s.fetcher.History(ctx, channel.ID, beforeID, s.pageSize)
	if err != nil {
		return nil, err
	}

	page := make([]types.Message, 0, len(raw))
	for _, msg := range raw {
		page = append(page, toSlackMessage(channel.ID, msg).ToMessage())
	}

	if beforeID == "" {
		s.mu.Lock()
		s.newest[channel.ID] = page
		s.mu.Unlock()
	}
	return page, nil
}

// ResolveUser maps a user ID, an email address or a user/display/real name to a user ID.
func (s *Source) ResolveUser(ctx context.Context, identifier string) (string, error) {
	ref := strings.TrimPrefix(strings.TrimSpace(identifier), "@")
	if ref == "" {
		return "", latest.ErrNotFound
	}

	switch {
	case looksLikeUserID(ref):
		user, err := s.fetcher.User(ctx, ref)
		if err != nil {
			return "", notFoundOr(err)
		}
		return user.ID, nil
	case strings.Contains(ref, "@"):
		user, err := s.fetcher.UserByEmail(ctx, ref)
		if err != nil {
			return "", notFoundOr(err)
		}
		return user.ID, nil
	}

	users, err := s.fetcher.Users(ctx)
	if err != nil {
		return "", err
	}
	for _, u := range users {
		if u.Deleted {
			continue
		}
		if strings.EqualFold(u.Name, ref) || strings.EqualFold(u.Profile.DisplayName, ref) || strings.EqualFold(u.RealName, ref) {
			return u.ID, nil
		}
	}
	return "", latest.ErrNotFound
}

// ResolveContainer returns the token's workspace. A non-empty identifier must match the
// team's ID, name or domain.
func (s *Source) ResolveContainer(ctx context.Context, identifier string) (types.Container, error) {
	team, err := s.fetcher.Team(ctx)
	if err != nil {
		return types.Container{}, notFoundOr(err)
	}

	ref := strings.TrimSpace(identifier)
	if ref != "" && ref != team.ID && !strings.EqualFold(ref, team.Name) && !strings.EqualFold(ref, team.Domain) {
		return types.Container{}, fmt.Errorf("token belongs to workspace %s (%s): %w", team.Name, team.ID, latest.ErrNotFound)
	}
	return types.Container{ID: team.ID, Name: team.Name}, nil
}

// ListChannels lists the non-archived channels the token can read.
func (s *Source) ListChannels(ctx context.Context, container types.Container) ([]types.Channel, error) {
	channels, err := s.fetcher.MemberChannels(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]types.Channel, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ToChannel(ch, container.ID))
	}
	return out, nil
}

// ToChannel converts a Slack conversation into a searchable channel, preferring the normalized name.
func ToChannel(ch slack.Channel, containerID string) types.Channel {
	name := ch.NameNormalized
	if name == "" {
		name = ch.Name
	}
	return types.Channel{ID: ch.ID, Name: name, ContainerID: containerID}
}

func notFoundOr(err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %v", latest.ErrNotFound, err)
	}
	return err
}

// looksLikeUserID matches Slack user IDs such as U024BE7LH or W012A3CDE.
func looksLikeUserID(s string) bool {
	if len(s) < 9 || (s[0] != 'U' && s[0] != 'W') {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
