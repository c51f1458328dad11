package latest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ca-srg/lastmsg/internal/types"
)

var baseTime = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

// msg builds a message created t seconds after baseTime. The ID is derived from t so
// that IDs grow with time like real snowflakes.
func msg(channelID string, t int, author string) types.Message {
	return types.Message{
		ID:        strconv.Itoa(1000 + t),
		ChannelID: channelID,
		AuthorID:  author,
		CreatedAt: baseTime.Add(time.Duration(t) * time.Second),
	}
}

type fetchCall struct {
	ChannelID string
	BeforeID  string
}

// memSource serves channel histories from memory with a fixed page size.
type memSource struct {
	mu       sync.Mutex
	pageSize int
	history  map[string][]types.Message
	cache    map[string][]types.Message
	failOn   map[fetchCall]error
	calls    []fetchCall
}

func newMemSource(pageSize int, channels map[string][]types.Message) *memSource {
	history := make(map[string][]types.Message, len(channels))
	for id, msgs := range channels {
		sorted := append([]types.Message(nil), msgs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Newer(&sorted[j]) })
		history[id] = sorted
	}
	return &memSource{
		pageSize: pageSize,
		history:  history,
		cache:    make(map[string][]types.Message),
		failOn:   make(map[fetchCall]error),
	}
}

func (s *memSource) channels() []types.Channel {
	ids := make([]string, 0, len(s.history))
	for id := range s.history {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]types.Channel, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Channel{ID: id, Name: "ch-" + id})
	}
	return out
}

func (s *memSource) cacheAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, msgs := range s.history {
		s.cache[id] = append([]types.Message(nil), msgs...)
	}
}

func (s *memSource) CurrentPage(channel types.Channel) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache[channel.ID]
}

func (s *memSource) FetchOlder(ctx context.Context, channel types.Channel, beforeID string) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	call := fetchCall{ChannelID: channel.ID, BeforeID: beforeID}
	s.calls = append(s.calls, call)
	if err, ok := s.failOn[call]; ok {
		return nil, err
	}

	msgs := s.history[channel.ID]
	start := 0
	if beforeID != "" {
		start = -1
		for i := range msgs {
			if msgs[i].ID == beforeID {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("unknown message %s in channel %s", beforeID, channel.ID)
		}
	}
	end := start + s.pageSize
	if end > len(msgs) {
		end = len(msgs)
	}
	return append([]types.Message(nil), msgs[start:end]...), nil
}

func (s *memSource) fetchCalls() []fetchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fetchCall(nil), s.calls...)
}

func (s *memSource) paginationCalls() []fetchCall {
	var out []fetchCall
	for _, c := range s.fetchCalls() {
		if c.BeforeID != "" {
			out = append(out, c)
		}
	}
	return out
}

// stuckSource returns the same newest page no matter what beforeID is.
type stuckSource struct {
	*memSource
}

func (s stuckSource) FetchOlder(ctx context.Context, channel types.Channel, _ string) ([]types.Message, error) {
	return s.memSource.FetchOlder(ctx, channel, "")
}
