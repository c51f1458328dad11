package latest

import (
	"context"
	"fmt"
	"strings"

	"github.com/ca-srg/lastmsg/internal/types"
)

// ChannelState tracks the search progress of a single channel.
//
// EarliestSeen is the oldest message observed in the channel by any author and bounds
// what further pagination can reveal. BestMatch is the newest observed message by the
// target user. Both are nil until observed. A state with HasMore false is final.
type ChannelState struct {
	Channel      types.Channel
	HasMore      bool
	EarliestSeen *types.Message
	BestMatch    *types.Message
}

// Disqualified reports whether the state can never contribute a match.
func (s *ChannelState) Disqualified() bool {
	return s.BestMatch == nil && !s.HasMore
}

// NeedsFetch reports whether the state is still looking for its first match.
func (s *ChannelState) NeedsFetch() bool {
	return s.BestMatch == nil && s.HasMore
}

// String renders the state across several lines for the diagnostic trace.
func (s *ChannelState) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "more messages in channel: %t", s.HasMore)
	if s.BestMatch != nil {
		fmt.Fprintf(&b, "\n\tmost recent matching message: %s", s.BestMatch)
	} else {
		b.WriteString("\n\tmost recent matching message: none so far")
	}
	if s.EarliestSeen != nil {
		fmt.Fprintf(&b, "\n\tearliest message: %s", s.EarliestSeen)
	} else {
		b.WriteString("\n\tearliest message: none so far")
	}
	return b.String()
}

// newChannelState seeds a state from the channel's first batch. It returns nil when the
// batch is empty. HasMore starts true because older pages may hold a match even when
// this batch does not.
func newChannelState(channel types.Channel, batch []types.Message, userID string, trace Tracef) *ChannelState {
	if len(batch) == 0 {
		return nil
	}
	return &ChannelState{
		Channel:      channel,
		HasMore:      true,
		BestMatch:    Reduce(batch, userID, Latest, nil, trace),
		EarliestSeen: Reduce(batch, "", Earliest, nil, trace),
	}
}

// seedChannel loads the channel's cached batch, or its newest page when nothing is cached.
func seedChannel(ctx context.Context, source PageSource, channel types.Channel, userID string, trace Tracef) (*ChannelState, bool, error) {
	batch := source.CurrentPage(channel)
	fetched := false
	if len(batch) == 0 {
		page, err := source.FetchOlder(ctx, channel, "")
		if err != nil {
			return nil, true, &FetchError{ChannelID: channel.ID, Cause: err}
		}
		batch = page
		fetched = true
	}
	return newChannelState(channel, batch, userID, trace), fetched, nil
}

// advance fetches the next older page and returns the updated state. The receiver is
// not modified. It must only be called on states where NeedsFetch is true.
func (s *ChannelState) advance(ctx context.Context, source PageSource, userID string, trace Tracef) (*ChannelState, error) {
	beforeID := ""
	if s.EarliestSeen != nil {
		beforeID = s.EarliestSeen.ID
	}

	page, err := source.FetchOlder(ctx, s.Channel, beforeID)
	if err != nil {
		return nil, &FetchError{ChannelID: s.Channel.ID, BeforeID: beforeID, Cause: err}
	}

	next := &ChannelState{
		Channel:      s.Channel,
		HasMore:      len(page) > 0,
		BestMatch:    Reduce(page, userID, Latest, s.BestMatch, trace),
		EarliestSeen: Reduce(page, "", Earliest, s.EarliestSeen, trace),
	}

	if next.HasMore && s.EarliestSeen != nil && next.EarliestSeen == s.EarliestSeen {
		return nil, &FetchError{ChannelID: s.Channel.ID, BeforeID: beforeID, Cause: ErrStalledPage}
	}

	return next, nil
}
