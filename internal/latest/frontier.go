package latest

import (
	"sort"
)

// Frontier holds the states of every channel that may still hold the answer, keyed by
// channel ID. Iteration always happens in ascending channel ID order.
type Frontier map[string]*ChannelState

// IDs returns the channel IDs in ascending order.
func (f Frontier) IDs() []string {
	ids := make([]string, 0, len(f))
	for id := range f {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Only returns the single remaining state, or nil when the frontier does not hold exactly one.
func (f Frontier) Only() *ChannelState {
	if len(f) != 1 {
		return nil
	}
	for _, s := range f {
		return s
	}
	return nil
}

// Settled reports whether every state already holds a match, meaning no further
// pagination can change the outcome.
func (f Frontier) Settled() bool {
	for _, s := range f {
		if s.BestMatch == nil {
			return false
		}
	}
	return len(f) > 0
}

// ComputeBest returns the state with the newest BestMatch among prior and the frontier.
// prior is considered first, then the frontier in channel ID order; a later state
// replaces the running best only when its match is strictly newer.
func ComputeBest(frontier Frontier, prior *ChannelState) *ChannelState {
	best := prior
	if best != nil && best.BestMatch == nil {
		best = nil
	}
	for _, id := range frontier.IDs() {
		s := frontier[id]
		if s.BestMatch == nil {
			continue
		}
		if best == nil || s.BestMatch.Newer(best.BestMatch) {
			best = s
		}
	}
	return best
}

// PruneAgainst drops every state that can no longer produce a match at least as new as
// best. A state survives when its own match is not older than best's, or when it can
// still paginate and its earliest seen message is not older than best's match (or it has
// seen nothing yet). The returned frontier is a new map; the pruned states are returned
// in channel ID order. A nil best prunes nothing.
func PruneAgainst(frontier Frontier, best *ChannelState) (Frontier, []*ChannelState) {
	if best == nil || best.BestMatch == nil {
		return frontier, nil
	}

	bound := best.BestMatch.CreatedAt
	kept := make(Frontier, len(frontier))
	var pruned []*ChannelState

	for _, id := range frontier.IDs() {
		s := frontier[id]
		canTie := s.BestMatch != nil && !s.BestMatch.CreatedAt.Before(bound)
		canReveal := s.HasMore && (s.EarliestSeen == nil || !s.EarliestSeen.CreatedAt.Before(bound))
		if canTie || canReveal {
			kept[id] = s
			continue
		}
		pruned = append(pruned, s)
	}

	return kept, pruned
}
