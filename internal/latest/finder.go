package latest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ca-srg/lastmsg/internal/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Outcome describes how a search ended.
type Outcome string

const (
	// OutcomeConverged means a single newest match was identified.
	OutcomeConverged Outcome = "converged"
	// OutcomeExhausted means no channel holds a message by the user.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeUnresolved means the user or container could not be resolved.
	OutcomeUnresolved Outcome = "unresolved"
)

// Options tunes a search.
type Options struct {
	// Logging emits a diagnostic trace of every state transition and pruning decision.
	Logging bool
	// Logger receives the trace. Defaults to stderr.
	Logger *log.Logger
	// Concurrency bounds the page fetches issued at once within a round.
	Concurrency int
	// Strict makes Finder.Find return resolution failures instead of an empty result.
	Strict bool
}

// Result reports the outcome of a search together with the work it took.
type Result struct {
	RunID          string         `json:"run_id,omitempty"`
	Message        *types.Message `json:"message"`
	Outcome        Outcome        `json:"outcome"`
	Rounds         int            `json:"rounds"`
	PagesFetched   int            `json:"pages_fetched"`
	ChannelsSeeded int            `json:"channels_seeded"`
	ChannelsPruned int            `json:"channels_pruned"`
}

// FindLatestMessageByUser returns the newest message authored by userID across channels,
// or nil when the user has no message in any of them. Any failed page fetch aborts the
// search with a *FetchError.
func FindLatestMessageByUser(ctx context.Context, source PageSource, channels []types.Channel, userID string, opts Options) (*types.Message, error) {
	res, err := Search(ctx, source, channels, userID, opts)
	if err != nil {
		return nil, err
	}
	return res.Message, nil
}

// Search runs the search and returns the full Result.
func Search(ctx context.Context, source PageSource, channels []types.Channel, userID string, opts Options) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if source == nil {
		return nil, fmt.Errorf("page source cannot be nil")
	}
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}
	return newSearch(source, userID, opts).run(ctx, channels)
}

type search struct {
	source      PageSource
	userID      string
	concurrency int
	logging     bool
	logger      *log.Logger
	inst        *searchInstruments
	result      *Result
}

func newSearch(source PageSource, userID string, opts Options) *search {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "lastmsg ", log.LstdFlags)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &search{
		source:      source,
		userID:      userID,
		concurrency: concurrency,
		logging:     opts.Logging,
		logger:      logger,
		inst:        newSearchInstruments(logger),
		result:      &Result{RunID: uuid.New().String()},
	}
}

func (s *search) tracef(format string, args ...any) {
	if !s.logging {
		return
	}
	s.logger.Printf("[%s] "+format, append([]any{s.result.RunID[:8]}, args...)...)
}

// reduceTrace returns the per-message trace for channelID, or nil when logging is off.
func (s *search) reduceTrace(channelID string) Tracef {
	if !s.logging {
		return nil
	}
	return func(format string, args ...any) {
		s.tracef("channel %s: "+format, append([]any{channelID}, args...)...)
	}
}

func (s *search) run(ctx context.Context, channels []types.Channel) (*Result, error) {
	ctx, span := latestTracer.Start(ctx, "lastmsg.search")
	defer span.End()

	span.SetAttributes(
		attribute.String("lastmsg.run_id", s.result.RunID),
		attribute.Int("lastmsg.channel_count", len(channels)),
	)

	if err := s.loop(ctx, channels); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search_failed")
		return nil, err
	}

	res := s.result
	span.SetAttributes(
		attribute.String("lastmsg.outcome", string(res.Outcome)),
		attribute.Int("lastmsg.rounds", res.Rounds),
		attribute.Int("lastmsg.pages_fetched", res.PagesFetched),
		attribute.Int("lastmsg.channels_seeded", res.ChannelsSeeded),
		attribute.Int("lastmsg.channels_pruned", res.ChannelsPruned),
		attribute.Bool("lastmsg.found", res.Message != nil),
	)
	s.inst.recordRounds(ctx, res.Rounds, res.Outcome)

	return res, nil
}

func (s *search) loop(ctx context.Context, channels []types.Channel) error {
	frontier, err := s.seed(ctx, channels)
	if err != nil {
		return err
	}

	var best *ChannelState
	for round := 0; ; round++ {
		prefix := fmt.Sprintf("[round %d]", round)
		if err := ctx.Err(); err != nil {
			s.tracef("%s search aborted: %v", prefix, err)
			return err
		}

		if s.settle(frontier, best, prefix) {
			return nil
		}

		s.tracef("%s %d possible channels, updating, keeping or removing each", prefix, len(frontier))
		size := len(frontier)
		if err := s.advanceRound(ctx, frontier, round); err != nil {
			return err
		}
		s.result.Rounds++
		afterUpdate := len(frontier)

		best = ComputeBest(frontier, best)
		var pruned []*ChannelState
		frontier, pruned = PruneAgainst(frontier, best)
		for _, p := range pruned {
			s.tracef("%s pruning channel %s: nothing it can still reveal is newer than %s", prefix, p.Channel.ID, best.BestMatch)
		}
		s.result.ChannelsPruned += len(pruned)
		s.inst.recordPruned(ctx, len(pruned))

		s.tracef("%s started with %d channels, %d after updating, %d after pruning", prefix, size, afterUpdate, len(frontier))

		// Survivors that all hold a match tie with best on timestamp; paginating them
		// cannot produce anything newer.
		if len(frontier) > 1 && frontier.Settled() {
			s.tracef("%s every remaining channel has a match as new as %s, returning it", prefix, best.BestMatch)
			s.finish(best.BestMatch, OutcomeConverged)
			return nil
		}
	}
}

// settle decides whether the search can stop and records the answer when it can.
func (s *search) settle(frontier Frontier, best *ChannelState, prefix string) bool {
	if len(frontier) == 0 {
		if best != nil {
			s.tracef("%s no channels left, returning best candidate %s", prefix, best.BestMatch)
			s.finish(best.BestMatch, OutcomeConverged)
			return true
		}
		s.tracef("%s no channels left, the user has no message in any channel", prefix)
		s.finish(nil, OutcomeExhausted)
		return true
	}

	if only := frontier.Only(); only != nil && only.BestMatch != nil {
		s.tracef("%s one channel left with a matching message, returning %s", prefix, only.BestMatch)
		s.finish(only.BestMatch, OutcomeConverged)
		return true
	}

	return false
}

func (s *search) finish(msg *types.Message, outcome Outcome) {
	s.result.Message = msg
	s.result.Outcome = outcome
}

// seed builds the initial frontier, one state per channel that has any message.
func (s *search) seed(ctx context.Context, channels []types.Channel) (Frontier, error) {
	ctx, span := latestTracer.Start(ctx, "lastmsg.seed")
	defer span.End()

	unique := make([]types.Channel, 0, len(channels))
	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if _, ok := seen[ch.ID]; ok {
			continue
		}
		seen[ch.ID] = struct{}{}
		unique = append(unique, ch)
	}

	states := make([]*ChannelState, len(unique))
	fetched := make([]bool, len(unique))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, ch := range unique {
		g.Go(func() error {
			state, didFetch, err := seedChannel(gCtx, s.source, ch, s.userID, s.reduceTrace(ch.ID))
			fetched[i] = didFetch
			if err != nil {
				return err
			}
			states[i] = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "seed_failed")
		return nil, err
	}

	frontier := make(Frontier, len(unique))
	pages := 0
	for i, state := range states {
		if fetched[i] {
			pages++
		}
		if state == nil {
			s.tracef("no messages found in channel %s, skipping it entirely", unique[i].ID)
			continue
		}
		s.tracef("found messages in channel %s, initializing state:\n\t%s", state.Channel.ID, state)
		frontier[state.Channel.ID] = state
	}

	s.result.ChannelsSeeded = len(frontier)
	s.result.PagesFetched += pages
	s.inst.recordPages(ctx, pages, "seed")
	span.SetAttributes(
		attribute.Int("lastmsg.channels_seeded", len(frontier)),
		attribute.Int("lastmsg.pages", pages),
	)

	return frontier, nil
}

// advanceRound applies one round of updates to frontier in place. States with a match
// are kept as they are, states that can still paginate get their next older page, and
// states with neither are removed. Fetches run concurrently and are written back only
// after all of them succeeded.
func (s *search) advanceRound(ctx context.Context, frontier Frontier, round int) error {
	ctx, span := latestTracer.Start(ctx, "lastmsg.round", trace.WithAttributes(
		attribute.Int("lastmsg.round", round),
		attribute.Int("lastmsg.frontier_size", len(frontier)),
	))
	defer span.End()

	ids := frontier.IDs()
	var pending []*ChannelState
	for i, id := range ids {
		state := frontier[id]
		prefix := fmt.Sprintf("[round %d] (%d/%d, channel %s)", round, i+1, len(ids), id)
		switch {
		case state.BestMatch != nil:
			s.tracef("%s has a matching message; older pages cannot hold a newer one, keeping it for comparison", prefix)
		case state.HasMore:
			s.tracef("%s has more messages but no match yet, fetching older messages", prefix)
			pending = append(pending, state)
		default:
			s.tracef("%s has no more messages and no match, removing it", prefix)
			delete(frontier, id)
		}
	}

	updated := make([]*ChannelState, len(pending))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, state := range pending {
		g.Go(func() error {
			next, err := state.advance(gCtx, s.source, s.userID, s.reduceTrace(state.Channel.ID))
			if err != nil {
				return err
			}
			updated[i] = next
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch_failed")
		return err
	}

	for i, next := range updated {
		s.tracef("[round %d] channel %s updated from:\n\t%s\nto:\n\t%s", round, next.Channel.ID, pending[i], next)
		frontier[next.Channel.ID] = next
	}

	s.result.PagesFetched += len(pending)
	s.inst.recordPages(ctx, len(pending), "round")
	span.SetAttributes(attribute.Int("lastmsg.pages", len(pending)))

	return nil
}

// Finder resolves caller supplied identifiers and runs the search against a page source.
type Finder struct {
	resolver Resolver
	source   PageSource
	opts     Options
	logger   *log.Logger
}

// NewFinder constructs a Finder.
func NewFinder(resolver Resolver, source PageSource, opts Options) *Finder {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "lastmsg ", log.LstdFlags)
		opts.Logger = logger
	}
	return &Finder{
		resolver: resolver,
		source:   source,
		opts:     opts,
		logger:   logger,
	}
}

// Find resolves userRef and containerRef and returns the newest message by that user in
// any channel of the container. Unresolvable identifiers yield an OutcomeUnresolved
// result without error unless Options.Strict is set.
func (f *Finder) Find(ctx context.Context, containerRef, userRef string) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	userID, err := f.resolver.ResolveUser(ctx, userRef)
	if err == nil && userID == "" {
		err = ErrNotFound
	}
	if err != nil {
		return f.unresolved(ctx, &ResolutionError{Kind: ResolutionUser, Identifier: userRef, Cause: err})
	}

	container, err := f.resolver.ResolveContainer(ctx, containerRef)
	if err != nil {
		return f.unresolved(ctx, &ResolutionError{Kind: ResolutionContainer, Identifier: containerRef, Cause: err})
	}

	channels, err := f.resolver.ListChannels(ctx, container)
	if err != nil {
		return nil, &FetchError{Cause: err}
	}

	if f.opts.Logging {
		f.logger.Printf("searching %d channels in %s (%s) for user %s", len(channels), container.ID, container.Name, userID)
	}

	return Search(ctx, f.source, channels, userID, f.opts)
}

func (f *Finder) unresolved(ctx context.Context, err *ResolutionError) (*Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if f.opts.Strict {
		return nil, err
	}
	if f.opts.Logging {
		f.logger.Printf("could not %v; returning no result", err)
	}
	return &Result{Outcome: OutcomeUnresolved}, nil
}
