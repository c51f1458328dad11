package slackmessages

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

// SlackAPI defines the subset of Slack Web API used by the MessageFetcher.
type SlackAPI interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slack.User, error)
	GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
	GetUserByEmailContext(ctx context.Context, email string) (*slack.User, error)
	GetTeamInfoContext(ctx context.Context) (*slack.TeamInfo, error)
}

// MessageFetcher retrieves Slack messages and directory data with rate limiting and retries.
type MessageFetcher struct {
	client      SlackAPI
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration
	logger      *log.Logger

	userCache   map[string]*slack.User
	userCacheMu sync.RWMutex
}

// FetcherOption configures MessageFetcher.
type FetcherOption func(*MessageFetcher)

// WithRateLimiter overrides the default rate limiter.
func WithRateLimiter(l *rate.Limiter) FetcherOption {
	return func(f *MessageFetcher) {
		f.limiter = l
	}
}

// WithRatePerMinute sets a limiter allowing n requests per minute.
func WithRatePerMinute(n int) FetcherOption {
	return func(f *MessageFetcher) {
		if n > 0 {
			f.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
		}
	}
}

// WithMaxRetries overrides the default retry attempts.
func WithMaxRetries(n int) FetcherOption {
	return func(f *MessageFetcher) {
		if n > 0 {
			f.maxRetries = n
		}
	}
}

// WithBackoffBase overrides the initial backoff duration for retries.
func WithBackoffBase(d time.Duration) FetcherOption {
	return func(f *MessageFetcher) {
		if d > 0 {
			f.backoffBase = d
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) FetcherOption {
	return func(f *MessageFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewMessageFetcher constructs a MessageFetcher with sensible defaults.
func NewMessageFetcher(client SlackAPI, opts ...FetcherOption) *MessageFetcher {
	fetcher := &MessageFetcher{
		client:      client,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/50), 1), // conversations.history is a tier 3 method
		maxRetries:  3,
		backoffBase: time.Second,
		logger:      log.New(os.Stdout, "slack-fetcher ", log.LstdFlags),
		userCache:   make(map[string]*slack.User),
	}
	for _, opt := range opts {
		opt(fetcher)
	}
	return fetcher
}

// FetchMessages retrieves messages for the specified configuration. It walks every page
// of each channel and is meant for archiving, not for the latest-message search.
func (f *MessageFetcher) FetchMessages(ctx context.Context, cfg FetchConfig) ([]SlackMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	channels, err := f.resolveChannels(ctx, cfg.ChannelIDs)
	if err != nil {
		return nil, err
	}

	var allMessages []SlackMessage
	for _, ch := range channels {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		messages, err := f.fetchChannelMessages(ctx, ch, cfg)
		if err != nil {
			return nil, err
		}
		allMessages = append(allMessages, messages...)
	}

	return allMessages, nil
}

// History returns up to limit messages older than latest (exclusive), newest first.
// An empty latest returns the newest page.
func (f *MessageFetcher) History(ctx context.Context, channelID, latest string, limit int) ([]slack.Message, error) {
	resp, err := f.getConversationHistory(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Latest:    latest,
		Inclusive: false,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("history channel=%s: %w", channelID, err)
	}
	return resp.Messages, nil
}

// MemberChannels lists the non-archived conversations the token's user is a member of.
func (f *MessageFetcher) MemberChannels(ctx context.Context, teamID string) ([]slack.Channel, error) {
	all, err := f.listAllChannels(ctx, teamID)
	if err != nil {
		return nil, err
	}
	channels := make([]slack.Channel, 0, len(all))
	for _, ch := range all {
		if ch.IsArchived || !ch.IsMember {
			continue
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func (f *MessageFetcher) resolveChannels(ctx context.Context, requested []string) ([]slack.Channel, error) {
	if len(requested) == 0 {
		return f.MemberChannels(ctx, "")
	}

	var channels []slack.Channel
	for _, id := range requested {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		channel, err := f.getChannelInfo(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get channel info %s: %w", id, err)
		}
		channels = append(channels, *channel)
	}
	return channels, nil
}

func (f *MessageFetcher) listAllChannels(ctx context.Context, teamID string) ([]slack.Channel, error) {
	var (
		channels []slack.Channel
		cursor   string
	)
	for {
		params := &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: true,
			Limit:           200,
			Types:           []string{"public_channel", "private_channel"},
			TeamID:          teamID,
		}
		result, nextCursor, err := f.getConversations(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		channels = append(channels, result...)
		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}
	return channels, nil
}

func (f *MessageFetcher) fetchChannelMessages(ctx context.Context, channel slack.Channel, cfg FetchConfig) ([]SlackMessage, error) {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	var (
		allMessages []SlackMessage
		cursor      string
		remaining   = cfg.Limit
	)

	for {
		params := &slack.GetConversationHistoryParameters{
			ChannelID: channel.ID,
			Cursor:    cursor,
			Limit:     pageSize,
		}
		if cfg.From != nil && !cfg.From.IsZero() {
			params.Oldest = FormatTimestamp(*cfg.From)
		}
		if cfg.To != nil && !cfg.To.IsZero() {
			params.Latest = FormatTimestamp(*cfg.To)
		}
		if remaining > 0 && remaining < pageSize {
			params.Limit = remaining
		}

		resp, err := f.getConversationHistory(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("history channel=%s: %w", channel.ID, err)
		}

		for _, msg := range resp.Messages {
			if remaining > 0 && len(allMessages) >= cfg.Limit {
				return allMessages, nil
			}
			if !f.shouldIncludeMessage(msg, cfg) {
				continue
			}
			allMessages = append(allMessages, toSlackMessage(channel.ID, msg))

			if cfg.IncludeThreads && msg.ThreadTimestamp != "" && msg.ThreadTimestamp == msg.Timestamp {
				threadMsgs, err := f.fetchThreadReplies(ctx, channel, msg, cfg)
				if err != nil {
					return nil, err
				}
				allMessages = append(allMessages, threadMsgs...)
			}
		}

		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		if remaining > 0 && len(allMessages) >= cfg.Limit {
			break
		}
		if len(resp.Messages) == 0 {
			// No progress, avoid potential infinite loop
			break
		}
		cursor = resp.ResponseMetaData.NextCursor
	}

	return allMessages, nil
}

func (f *MessageFetcher) fetchThreadReplies(ctx context.Context, channel slack.Channel, parent slack.Message, cfg FetchConfig) ([]SlackMessage, error) {
	var (
		cursor string
		result []SlackMessage
	)

	for {
		params := &slack.GetConversationRepliesParameters{
			ChannelID: channel.ID,
			Timestamp: parent.ThreadTimestamp,
			Cursor:    cursor,
		}
		messages, hasMore, next, err := f.getConversationReplies(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("thread messages channel=%s ts=%s: %w", channel.ID, parent.ThreadTimestamp, err)
		}

		for _, msg := range messages {
			// Slack includes the parent message as part of replies; skip duplicates.
			if msg.Timestamp == parent.Timestamp {
				continue
			}
			if !f.shouldIncludeMessage(msg, cfg) {
				continue
			}
			result = append(result, toSlackMessage(channel.ID, msg))
		}

		if !hasMore || next == "" {
			break
		}
		cursor = next
	}

	return result, nil
}

func toSlackMessage(channelID string, msg slack.Message) SlackMessage {
	return SlackMessage{
		ChannelID: channelID,
		UserID:    msg.User,
		BotID:     msg.BotID,
		SubType:   msg.SubType,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	}
}

// shouldIncludeMessage keeps channel events so archived pages line up with live ones;
// ToMessage strips their author.
func (f *MessageFetcher) shouldIncludeMessage(msg slack.Message, cfg FetchConfig) bool {
	return !cfg.ExcludeBots || !isBotMessage(msg)
}

// Team returns the workspace the token belongs to.
func (f *MessageFetcher) Team(ctx context.Context) (*slack.TeamInfo, error) {
	var team *slack.TeamInfo
	err := f.withRetry(ctx, "team.info", func() error {
		if err := f.waitRate(ctx); err != nil {
			return err
		}
		var err error
		team, err = f.client.GetTeamInfoContext(ctx)
		return err
	})
	return team, err
}

// Users lists every user in the workspace.
func (f *MessageFetcher) Users(ctx context.Context) ([]slack.User, error) {
	var users []slack.User
	err := f.withRetry(ctx, "users.list", func() error {
		if err := f.waitRate(ctx); err != nil {
			return err
		}
		var err error
		users, err = f.client.GetUsersContext(ctx, slack.GetUsersOptionLimit(200))
		return err
	})
	if err != nil {
		return nil, err
	}

	f.userCacheMu.Lock()
	for i := range users {
		f.userCache[users[i].ID] = &users[i]
	}
	f.userCacheMu.Unlock()

	return users, nil
}

// UserByEmail looks a user up by email address.
func (f *MessageFetcher) UserByEmail(ctx context.Context, email string) (*slack.User, error) {
	var user *slack.User
	err := f.withRetry(ctx, "users.lookupByEmail", func() error {
		if err := f.waitRate(ctx); err != nil {
			return err
		}
		var err error
		user, err = f.client.GetUserByEmailContext(ctx, email)
		return err
	})
	return user, err
}

// User returns the user with the given ID, served from cache when possible.
func (f *MessageFetcher) User(ctx context.Context, userID string) (*slack.User, error) {
	f.userCacheMu.RLock()
	if user, ok := f.userCache[userID]; ok {
		f.userCacheMu.RUnlock()
		return user, nil
	}
	f.userCacheMu.RUnlock()

	var user *slack.User
	err := f.withRetry(ctx, "users.info", func() error {
		if err := f.waitRate(ctx); err != nil {
			return err
		}
		var err error
		user, err = f.client.GetUserInfoContext(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	f.userCacheMu.Lock()
	f.userCache[userID] = user
	f.userCacheMu.Unlock()

	return user, nil
}

func (f *MessageFetcher) getConversations(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	var (
		result []slack.Channel
		cursor string
	)
	err := f.withRetry(ctx, "conversations.list", func() error {
		if err := f.waitRate(ctx); err != nil {
			return err
		}
		var err error
		result, cursor, err = f.client.GetConversationsContext(ctx, params)
		return err
	})
	return result, cursor, err
}

func (f *MessageFetcher) getChannelInfo(ctx context.Context, id string) (*slack.Channel, error) {
	var ch *slack.Channel
	err := f.withRetry(ctx, "conversations.info", func() error {
		if err := f.waitRate(ctx); err != nil {
			return err
		}
		var err error
		ch, err = f.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: id})
		return err
	})
	return ch, err
}

func (f *MessageFetcher) getConversationHistory(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	var resp *slack.GetConversationHistoryResponse
	err := f.withRetry(ctx, "conversations.history", func() error {
		if err := f.waitRate(ctx); err != nil {
			return err
		}
		var err error
		resp, err = f.client.GetConversationHistoryContext(ctx, params)
		return err
	})
	return resp, err
}

func (f *MessageFetcher) getConversationReplies(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	var (
		messages []slack.Message
		hasMore  bool
		cursor   string
	)
	err := f.withRetry(ctx, "conversations.replies", func() error {
		if err := f.waitRate(ctx); err != nil {
			return err
		}
		var err error
		messages, hasMore, cursor, err = f.client.GetConversationRepliesContext(ctx, params)
		return err
	})
	return messages, hasMore, cursor, err
}

func (f *MessageFetcher) waitRate(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	return f.limiter.Wait(ctx)
}

func (f *MessageFetcher) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	attempts := f.maxRetries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !f.shouldRetry(err) || attempt == attempts-1 {
			break
		}

		wait := f.backoffBase * time.Duration(1<<attempt)
		var rle *slack.RateLimitedError
		if errors.As(err, &rle) && rle.RetryAfter > wait {
			wait = rle.RetryAfter
		}
		f.logf("retry operation=%s attempt=%d wait=%s err=%v", operation, attempt+1, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}

func (f *MessageFetcher) shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return true
	}
	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return false
}

func (f *MessageFetcher) logf(format string, args ...interface{}) {
	if f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}

// isNotFound reports whether Slack rejected a lookup because the object does not exist.
func isNotFound(err error) bool {
	var slackErr slack.SlackErrorResponse
	if !errors.As(err, &slackErr) {
		return false
	}
	switch slackErr.Err {
	case "user_not_found", "users_not_found", "channel_not_found", "team_not_found":
		return true
	}
	return false
}

func isBotMessage(msg slack.Message) bool {
	if msg.BotID != "" {
		return true
	}
	if msg.SubType == slack.MsgSubTypeBotMessage {
		return true
	}
	if msg.SubType == slack.MsgSubTypeMessageChanged && msg.SubMessage != nil {
		return isBotMessage(slack.Message{Msg: *msg.SubMessage})
	}
	return false
}
