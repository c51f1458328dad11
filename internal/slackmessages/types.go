package slackmessages

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/ca-srg/lastmsg/internal/types"
)

// SlackMessage is a Slack message reduced to what the search and the archive keep.
type SlackMessage struct {
	ChannelID string
	UserID    string
	BotID     string
	SubType   string
	Text      string
	Timestamp string
}

// FetchConfig defines configuration parameters when fetching Slack messages.
type FetchConfig struct {
	ChannelIDs     []string
	From           *time.Time
	To             *time.Time
	IncludeThreads bool
	ExcludeBots    bool
	PageSize       int
	Limit          int
}

// IsPost reports whether a message subtype is something a person or integration wrote.
// Join/leave notices, topic changes and other channel events are not.
func IsPost(subType string) bool {
	switch subType {
	case "", slack.MsgSubTypeFileShare, slack.MsgSubTypeThreadBroadcast, slack.MsgSubTypeBotMessage:
		return true
	default:
		return false
	}
}

// AuthorID returns the user that posted the message, falling back to the bot ID for
// integrations that post without a user. Channel events have no author.
func (m SlackMessage) AuthorID() string {
	if !IsPost(m.SubType) {
		return ""
	}
	if m.UserID != "" {
		return m.UserID
	}
	return m.BotID
}

// EventTime converts the Slack timestamp into time.Time. Invalid timestamps return the zero time.
func (m SlackMessage) EventTime() time.Time {
	return ParseTimestamp(m.Timestamp)
}

// ToMessage converts the Slack message into the ordering-relevant Message. The Slack
// timestamp doubles as the message ID since it is unique within a channel. Channel
// events keep their place in the page but never match an author.
func (m SlackMessage) ToMessage() types.Message {
	return types.Message{
		ID:        m.Timestamp,
		ChannelID: m.ChannelID,
		AuthorID:  m.AuthorID(),
		CreatedAt: m.EventTime(),
		Text:      m.Text,
	}
}

// ParseTimestamp converts a Slack "seconds.micros" timestamp into time.Time. Invalid
// timestamps return the zero time.
func ParseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}

	parts := strings.Split(ts, ".")
	sec, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return time.Time{}
	}

	var nsec int64
	if len(parts) > 1 {
		// Slack uses microseconds in the fractional component.
		frac := parts[1]
		if len(frac) > 9 {
			frac = frac[:9]
		}
		for len(frac) < 9 {
			frac += "0"
		}

		nsec, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			nsec = 0
		}
	}

	return time.Unix(sec, nsec).UTC()
}

// FormatTimestamp renders t the way Slack expects in oldest/latest parameters.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
