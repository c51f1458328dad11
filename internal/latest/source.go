package latest

import (
	"context"
	"errors"

	"github.com/ca-srg/lastmsg/internal/types"
)

// ErrNotFound is returned by a Resolver when an identifier does not map to anything.
var ErrNotFound = errors.New("not found")

// PageSource supplies pages of one channel's messages, newest pages first.
type PageSource interface {
	// CurrentPage returns messages already held locally for the channel. It must not
	// perform network or disk I/O that can fail; an empty result means nothing is cached.
	CurrentPage(channel types.Channel) []types.Message

	// FetchOlder returns the next page of messages strictly older than the message
	// beforeID, or the newest page when beforeID is empty. An empty page means the
	// channel has no older messages.
	FetchOlder(ctx context.Context, channel types.Channel, beforeID string) ([]types.Message, error)
}

// Resolver maps caller supplied identifiers to concrete users, containers and channels.
type Resolver interface {
	ResolveUser(ctx context.Context, identifier string) (string, error)
	ResolveContainer(ctx context.Context, identifier string) (types.Container, error)
	ListChannels(ctx context.Context, container types.Container) ([]types.Channel, error)
}

// Backend is a message store that can both resolve identifiers and serve pages.
type Backend interface {
	Resolver
	PageSource
}
