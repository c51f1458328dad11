package cmd

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/lastmsg/internal/archive"
	"github.com/ca-srg/lastmsg/internal/latest"
	"github.com/ca-srg/lastmsg/internal/slackmessages"
	"github.com/ca-srg/lastmsg/internal/types"
)

type fakeDirectory struct {
	teamErr  error
	channels []slack.Channel
	users    []slack.User
	messages []slackmessages.SlackMessage

	fetched slackmessages.FetchConfig
}

func (f *fakeDirectory) Team(context.Context) (*slack.TeamInfo, error) {
	if f.teamErr != nil {
		return nil, f.teamErr
	}
	return &slack.TeamInfo{ID: "T1", Name: "Acme", Domain: "acme"}, nil
}

func (f *fakeDirectory) MemberChannels(context.Context, string) ([]slack.Channel, error) {
	return f.channels, nil
}

func (f *fakeDirectory) Users(context.Context) ([]slack.User, error) {
	return f.users, nil
}

func (f *fakeDirectory) FetchMessages(_ context.Context, cfg slackmessages.FetchConfig) ([]slackmessages.SlackMessage, error) {
	f.fetched = cfg
	var out []slackmessages.SlackMessage
	for _, m := range f.messages {
		for _, id := range cfg.ChannelIDs {
			if m.ChannelID == id {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func slackChannel(id, name string) slack.Channel {
	var ch slack.Channel
	ch.ID = id
	ch.Name = name
	ch.IsMember = true
	return ch
}

func newFakeDirectory() *fakeDirectory {
	alice := slack.User{ID: "U1", Name: "alice", RealName: "Alice Anderson"}
	alice.Profile.DisplayName = "ali"
	alice.Profile.Email = "alice@example.com"

	return &fakeDirectory{
		channels: []slack.Channel{slackChannel("C1", "general"), slackChannel("C2", "random")},
		users:    []slack.User{alice, {ID: "U2", Name: "bob"}},
		messages: []slackmessages.SlackMessage{
			{ChannelID: "C1", UserID: "U1", Text: "first", Timestamp: "1759300000.000100"},
			{ChannelID: "C1", UserID: "U2", Text: "reply", Timestamp: "1759300100.000100"},
			{ChannelID: "C2", UserID: "U1", Text: "newest", Timestamp: "1759300200.000100"},
		},
	}
}

func TestSyncWorkspace(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()
	logger := log.New(io.Discard, "", 0)
	dir := newFakeDirectory()

	counts, err := syncWorkspace(context.Background(), dir, store, nil, nil, true, logger)
	require.NoError(t, err)
	assert.Equal(t, archive.Counts{Containers: 1, Channels: 2, Users: 2, Messages: 3}, counts)
	assert.Equal(t, []string{"C1", "C2"}, dir.fetched.ChannelIDs)
	assert.True(t, dir.fetched.IncludeThreads)

	// The archive now answers searches by email.
	source := archive.NewSource(store, 1)
	res, err := latest.NewFinder(source, source, latest.Options{Logger: log.New(io.Discard, "", 0)}).
		Find(context.Background(), "acme", "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, res.Message)
	assert.Equal(t, "C2", res.Message.ChannelID)
	assert.Equal(t, "newest", res.Message.Text)
}

func TestSyncWorkspaceSelectedChannels(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()
	dir := newFakeDirectory()

	counts, err := syncWorkspace(context.Background(), dir, store, []string{"C1"}, nil, false, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Channels)
	assert.Equal(t, int64(2), counts.Messages)

	channels, err := store.Channels(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, []types.Channel{{ID: "C1", Name: "general", ContainerID: "T1"}}, channels)

	_, err = syncWorkspace(context.Background(), dir, store, []string{"C404"}, nil, false, log.New(io.Discard, "", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no member channels")
}

func TestSyncWorkspaceTeamFailure(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()

	boom := errors.New("invalid_auth")
	_, err = syncWorkspace(context.Background(), &fakeDirectory{teamErr: boom}, store, nil, nil, false, log.New(io.Discard, "", 0))
	assert.ErrorIs(t, err, boom)
}

func TestSyncWorkspaceChannelEvents(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()
	dir := newFakeDirectory()
	dir.messages = append(dir.messages, slackmessages.SlackMessage{
		ChannelID: "C1", UserID: "U1", SubType: slack.MsgSubTypeChannelJoin,
		Text: "<@U1> has joined the channel", Timestamp: "1759300300.000100",
	})

	counts, err := syncWorkspace(context.Background(), dir, store, nil, nil, false, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts.Messages)

	page, err := store.Page(context.Background(), "C1", "", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "1759300300.000100", page[0].ID)
	assert.Empty(t, page[0].AuthorID)

	source := archive.NewSource(store, 1)
	got, err := latest.FindLatestMessageByUser(context.Background(), source, []types.Channel{
		{ID: "C1", ContainerID: "T1"}, {ID: "C2", ContainerID: "T1"},
	}, "U1", latest.Options{Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "C2", got.ChannelID)
	assert.Equal(t, "newest", got.Text)
}
