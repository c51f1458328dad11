package slackmessages

import (
	"context"
	"testing"

	"github.com/ca-srg/lastmsg/internal/latest"
	"github.com/ca-srg/lastmsg/internal/types"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_FetchOlderCachesNewestPage(t *testing.T) {
	var latests []string
	mock := &mockSlackAPI{
		historyFunc: func(params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
			latests = append(latests, params.Latest)
			if params.Latest != "" {
				return &slack.GetConversationHistoryResponse{}, nil
			}
			return &slack.GetConversationHistoryResponse{
				Messages: []slack.Message{
					{Msg: slack.Msg{User: "U1", Text: "newest", Timestamp: "1700000002.000100"}},
					{Msg: slack.Msg{BotID: "B1", SubType: slack.MsgSubTypeBotMessage, Text: "deploy", Timestamp: "1700000001.000100"}},
				},
			}, nil
		},
	}

	source := NewSource(newTestFetcher(mock), 2)
	channel := types.Channel{ID: "C1"}
	assert.Empty(t, source.CurrentPage(channel))

	page, err := source.FetchOlder(context.Background(), channel, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "1700000002.000100", page[0].ID)
	assert.Equal(t, "C1", page[0].ChannelID)
	assert.Equal(t, "U1", page[0].AuthorID)
	assert.Equal(t, "B1", page[1].AuthorID)
	assert.True(t, page[0].Newer(&page[1]))

	assert.Equal(t, page, source.CurrentPage(channel))

	older, err := source.FetchOlder(context.Background(), channel, page[1].ID)
	require.NoError(t, err)
	assert.Empty(t, older)
	assert.Equal(t, page, source.CurrentPage(channel), "older pages must not replace the cached newest page")
	assert.Equal(t, []string{"", "1700000001.000100"}, latests)
}

func TestSource_ChannelEventsNeverMatch(t *testing.T) {
	mock := &mockSlackAPI{
		historyFunc: func(params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
			if params.Latest != "" {
				return &slack.GetConversationHistoryResponse{}, nil
			}
			return &slack.GetConversationHistoryResponse{
				Messages: []slack.Message{
					{Msg: slack.Msg{User: "U1", SubType: slack.MsgSubTypeChannelJoin, Text: "<@U1> has joined the channel", Timestamp: "1700000003.000100"}},
					{Msg: slack.Msg{User: "U1", SubType: slack.MsgSubTypeFileShare, Text: "report.pdf", Timestamp: "1700000002.000100"}},
					{Msg: slack.Msg{User: "U1", Text: "real post", Timestamp: "1700000001.000100"}},
				},
			}, nil
		},
	}
	source := NewSource(newTestFetcher(mock), 3)
	channel := types.Channel{ID: "C1"}

	page, err := source.FetchOlder(context.Background(), channel, "")
	require.NoError(t, err)
	require.Len(t, page, 3, "channel events stay in the page so pagination still advances")
	assert.Empty(t, page[0].AuthorID)
	assert.Equal(t, "U1", page[1].AuthorID)

	got, err := latest.FindLatestMessageByUser(context.Background(), source, []types.Channel{channel}, "U1", latest.Options{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1700000002.000100", got.ID)
}

func TestSource_ResolveUser(t *testing.T) {
	mock := &mockSlackAPI{
		userInfoFunc: func(userID string) (*slack.User, error) {
			if userID == "U0000MISSING" {
				return nil, slack.SlackErrorResponse{Err: "user_not_found"}
			}
			return &slack.User{ID: userID}, nil
		},
		userByEmailFunc: func(email string) (*slack.User, error) {
			if email == "alice@example.com" {
				return &slack.User{ID: "U0ALICE000"}, nil
			}
			return nil, slack.SlackErrorResponse{Err: "users_not_found"}
		},
		usersFunc: func() ([]slack.User, error) {
			return []slack.User{
				{ID: "U0GONE0000", Name: "bob", Deleted: true},
				{ID: "U0BOB00000", Name: "bob"},
				{ID: "U0CAROL000", Name: "c.smith", RealName: "Carol Smith", Profile: slack.UserProfile{DisplayName: "carol"}},
			}, nil
		},
	}
	source := NewSource(newTestFetcher(mock), 10)
	ctx := context.Background()

	testcases := []struct {
		identifier string
		want       string
		notFound   bool
	}{
		{identifier: "U0123ABCD", want: "U0123ABCD"},
		{identifier: "<not-an-id>", notFound: true},
		{identifier: "U0000MISSING", notFound: true},
		{identifier: "alice@example.com", want: "U0ALICE000"},
		{identifier: "nobody@example.com", notFound: true},
		{identifier: "@bob", want: "U0BOB00000"},
		{identifier: "Carol", want: "U0CAROL000"},
		{identifier: "carol smith", want: "U0CAROL000"},
		{identifier: "  ", notFound: true},
	}

	for _, tt := range testcases {
		t.Run(tt.identifier, func(t *testing.T) {
			got, err := source.ResolveUser(ctx, tt.identifier)
			if tt.notFound {
				assert.ErrorIs(t, err, latest.ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSource_ResolveContainer(t *testing.T) {
	mock := &mockSlackAPI{
		teamInfoFunc: func() (*slack.TeamInfo, error) {
			return &slack.TeamInfo{ID: "T123", Name: "Acme", Domain: "acme-corp"}, nil
		},
	}
	source := NewSource(newTestFetcher(mock), 10)

	for _, ref := range []string{"", "T123", "acme", "ACME-CORP"} {
		container, err := source.ResolveContainer(context.Background(), ref)
		require.NoError(t, err, ref)
		assert.Equal(t, types.Container{ID: "T123", Name: "Acme"}, container)
	}

	_, err := source.ResolveContainer(context.Background(), "T999")
	assert.ErrorIs(t, err, latest.ErrNotFound)
}

func TestSource_ListChannels(t *testing.T) {
	mock := &mockSlackAPI{
		conversationsFunc: func(params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
			return []slack.Channel{
				newChannel("C1", "general"),
				notMember(newChannel("C2", "secret")),
			}, "", nil
		},
	}
	source := NewSource(newTestFetcher(mock), 10)

	channels, err := source.ListChannels(context.Background(), types.Container{ID: "T123"})
	require.NoError(t, err)
	assert.Equal(t, []types.Channel{{ID: "C1", Name: "general", ContainerID: "T123"}}, channels)
}

func TestSource_SearchAgainstSlack(t *testing.T) {
	history := map[string][]slack.Message{
		"C1": {
			{Msg: slack.Msg{User: "U2", Timestamp: "1700000300.000000"}},
			{Msg: slack.Msg{User: "U1", Timestamp: "1700000100.000000"}},
		},
		"C2": {
			{Msg: slack.Msg{User: "U1", Timestamp: "1700000200.000000"}},
		},
	}
	mock := &mockSlackAPI{
		historyFunc: func(params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
			var page []slack.Message
			for _, m := range history[params.ChannelID] {
				if params.Latest == "" || m.Timestamp < params.Latest {
					page = append(page, m)
				}
			}
			if len(page) > params.Limit {
				page = page[:params.Limit]
			}
			return &slack.GetConversationHistoryResponse{Messages: page}, nil
		},
	}
	source := NewSource(newTestFetcher(mock), 1)

	got, err := latest.FindLatestMessageByUser(context.Background(), source,
		[]types.Channel{{ID: "C1"}, {ID: "C2"}}, "U1", latest.Options{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "C2", got.ChannelID)
	assert.Equal(t, "1700000200.000000", got.ID)
}
