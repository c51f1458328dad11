package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/ca-srg/lastmsg/internal/archive"
	appconfig "github.com/ca-srg/lastmsg/internal/config"
	"github.com/ca-srg/lastmsg/internal/slackmessages"
	"github.com/ca-srg/lastmsg/internal/types"
)

var (
	syncChannels []string
	syncSince    time.Duration
	syncThreads  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy Slack history into the local archive",
	Long: `
Copy the workspace directory (team, channels, users) and channel history from
Slack into the SQLite archive so that "lastmsg find --source archive" can search
it offline. Messages already in the archive are updated in place.

Examples:
  # Archive the last 30 days of every channel the bot is a member of
  lastmsg sync --since 720h

  # Archive two channels including thread replies
  lastmsg sync --channel C0123 --channel C0456 --threads
`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringSliceVarP(&syncChannels, "channel", "c", nil, "Channel ID to archive (repeatable; default all member channels)")
	syncCmd.Flags().DurationVar(&syncSince, "since", 0, "Only archive messages newer than this duration (e.g. 168h)")
	syncCmd.Flags().BoolVar(&syncThreads, "threads", false, "Also archive thread replies")
}

// slackDirectory is the part of MessageFetcher the sync needs.
type slackDirectory interface {
	Team(ctx context.Context) (*slack.TeamInfo, error)
	MemberChannels(ctx context.Context, teamID string) ([]slack.Channel, error)
	Users(ctx context.Context) ([]slack.User, error)
	FetchMessages(ctx context.Context, cfg slackmessages.FetchConfig) ([]slackmessages.SlackMessage, error)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := appconfig.RequireSlackToken(cfg); err != nil {
		return err
	}

	dbPath, err := appconfig.ArchivePath(cfg)
	if err != nil {
		return err
	}
	store, err := archive.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = store.Close() }()

	logger := log.New(os.Stdout, "sync ", log.LstdFlags)
	fetcher := slackmessages.NewMessageFetcher(slack.New(cfg.SlackBotToken),
		slackmessages.WithRatePerMinute(cfg.SlackRatePerMinute),
		slackmessages.WithMaxRetries(cfg.SlackMaxRetries),
		slackmessages.WithLogger(logger),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var from *time.Time
	if syncSince > 0 {
		t := time.Now().Add(-syncSince)
		from = &t
	}

	counts, err := syncWorkspace(ctx, fetcher, store, syncChannels, from, syncThreads, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Archive %s now holds %d workspaces, %d channels, %d users, %d messages\n",
		dbPath, counts.Containers, counts.Channels, counts.Users, counts.Messages)
	return nil
}

// syncWorkspace copies the team directory and channel history into store.
func syncWorkspace(ctx context.Context, dir slackDirectory, store *archive.Store, channelIDs []string, from *time.Time, threads bool, logger *log.Logger) (archive.Counts, error) {
	team, err := dir.Team(ctx)
	if err != nil {
		return archive.Counts{}, fmt.Errorf("failed to get team info: %w", err)
	}
	container := types.Container{ID: team.ID, Name: team.Name}
	if err := store.SaveContainer(ctx, container); err != nil {
		return archive.Counts{}, err
	}

	members, err := dir.MemberChannels(ctx, team.ID)
	if err != nil {
		return archive.Counts{}, fmt.Errorf("failed to list channels: %w", err)
	}
	wanted := make(map[string]bool, len(channelIDs))
	for _, id := range channelIDs {
		wanted[id] = true
	}
	channels := make([]types.Channel, 0, len(members))
	ids := make([]string, 0, len(members))
	for _, ch := range members {
		if len(wanted) > 0 && !wanted[ch.ID] {
			continue
		}
		channels = append(channels, slackmessages.ToChannel(ch, team.ID))
		ids = append(ids, ch.ID)
	}
	if len(ids) == 0 {
		return archive.Counts{}, fmt.Errorf("no member channels to archive in %s", team.Name)
	}
	if err := store.SaveChannels(ctx, channels); err != nil {
		return archive.Counts{}, err
	}
	logger.Printf("Archiving %d channels of %s (%s)", len(channels), team.Name, team.ID)

	slackUsers, err := dir.Users(ctx)
	if err != nil {
		return archive.Counts{}, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]archive.User, 0, len(slackUsers))
	for _, u := range slackUsers {
		users = append(users, archive.User{
			ID:          u.ID,
			ContainerID: team.ID,
			Name:        u.Name,
			DisplayName: u.Profile.DisplayName,
			RealName:    u.RealName,
			Email:       u.Profile.Email,
		})
	}
	if err := store.SaveUsers(ctx, users); err != nil {
		return archive.Counts{}, err
	}

	fetched, err := dir.FetchMessages(ctx, slackmessages.FetchConfig{
		ChannelIDs:     ids,
		From:           from,
		IncludeThreads: threads,
	})
	if err != nil {
		return archive.Counts{}, fmt.Errorf("failed to fetch messages: %w", err)
	}
	messages := make([]types.Message, 0, len(fetched))
	for _, m := range fetched {
		messages = append(messages, m.ToMessage())
	}
	saved, err := store.SaveMessages(ctx, messages)
	if err != nil {
		return archive.Counts{}, err
	}
	logger.Printf("Saved %d messages", saved)

	return store.Counts(ctx)
}
