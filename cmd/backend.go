package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"github.com/ca-srg/lastmsg/internal/archive"
	"github.com/ca-srg/lastmsg/internal/channelfilter"
	appconfig "github.com/ca-srg/lastmsg/internal/config"
	"github.com/ca-srg/lastmsg/internal/latest"
	"github.com/ca-srg/lastmsg/internal/s3export"
	"github.com/ca-srg/lastmsg/internal/slackmessages"
	"github.com/ca-srg/lastmsg/internal/types"
)

// backend bundles the resolver and page source a search runs against, plus a cleanup hook.
type backend struct {
	resolver latest.Resolver
	source   latest.PageSource
	close    func() error
}

// openBackend builds the configured message backend and applies the channel filter, if any.
// logger receives the search trace; warnings of the Slack fetcher go to warnLogger.
func openBackend(ctx context.Context, cfg *types.Config, logger, warnLogger *log.Logger) (*backend, error) {
	var (
		b   latest.Backend
		err error
	)
	closeFn := func() error { return nil }

	switch cfg.Source {
	case types.SourceSlack:
		b = newSlackSource(slack.New(cfg.SlackBotToken), cfg, warnLogger)
	case types.SourceArchive:
		dbPath, pathErr := appconfig.ArchivePath(cfg)
		if pathErr != nil {
			return nil, pathErr
		}
		store, openErr := archive.Open(dbPath)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open archive: %w", openErr)
		}
		closeFn = store.Close
		b = archive.NewSource(store, cfg.PageSize)
	case types.SourceS3:
		b, err = s3export.New(ctx, s3export.Config{
			Bucket:   cfg.S3ExportBucket,
			Prefix:   cfg.S3ExportPrefix,
			Region:   cfg.S3ExportRegion,
			Endpoint: cfg.S3ExportEndpoint,
		}, s3export.WithPageSize(cfg.PageSize), s3export.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open S3 export: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported source %q", cfg.Source)
	}

	var resolver latest.Resolver = b
	if cfg.ChannelFilterPath != "" {
		filter, err := channelfilter.LoadConfig(cfg.ChannelFilterPath)
		if err != nil {
			_ = closeFn()
			return nil, err
		}
		logger.Printf("Applying channel filter from %s (include=%d exclude=%d)",
			cfg.ChannelFilterPath, len(filter.Channels.Include), len(filter.Channels.Exclude))
		resolver = channelfilter.Wrap(b, filter)
	}

	return &backend{resolver: resolver, source: b, close: closeFn}, nil
}

// newSlackSource wraps client in a rate limited fetcher whose retry warnings go to warnLogger.
func newSlackSource(client slackmessages.SlackAPI, cfg *types.Config, warnLogger *log.Logger) *slackmessages.Source {
	fetcher := slackmessages.NewMessageFetcher(client,
		slackmessages.WithRatePerMinute(cfg.SlackRatePerMinute),
		slackmessages.WithMaxRetries(cfg.SlackMaxRetries),
		slackmessages.WithLogger(warnLogger),
	)
	return slackmessages.NewSource(fetcher, cfg.PageSize)
}
