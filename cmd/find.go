package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	appconfig "github.com/ca-srg/lastmsg/internal/config"
	"github.com/ca-srg/lastmsg/internal/latest"
	"github.com/ca-srg/lastmsg/internal/metrics"
	"github.com/ca-srg/lastmsg/internal/observability"
	"github.com/ca-srg/lastmsg/internal/types"
)

var (
	findWorkspace string
	findUser      string
	findSource    string
	findLog       bool
	findStrict    bool
	findJSON      bool
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Find the latest message a user posted in a workspace",
	Long: `
Find the most recent message authored by a user in any channel of a workspace.

The user may be given as an ID, a user name, a display name, a real name or an
email address. The workspace is matched by ID, name or domain; leave it empty
to use the only workspace the source knows about.

Examples:
  # Search Slack live
  lastmsg find --user alice --workspace acme

  # Search the local archive and print the search trace
  lastmsg find --user U0123ABCD --source archive --log

  # Search a Slack export in S3 and print JSON
  lastmsg find --user alice@example.com --source s3 --json
`,
	RunE: runFind,
}

func init() {
	findCmd.Flags().StringVarP(&findWorkspace, "workspace", "w", "", "Workspace (team) ID, name or domain")
	findCmd.Flags().StringVarP(&findUser, "user", "u", "", "User ID, name or email (required)")
	findCmd.Flags().StringVarP(&findSource, "source", "s", "", "Message source: slack|archive|s3 (overrides LASTMSG_SOURCE)")
	findCmd.Flags().BoolVar(&findLog, "log", false, "Print the search trace to stderr")
	findCmd.Flags().BoolVar(&findStrict, "strict", false, "Fail when the user or workspace cannot be resolved")
	findCmd.Flags().BoolVarP(&findJSON, "json", "j", false, "Output the result in JSON format")

	_ = findCmd.MarkFlagRequired("user")
}

// ResetFindState restores flag variables to their defaults.
func ResetFindState() {
	findWorkspace = ""
	findUser = ""
	findSource = ""
	findLog = false
	findStrict = false
	findJSON = false
}

func runFind(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.LoadForSource(findSource)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdown, err := observability.Init(ctx, cfg)
	if err != nil {
		log.Printf("Warning: OpenTelemetry disabled: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if statsPath, err := appconfig.StatsPath(cfg); err != nil {
		log.Printf("Warning: search stats disabled: %v", err)
	} else if err := metrics.Init(statsPath); err == nil {
		_ = metrics.InitOTelMetrics()
		defer func() { _ = metrics.Close() }()
	}

	if cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SearchTimeout)
		defer cancel()
	}

	traceOut := io.Discard
	if findLog {
		traceOut = os.Stderr
	}
	logger := log.New(traceOut, "lastmsg ", log.LstdFlags)

	// Fetcher warnings are operational and go to stderr even without --log.
	b, err := openBackend(ctx, cfg, logger, log.New(os.Stderr, "slack-fetcher ", log.LstdFlags))
	if err != nil {
		metrics.RecordSearch(cfg.Source, metrics.OutcomeFailed)
		return err
	}
	defer func() { _ = b.close() }()

	finder := latest.NewFinder(b.resolver, b.source, latest.Options{
		Logging:     findLog,
		Logger:      logger,
		Concurrency: cfg.Concurrency,
		Strict:      findStrict,
	})

	start := time.Now()
	res, err := finder.Find(ctx, findWorkspace, findUser)
	metrics.RecordSearch(cfg.Source, searchOutcome(res, err))
	if err != nil {
		if latest.IsResolutionError(err) {
			return fmt.Errorf("lookup failed: %w", err)
		}
		return fmt.Errorf("search failed: %w", err)
	}

	return outputFindResult(res, cfg.Source, time.Since(start))
}

// searchOutcome maps a search result to the label recorded in the stats store.
func searchOutcome(res *latest.Result, err error) metrics.Outcome {
	var resErr *latest.ResolutionError
	switch {
	case errors.As(err, &resErr):
		return metrics.OutcomeUnresolved
	case err != nil:
		return metrics.OutcomeFailed
	case res == nil:
		return metrics.OutcomeFailed
	case res.Outcome == latest.OutcomeUnresolved:
		return metrics.OutcomeUnresolved
	case res.Message == nil:
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeFound
	}
}

func outputFindResult(res *latest.Result, source types.Source, elapsed time.Duration) error {
	if findJSON {
		payload := struct {
			Source string `json:"source"`
			*latest.Result
			ElapsedMS int64 `json:"elapsed_ms"`
		}{
			Source:    string(source),
			Result:    res,
			ElapsedMS: elapsed.Milliseconds(),
		}
		jsonOutput, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Println(string(jsonOutput))
		return nil
	}

	switch {
	case res.Outcome == latest.OutcomeUnresolved:
		fmt.Printf("Could not resolve user %q in workspace %q\n", findUser, findWorkspace)
	case res.Message == nil:
		fmt.Printf("No messages by %s found (%s)\n", findUser, source)
	default:
		msg := res.Message
		fmt.Printf("Latest message by %s\n", findUser)
		fmt.Printf("  Channel: %s\n", msg.ChannelID)
		fmt.Printf("  Message: %s\n", msg.ID)
		fmt.Printf("  Posted:  %s\n", msg.CreatedAt.Local().Format(time.RFC3339))
		if text := strings.TrimSpace(msg.Text); text != "" {
			fmt.Printf("  Text:    %s\n", truncate(text, 200))
		}
	}

	fmt.Printf("\nRounds: %d, pages: %d, channels: %d (%d pruned), took %s\n",
		res.Rounds, res.PagesFetched, res.ChannelsSeeded, res.ChannelsPruned, elapsed.Round(time.Millisecond))
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
