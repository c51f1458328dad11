package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	appconfig "github.com/ca-srg/lastmsg/internal/config"
	"github.com/ca-srg/lastmsg/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many searches were run per source and outcome",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	// Only the stats path is needed; a missing Slack token must not block this command.
	statsPath, err := appconfig.StatsPath(&appconfig.Config{StatsPath: statsPathFromEnv()})
	if err != nil {
		return err
	}
	store, err := metrics.NewStoreWithPath(statsPath)
	if err != nil {
		return fmt.Errorf("failed to open stats: %w", err)
	}
	defer func() { _ = store.Close() }()

	return printStats(store, statsPath, time.Now())
}

// printStats lists totals per source and outcome with the count for the day of now,
// followed by a subtotal per source.
func printStats(store *metrics.Store, statsPath string, now time.Time) error {
	totals, err := store.GetAllTotals()
	if err != nil {
		return err
	}

	fmt.Printf("Search stats (%s)\n", statsPath)
	if len(totals) == 0 {
		fmt.Println("  no searches recorded")
		return nil
	}

	keys := make([]metrics.Key, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Outcome < keys[j].Outcome
	})

	today := metrics.Date(now)
	var sum int64
	for i, k := range keys {
		daily, err := store.GetCountByDate(k.Source, k.Outcome, today)
		if err != nil {
			return err
		}
		fmt.Printf("  %-8s %-11s %d (today %d)\n", k.Source, k.Outcome, totals[k], daily)
		sum += totals[k]

		if i == len(keys)-1 || keys[i+1].Source != k.Source {
			subtotal, err := store.GetTotalBySource(k.Source)
			if err != nil {
				return err
			}
			fmt.Printf("  %-8s %-11s %d\n", k.Source, "all", subtotal)
		}
	}
	fmt.Printf("  %-20s %d\n", "total", sum)
	return nil
}

func statsPathFromEnv() string {
	return os.Getenv("LASTMSG_STATS_PATH")
}
