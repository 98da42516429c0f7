package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/parley/internal/chat/interceptors"
	"github.com/user/parley/internal/storage/sqlite"
	"github.com/user/parley/internal/types"
)

var usageFlags struct {
	user  string
	group string
	month string
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().StringVar(&usageFlags.user, "user", "", "only count this user")
	usageCmd.Flags().StringVar(&usageFlags.group, "group", "", "only count this user group")
	usageCmd.Flags().StringVar(&usageFlags.month, "month", "", "month to report as YYYY-MM (default: current)")
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage per model for a month",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		from, err := monthStart(usageFlags.month, time.Now())
		if err != nil {
			return err
		}

		store, err := sqlite.Open(cfg.UsageDatabase())
		if err != nil {
			return err
		}
		defer store.Close()

		totals, err := store.Totals(context.Background(), types.UsageFilter{
			Counter:   interceptors.TokenCounter,
			From:      from,
			To:        from.AddDate(0, 1, 0),
			UserGroup: usageFlags.group,
			UserID:    usageFlags.user,
		})
		if err != nil {
			return err
		}
		if len(totals) == 0 {
			fmt.Printf("No usage recorded for %s.\n", from.Format("2006-01"))
			return nil
		}

		var sum int64
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LLM\tMODEL\tTOKENS")
		for _, t := range totals {
			fmt.Fprintf(w, "%s\t%s\t%d\n", t.Key, t.SubKey, t.Count)
			sum += t.Count
		}
		fmt.Fprintf(w, "\t\t%d\n", sum)
		return w.Flush()
	},
}

// monthStart parses YYYY-MM in local time. Empty means the month of now.
func monthStart(month string, now time.Time) (time.Time, error) {
	if month == "" {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), nil
	}
	t, err := time.ParseInLocation("2006-01", month, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, want YYYY-MM", month)
	}
	return t, nil
}
